// Package validate turns raw model output into a validated curricular page
// artifact, or a classified validation error.
//
// Everything between raw text and validated artifact is treated as an opaque
// string; the JSON structure is only trusted after schema validation.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/curricular_page.schema.json
var schemaFS embed.FS

// Kind classifies a validation failure.
type Kind string

const (
	KindJSONDecode      Kind = "json_decode_error"
	KindSchema          Kind = "schema_validation_error"
	KindMissingResponse Kind = "missing_response"
	KindOther           Kind = "other"
)

// Error describes why raw output could not be accepted, preserving the text
// extracted along the way for offline analysis.
type Error struct {
	Kind          Kind
	Message       string
	ExtractedText string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Artifact is the validated output written to the output root.
type Artifact struct {
	// JSON is the canonical serialized form, ready to write.
	JSON []byte
}

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func schema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		data, err := schemaFS.ReadFile("schemas/curricular_page.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("read embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("curricular_page.schema.json", bytes.NewReader(data)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("curricular_page.schema.json")
	})
	return compiled, compileErr
}

// Validate checks raw model output and returns the artifact to persist.
// A nil *Error means success.
func Validate(raw string) (*Artifact, *Error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &Error{Kind: KindMissingResponse, Message: "empty model response"}
	}

	extracted := extractJSON(raw)

	var doc any
	if err := json.Unmarshal([]byte(extracted), &doc); err != nil {
		return nil, &Error{
			Kind:          KindJSONDecode,
			Message:       err.Error(),
			ExtractedText: extracted,
		}
	}

	s, err := schema()
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: err.Error(), ExtractedText: extracted}
	}
	if err := s.Validate(doc); err != nil {
		return nil, &Error{
			Kind:          KindSchema,
			Message:       err.Error(),
			ExtractedText: extracted,
		}
	}

	// Re-serialize so the written artifact is canonical regardless of the
	// model's whitespace.
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: err.Error(), ExtractedText: extracted}
	}
	return &Artifact{JSON: append(out, '\n')}, nil
}

// extractJSON strips markdown code fences and surrounding prose, returning
// the best JSON candidate in the text.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Fenced block wins when present.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	// Otherwise take the outermost object literal.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
