package validate

import (
	"encoding/json"
	"strings"
	"testing"
)

const goodPage = `{
	"page_text": "LATIN I. Grammar and composition.",
	"curriculum_entries": [
		{"subject": "Latin", "code": "L1", "description": "Grammar and composition"}
	]
}`

func TestValidateAccepts(t *testing.T) {
	art, verr := Validate(goodPage)
	if verr != nil {
		t.Fatalf("Validate: %v", verr)
	}

	var doc map[string]any
	if err := json.Unmarshal(art.JSON, &doc); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if doc["page_text"] != "LATIN I. Grammar and composition." {
		t.Errorf("page_text = %v", doc["page_text"])
	}
}

func TestValidateStripsCodeFences(t *testing.T) {
	raw := "Here is the result:\n```json\n" + goodPage + "\n```\nDone."
	if _, verr := Validate(raw); verr != nil {
		t.Fatalf("fenced response rejected: %v", verr)
	}
}

func TestValidateExtractsBareObject(t *testing.T) {
	raw := "Sure! " + goodPage + " Hope that helps."
	if _, verr := Validate(raw); verr != nil {
		t.Fatalf("prose-wrapped response rejected: %v", verr)
	}
}

func TestValidateMissingResponse(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t"} {
		_, verr := Validate(raw)
		if verr == nil || verr.Kind != KindMissingResponse {
			t.Errorf("Validate(%q) kind = %v, want missing_response", raw, verr)
		}
	}
}

func TestValidateJSONDecodeError(t *testing.T) {
	_, verr := Validate(`{"page_text": "unterminated`)
	if verr == nil || verr.Kind != KindJSONDecode {
		t.Fatalf("kind = %v, want json_decode_error", verr)
	}
	if verr.ExtractedText == "" {
		t.Error("extracted text not preserved")
	}
}

func TestValidateSchemaError(t *testing.T) {
	cases := map[string]string{
		"missing entries":  `{"page_text": "text"}`,
		"wrong entry type": `{"page_text": "t", "curriculum_entries": ["not an object"]}`,
		"missing subject":  `{"page_text": "t", "curriculum_entries": [{"description": "d"}]}`,
		"empty subject":    `{"page_text": "t", "curriculum_entries": [{"subject": "", "description": "d"}]}`,
		"extra field":      `{"page_text": "t", "curriculum_entries": [], "surprise": 1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, verr := Validate(raw)
			if verr == nil || verr.Kind != KindSchema {
				t.Fatalf("kind = %v, want schema_validation_error", verr)
			}
			if !strings.Contains(verr.ExtractedText, "{") {
				t.Error("extracted text not preserved")
			}
		})
	}
}
