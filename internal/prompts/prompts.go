// Package prompts manages the OCR prompt templates.
//
// Embedded .tmpl files are the source of truth for defaults; a configured
// registry directory can override them by name. Templates are rendered per
// record with the page's label content and, when the page has a predecessor,
// the predecessor's transcribed text.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Vars are the values available to a prompt template.
type Vars struct {
	State     string
	School    string
	Year      int
	Page      int
	Label     string
	PriorText string
}

// Prompt is a named, parsed template ready to render.
type Prompt struct {
	Name string
	Text string
	tmpl *template.Template
}

// Load resolves a prompt by name. Resolution order: an explicit template
// file, then <registryDir>/<name>.tmpl, then the embedded default.
func Load(name, registryDir, templateFile string) (*Prompt, error) {
	if name == "" {
		name = "ocr_page"
	}

	if templateFile != "" {
		data, err := os.ReadFile(templateFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt template %s: %w", templateFile, err)
		}
		return parse(name, string(data))
	}

	if registryDir != "" {
		path := filepath.Join(registryDir, name+".tmpl")
		if data, err := os.ReadFile(path); err == nil {
			return parse(name, string(data))
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read prompt registry %s: %w", path, err)
		}
	}

	data, err := templateFS.ReadFile("templates/" + name + ".tmpl")
	if err != nil {
		return nil, fmt.Errorf("no embedded prompt %q: %w", name, err)
	}
	return parse(name, string(data))
}

func parse(name, text string) (*Prompt, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %q: %w", name, err)
	}
	return &Prompt{Name: name, Text: text, tmpl: tmpl}, nil
}

// Render fills the template with a record's variables.
func (p *Prompt) Render(vars Vars) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", p.Name, err)
	}
	return buf.String(), nil
}
