package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEmbeddedDefault(t *testing.T) {
	p, err := Load("ocr_page", "", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "ocr_page" {
		t.Errorf("name = %q", p.Name)
	}

	out, err := p.Render(Vars{
		State: "AL", School: "Howard", Year: 1849, Page: 2,
		Label:     `{"kind":"course_listing"}`,
		PriorText: "previous page text",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"AL", "Howard", "1849", "page 2", "course_listing", "previous page text"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
}

func TestRenderWithoutPriorText(t *testing.T) {
	p, err := Load("ocr_page", "", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out, err := p.Render(Vars{State: "AL", School: "Howard", Year: 1849, Page: 1, Label: "{}"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(out, "preceding page") {
		t.Error("prior-text section rendered for a first page")
	}
}

func TestRegistryDirOverride(t *testing.T) {
	dir := t.TempDir()
	custom := "custom prompt for {{.State}} page {{.Page}}"
	if err := os.WriteFile(filepath.Join(dir, "ocr_page.tmpl"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load("ocr_page", dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out, err := p.Render(Vars{State: "CA", Page: 4})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "custom prompt for CA page 4" {
		t.Errorf("got %q", out)
	}
}

func TestExplicitTemplateFileWins(t *testing.T) {
	dir := t.TempDir()
	regDir := filepath.Join(dir, "registry")
	if err := os.MkdirAll(regDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(regDir, "ocr_page.tmpl"), []byte("registry"), 0o644); err != nil {
		t.Fatal(err)
	}
	explicit := filepath.Join(dir, "explicit.tmpl")
	if err := os.WriteFile(explicit, []byte("explicit"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load("ocr_page", regDir, explicit)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Text != "explicit" {
		t.Errorf("text = %q, want explicit file to win", p.Text)
	}
}

func TestLoadUnknownPrompt(t *testing.T) {
	if _, err := Load("does_not_exist", "", ""); err == nil {
		t.Error("expected error for unknown prompt name")
	}
}
