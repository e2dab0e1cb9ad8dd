package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitFrontmatter_NoFence(t *testing.T) {
	meta, body := splitFrontmatter("Just a prompt body.\nSecond line.")
	if meta.Name != "" || meta.Description != "" {
		t.Errorf("expected empty meta, got %+v", meta)
	}
	if body != "Just a prompt body.\nSecond line." {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestSplitFrontmatter_ValidYAML(t *testing.T) {
	content := "---\nname: Opal\ndescription: a careful assistant\n---\nBe concise.\n"
	meta, body := splitFrontmatter(content)
	if meta.Name != "Opal" {
		t.Errorf("name = %q", meta.Name)
	}
	if meta.Description != "a careful assistant" {
		t.Errorf("description = %q", meta.Description)
	}
	if body != "Be concise." {
		t.Errorf("body = %q", body)
	}
}

func TestSplitFrontmatter_MalformedYAML(t *testing.T) {
	content := "---\nname: [unclosed\n---\nBody text.\n"
	meta, body := splitFrontmatter(content)
	if meta.Name != "" {
		t.Errorf("malformed YAML must yield empty meta, got %+v", meta)
	}
	if !strings.Contains(body, "Body text.") {
		t.Errorf("whole file must become body, got %q", body)
	}
}

func TestSplitFrontmatter_UnterminatedFence(t *testing.T) {
	content := "---\nname: Opal\nno closing fence here\n"
	_, body := splitFrontmatter(content)
	if !strings.Contains(body, "no closing fence here") {
		t.Errorf("unterminated fence must fall back to body, got %q", body)
	}
}

func TestLoadPersona_MissingFile(t *testing.T) {
	got := loadPersona(t.TempDir(), "main")
	if !strings.Contains(got, "You are main") {
		t.Errorf("expected default prompt naming the agent, got %q", got)
	}
}

func TestLoadPersona_WithIdentityFile(t *testing.T) {
	dir := t.TempDir()
	content := "---\nname: Opal\ndescription: keeps notes tidy\n---\nAlways answer briefly.\n"
	if err := os.WriteFile(filepath.Join(dir, "IDENTITY.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got := loadPersona(dir, "main")
	if !strings.HasPrefix(got, "You are Opal.") {
		t.Errorf("expected frontmatter name in prompt, got %q", got)
	}
	if !strings.Contains(got, "keeps notes tidy") {
		t.Errorf("description missing: %q", got)
	}
	if !strings.Contains(got, "Always answer briefly.") {
		t.Errorf("body missing: %q", got)
	}
}
