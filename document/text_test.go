package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTextParserParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("# Title\n\nSome body text."), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &TextParser{}
	doc, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Kind != KindText {
		t.Errorf("expected KindText, got %v", doc.Sections[0].Kind)
	}
	if doc.Method != "native" {
		t.Errorf("expected method native, got %q", doc.Method)
	}
}

func TestTextParserEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("   \n\n  "), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &TextParser{}
	doc, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(doc.Sections) != 0 {
		t.Errorf("expected no sections for blank file, got %d", len(doc.Sections))
	}
}

func TestTextParserInvalidUTF8Repaired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	data := append([]byte("valid prefix "), 0xff, 0xfe)
	data = append(data, []byte(" valid suffix")...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	p := &TextParser{}
	doc, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(doc.Sections))
	}
}

func TestTextParserSupportedFormats(t *testing.T) {
	p := &TextParser{}
	formats := p.SupportedFormats()
	want := map[string]bool{"txt": true, "md": true, "go": true, "json": true}
	got := make(map[string]bool)
	for _, f := range formats {
		got[f] = true
	}
	for f := range want {
		if !got[f] {
			t.Errorf("expected SupportedFormats to include %q", f)
		}
	}
}
