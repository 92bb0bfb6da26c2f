package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHTMLParserStripsTagsAndScripts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	html := `<html><head><title>My Page</title><style>body{color:red}</style></head>
<body><script>alert('x')</script><h1>Heading</h1><p>Some paragraph text.</p></body></html>`
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &HTMLParser{}
	doc, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if doc.Title != "My Page" {
		t.Errorf("Title = %q, want %q", doc.Title, "My Page")
	}
	if strings.Contains(doc.Text, "alert") {
		t.Error("script contents leaked into extracted text")
	}
	if strings.Contains(doc.Text, "color:red") {
		t.Error("style contents leaked into extracted text")
	}
	if !strings.Contains(doc.Text, "Heading") || !strings.Contains(doc.Text, "Some paragraph text.") {
		t.Errorf("expected body text preserved, got %q", doc.Text)
	}
}

func TestHTMLParserEmptyBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.html")
	if err := os.WriteFile(path, []byte("<html><head><style>x{}</style></head><body></body></html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &HTMLParser{}
	if _, err := p.Parse(context.Background(), path); err == nil {
		t.Error("expected error for HTML with no extractable text")
	}
}

func TestNormalizeWhitespaceCollapsesBlankLines(t *testing.T) {
	in := "line one\n\n\n\nline two\n   \nline three"
	out := normalizeWhitespace(in)
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("expected blank line runs collapsed, got %q", out)
	}
}
