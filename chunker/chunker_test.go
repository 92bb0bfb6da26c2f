package chunker

import (
	"strings"
	"testing"

	"github.com/bbiangul/ragcore/document"
)

func TestChunkSimpleSection(t *testing.T) {
	c := New(Config{MaxTokens: 512, Overlap: 64})
	sections := []document.Section{
		{
			Kind:       document.KindText,
			Heading:    "Introduction",
			Content:    "This is the introduction to the document.",
			Level:      1,
			PageNumber: 1,
			Type:       "section",
		},
	}

	chunks := c.Chunk("Spec v1", "spec.pdf", sections)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.Heading != "Introduction" {
		t.Errorf("Heading = %q, want %q", ch.Heading, "Introduction")
	}
	if ch.ChunkIndex != 0 {
		t.Errorf("ChunkIndex = %d, want 0", ch.ChunkIndex)
	}
	if ch.ContentHash == "" {
		t.Error("ContentHash should not be empty")
	}
	if !strings.Contains(ch.ContextualizedText, "Spec v1") || !strings.Contains(ch.ContextualizedText, "spec.pdf") {
		t.Errorf("ContextualizedText missing title/source prefix: %q", ch.ContextualizedText)
	}
	if strings.Contains(ch.Text, "Spec v1") {
		t.Error("Text should not contain the contextual prefix")
	}
}

func TestChunkIndexIsContiguous(t *testing.T) {
	c := New(Config{MaxTokens: 10, Overlap: 2})
	longContent := strings.Repeat("This is a sentence that adds several words. ", 30)
	sections := []document.Section{
		{Kind: document.KindText, Heading: "A", Content: longContent, Type: "section"},
		{Kind: document.KindText, Heading: "B", Content: "Short tail section.", Type: "section"},
	}

	chunks := c.Chunk("Doc", "doc.txt", sections)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks from long content, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.ChunkIndex != uint32(i) {
			t.Errorf("chunk %d has ChunkIndex %d, want contiguous index", i, ch.ChunkIndex)
		}
	}
}

func TestChunkFormFieldsIsAtomic(t *testing.T) {
	c := New(Config{MaxTokens: 512, Overlap: 64})
	sections := []document.Section{
		{
			Kind: document.KindFormFields,
			Fields: []document.FormField{
				{Name: "ApplicantName", Value: "Jane Doe"},
				{Name: "DateOfBirth", Value: "1990-01-01"},
			},
		},
	}

	chunks := c.Chunk("Form", "form.pdf", sections)
	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 atomic chunk for form fields, got %d", len(chunks))
	}
	if chunks[0].ChunkType != "form_fields" {
		t.Errorf("ChunkType = %q, want form_fields", chunks[0].ChunkType)
	}
	if !strings.Contains(chunks[0].Text, "ApplicantName: Jane Doe") {
		t.Errorf("expected rendered field text, got %q", chunks[0].Text)
	}
}

func TestChunkTableIsAtomic(t *testing.T) {
	c := New(Config{MaxTokens: 512, Overlap: 64})
	sections := []document.Section{
		{
			Kind:  document.KindTable,
			Table: &document.TableData{Headers: []string{"Name", "Qty"}, Rows: [][]string{{"Widget", "10"}, {"Gadget", "3"}}},
		},
	}

	chunks := c.Chunk("Inventory", "inv.xlsx", sections)
	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 atomic chunk for table, got %d", len(chunks))
	}
	if chunks[0].ChunkType != "table" {
		t.Errorf("ChunkType = %q, want table", chunks[0].ChunkType)
	}
	if !strings.Contains(chunks[0].Text, "Widget") || !strings.Contains(chunks[0].Text, "Name") {
		t.Errorf("expected rendered table text, got %q", chunks[0].Text)
	}
}

func TestMergeUndersizedTrailing(t *testing.T) {
	c := New(Config{MaxTokens: 5, MinTokens: 100, Overlap: 0})
	sections := []document.Section{
		{Kind: document.KindText, Content: "A decently sized first paragraph with several words in it.", Type: "paragraph"},
		{Kind: document.KindText, Content: "Tiny tail.", Type: "paragraph"},
	}

	chunks := c.Chunk("Doc", "doc.txt", sections)
	for _, ch := range chunks[:len(chunks)-1] {
		if strings.Contains(ch.Text, "Tiny tail.") && !strings.Contains(ch.Text, "decently sized") {
			t.Error("undersized trailing fragment should be merged into predecessor, not left standalone")
		}
	}
}

func TestChunkAnnotatesRequirementsAndDefinitions(t *testing.T) {
	c := New(Config{MaxTokens: 512, Overlap: 64})
	sections := []document.Section{
		{Kind: document.KindText, Heading: "Obligations", Content: "The operator SHALL maintain logs for 90 days."},
		{Kind: document.KindText, Heading: "Definitions", Content: `"Operator" means the party running the service.`},
	}

	chunks := c.Chunk("Policy", "policy.pdf", sections)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Metadata["requirement_level"] != "mandatory" {
		t.Errorf("expected mandatory requirement_level, got %q", chunks[0].Metadata["requirement_level"])
	}
	if chunks[1].Metadata["defined_term"] != "Operator" {
		t.Errorf("expected defined_term Operator, got %q", chunks[1].Metadata["defined_term"])
	}
}

func TestContentTypeClassification(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"table_pipes", "a | b | c\nd | e | f\ng | h | i", "table"},
		{"requirement", "The system SHALL respond within 2 seconds.", "requirement"},
		{"definition", `"Widget" means a small mechanical part.`, "definition"},
		{"plain", "Just a regular paragraph of prose.", "paragraph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentType(tt.text); got != tt.want {
				t.Errorf("ContentType(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsHeading(t *testing.T) {
	if !IsHeading("1.2 Scope") {
		t.Error("expected numbered heading to be detected")
	}
	if !IsHeading("## Markdown Heading") {
		t.Error("expected markdown heading to be detected")
	}
	if IsHeading("just a sentence.") {
		t.Error("did not expect a plain sentence to be a heading")
	}
}

func TestDetectNumberingAndLevel(t *testing.T) {
	num, ok := DetectNumbering("1.2.3 Detailed requirements")
	if !ok || num != "1.2.3" {
		t.Fatalf("DetectNumbering = (%q, %v), want (\"1.2.3\", true)", num, ok)
	}
	if level := NumberingLevel(num); level != 3 {
		t.Errorf("NumberingLevel(%q) = %d, want 3", num, level)
	}
}
