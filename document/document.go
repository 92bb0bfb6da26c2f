// Package document dispatches document parsing by file extension and
// produces structured sections the chunker can segment.
package document

import "context"

// SectionKind tags which variant of Section is populated, matching the
// data model's parser output (Text, FormFields, Table, Relationships).
type SectionKind int

const (
	KindText SectionKind = iota
	KindFormFields
	KindTable
	KindRelationships
)

func (k SectionKind) String() string {
	switch k {
	case KindFormFields:
		return "form_fields"
	case KindTable:
		return "table"
	case KindRelationships:
		return "relationships"
	default:
		return "text"
	}
}

// FormField is one name/value pair extracted from a fillable PDF field.
type FormField struct {
	Name  string
	Value string
}

// TableData holds a parsed table with a header row and data rows.
type TableData struct {
	Headers       []string
	Rows          [][]string
	Caption       string
	NumericCols   []int // indices of columns detected as numeric
}

// Section is a tagged variant produced by a Parser. Exactly one of
// Fields/Table/Content is meaningful depending on Kind.
type Section struct {
	Kind       SectionKind
	Heading    string // Text only
	Content    string // Text.content / Relationships.content
	Level      int    // heading level, Text only (1=top)
	PageNumber int
	Fields     []FormField // FormFields only
	Table      *TableData  // Table only
	Type       string      // fine classification: "paragraph","definition","requirement","annex","section"
	Children   []Section
	Metadata   map[string]string
}

// ExtractedImage is an image pulled out of a document during parsing, kept
// separate from Sections so downstream captioning is opt-in.
type ExtractedImage struct {
	Data         []byte
	MIMEType     string
	PageNumber   int
	SectionIndex int
	Width        int
	Height       int
}

// ParsedDocument is what a Parser produces from a document file.
type ParsedDocument struct {
	Text     string // flattened full text, convenience for non-structured consumers
	Title    string
	Metadata map[string]string
	Format   string
	Sections []Section
	Images   []ExtractedImage
	Method   string // "native", "ocr", "content-stream", "external"
}

// OCREngine is the external collaborator used for image-only pages and
// garbled PDF text. OCR daemons themselves are out of scope (spec §1); the
// document package only calls through this seam.
type OCREngine interface {
	OCR(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

// Parser parses one document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParsedDocument, error)
	SupportedFormats() []string
}
