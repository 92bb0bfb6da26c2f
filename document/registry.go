package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bbiangul/ragcore"
)

// ExternalParserConfig configures a remote parsing service for legacy
// binary formats the native parsers don't cover (doc/ppt/xls).
type ExternalParserConfig struct {
	APIKey  string
	BaseURL string
}

// Registry dispatches by extension to a registered Parser, mirroring the
// format table of spec.md §4.1.
type Registry struct {
	parsers  map[string]Parser
	external *ExternalParserConfig
	ocr      OCREngine
}

// NewRegistry builds a Registry with every built-in parser registered.
func NewRegistry(ocr OCREngine) *Registry {
	r := &Registry{parsers: make(map[string]Parser), ocr: ocr}

	pdf := &PDFParser{ocr: ocr}
	docx := &DOCXParser{}
	xlsx := &XLSXParser{}
	pptx := &PPTXParser{}
	html := &HTMLParser{}
	text := &TextParser{}

	for _, p := range []Parser{pdf, docx, xlsx, pptx, html, text} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// SetExternalParser registers a remote parsing service for legacy formats
// (doc, ppt, xls) that have no native Go parser in this module.
func (r *Registry) SetExternalParser(cfg ExternalParserConfig) {
	r.external = &cfg
	lp := &LegacyParser{cfg: cfg}
	for _, f := range lp.SupportedFormats() {
		r.parsers[f] = lp
	}
}

// Get returns the parser registered for format (lowercased extension
// without the leading dot).
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ragcore.ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Register overrides or adds a parser for a format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// FormatFromPath derives the dispatch key from a file path's extension.
func FormatFromPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return strings.TrimPrefix(ext, ".")
}

// ParseFile resolves the parser for path's format and runs it.
func (r *Registry) ParseFile(ctx context.Context, path string) (*ParsedDocument, error) {
	format := FormatFromPath(path)
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	doc.Format = format
	if doc.Title == "" {
		doc.Title = filepath.Base(path)
	}
	return doc, nil
}
