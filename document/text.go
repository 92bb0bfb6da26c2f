package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TextParser handles raw-text formats that need no structural extraction:
// plain text, Markdown, source code, and common config/data formats.
// Invalid UTF-8 is lossily repaired rather than rejected (spec.md §4.1:
// "Raw UTF-8 read, lossy fallback").
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string {
	return []string{
		"txt", "md", "markdown", "code",
		"go", "py", "js", "ts", "tsx", "jsx", "java", "c", "cpp", "h", "hpp",
		"rs", "rb", "php", "sh", "sql",
		"json", "yaml", "yml", "toml", "csv", "ini", "cfg", "conf",
	}
}

func (p *TextParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := string(data)
	if !utf8.ValidString(content) {
		content = decodeNonUTF8(data)
	}
	if strings.TrimSpace(content) == "" {
		return &ParsedDocument{Method: "native"}, nil
	}

	return &ParsedDocument{
		Text: content,
		Sections: []Section{
			{
				Kind:    KindText,
				Heading: filepath.Base(path),
				Content: content,
				Level:   1,
				Type:    "paragraph",
			},
		},
		Method: "native",
	}, nil
}

// decodeNonUTF8 tries the common legacy single-byte encoding for text files
// that fail UTF-8 validation before falling back to lossy repair (spec.md
// §4.1: "Raw UTF-8 read, lossy fallback"). Windows-1252 accepts every byte
// value, so it never errors; its output is only kept when decoding actually
// produces valid UTF-8 — garbage in, garbage stays replaced.
func decodeNonUTF8(data []byte) string {
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	return strings.ToValidUTF8(string(data), "�")
}
