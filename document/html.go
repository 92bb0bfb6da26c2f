package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// HTMLParser strips tags/scripts/style, decodes entities, and normalizes
// whitespace (spec.md §4.1), using golang.org/x/net/html's tokenizer rather
// than a regex-based stripper.
type HTMLParser struct{}

func (p *HTMLParser) SupportedFormats() []string { return []string{"html", "htm"} }

func (p *HTMLParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading HTML file: %w", err)
	}

	title, text := stripHTML(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: %w", path, errEmptyHTML)
	}
	if title == "" {
		title = filepath.Base(path)
	}

	return &ParsedDocument{
		Text:  text,
		Title: title,
		Sections: []Section{
			{Kind: KindText, Heading: title, Content: text, Level: 1, Type: "paragraph"},
		},
		Method: "native",
	}, nil
}

var errEmptyHTML = fmt.Errorf("no extractable text")

// stripHTML walks the token stream, skipping script/style contents,
// collecting <title> text and body text with normalized whitespace.
func stripHTML(data []byte) (title, text string) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var body strings.Builder
	var titleBuf strings.Builder
	skip := 0
	inTitle := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "noscript" {
				skip++
			}
			if tag == "title" {
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style" || tag == "noscript") && skip > 0 {
				skip--
			}
			if tag == "title" {
				inTitle = false
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			t := strings.TrimSpace(string(z.Text()))
			if t == "" {
				continue
			}
			if inTitle {
				titleBuf.WriteString(t)
				continue
			}
			body.WriteString(t)
			body.WriteString("\n")
		}
	}

	return strings.TrimSpace(titleBuf.String()), normalizeWhitespace(body.String())
}

// normalizeWhitespace collapses runs of blank lines and trims each line.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
