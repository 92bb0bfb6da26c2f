package document

import "testing"

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry(nil)

	formats := []struct {
		format     string
		wantParser string
	}{
		{"pdf", "*document.PDFParser"},
		{"docx", "*document.DOCXParser"},
		{"xlsx", "*document.XLSXParser"},
		{"pptx", "*document.PPTXParser"},
		{"html", "*document.HTMLParser"},
		{"txt", "*document.TextParser"},
	}

	for _, tt := range formats {
		t.Run(tt.format, func(t *testing.T) {
			p, err := reg.Get(tt.format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", tt.format, err)
			}
			supported := p.SupportedFormats()
			found := false
			for _, f := range supported {
				if f == tt.format {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list %q in SupportedFormats(): %v", tt.format, tt.format, supported)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry(nil)

	for _, format := range []string{"rtf", "odt", "unknown"} {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get(format)
			if err == nil {
				t.Errorf("Get(%q) expected error for unknown format, got parser: %v", format, p)
			}
			if p != nil {
				t.Errorf("Get(%q) expected nil parser for unknown format", format)
			}
		})
	}
}

func TestRegistryLegacyFormatsAfterExternalConfig(t *testing.T) {
	reg := NewRegistry(nil)

	if _, err := reg.Get("doc"); err == nil {
		t.Fatal("expected error for doc before external parser is configured")
	}

	reg.SetExternalParser(ExternalParserConfig{APIKey: "test-key"})

	p, err := reg.Get("doc")
	if err != nil {
		t.Fatalf("Get(\"doc\") after SetExternalParser returned error: %v", err)
	}
	if p == nil {
		t.Fatal("Get(\"doc\") returned nil after SetExternalParser")
	}
}

func TestRegistryCustomParser(t *testing.T) {
	reg := NewRegistry(nil)

	if _, err := reg.Get("custom"); err == nil {
		t.Fatal("expected error for unregistered format")
	}

	reg.Register("custom", &TextParser{})
	p, err := reg.Get("custom")
	if err != nil {
		t.Fatalf("Get(\"custom\") after Register returned error: %v", err)
	}
	if p == nil {
		t.Fatal("Get(\"custom\") returned nil after Register")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]string{
		"/a/b/report.PDF": "pdf",
		"notes.md":        "md",
		"noext":           "",
		"archive.tar.gz":  "gz",
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
