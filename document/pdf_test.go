package document

import (
	"strings"
	"testing"
)

func TestSplitPageIntoSections(t *testing.T) {
	text := `INTRODUCTION
This is the introduction section with some text.

1.1 Scope
The scope of this document covers requirements.

1.2 Definitions
"Force Majeure" means any event beyond control.`

	sections := splitPageIntoSections(text, 1)

	if len(sections) < 3 {
		t.Fatalf("expected at least 3 sections, got %d", len(sections))
	}

	if sections[0].Heading != "INTRODUCTION" {
		t.Errorf("section[0].Heading = %q, want %q", sections[0].Heading, "INTRODUCTION")
	}
	if sections[0].PageNumber != 1 {
		t.Errorf("section[0].PageNumber = %d, want 1", sections[0].PageNumber)
	}
	if sections[0].Content == "" {
		t.Error("section[0].Content should not be empty")
	}

	if sections[1].Heading != "1.1 Scope" {
		t.Errorf("section[1].Heading = %q, want %q", sections[1].Heading, "1.1 Scope")
	}

	if sections[2].Heading != "1.2 Definitions" {
		t.Errorf("section[2].Heading = %q, want %q", sections[2].Heading, "1.2 Definitions")
	}
	if sections[2].Type != "definition" {
		t.Errorf("section[2].Type = %q, want %q", sections[2].Type, "definition")
	}
}

func TestSplitPageIntoSectionsEmptyText(t *testing.T) {
	sections := splitPageIntoSections("", 1)
	if len(sections) != 0 {
		t.Errorf("expected 0 sections for empty text, got %d", len(sections))
	}
}

func TestSplitPageIntoSectionsNoHeadings(t *testing.T) {
	text := "This is just a regular paragraph with no headings at all."
	sections := splitPageIntoSections(text, 5)

	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].PageNumber != 5 {
		t.Errorf("section[0].PageNumber = %d, want 5", sections[0].PageNumber)
	}
	if sections[0].Kind != KindText {
		t.Errorf("section[0].Kind = %v, want KindText", sections[0].Kind)
	}
}

func TestSplitPageIntoSectionsTableDetection(t *testing.T) {
	text := "Throughput Table\nName\tQty\tPrice\nWidget\t10\t5.00\nGadget\t3\t12.50"
	sections := splitPageIntoSections(text, 1)

	var found bool
	for _, s := range sections {
		if s.Kind == KindTable {
			found = true
			if s.Table == nil {
				t.Fatal("KindTable section has nil Table")
			}
			if len(s.Table.Headers) != 3 {
				t.Errorf("expected 3 headers, got %d: %v", len(s.Table.Headers), s.Table.Headers)
			}
		}
	}
	if !found {
		t.Error("expected at least one KindTable section from tab-delimited content")
	}
}

func TestIsLikelyHeading(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"all_caps_short", "INTRODUCTION", true},
		{"all_caps_multi_word", "TERMS AND CONDITIONS", true},
		{"all_caps_too_short", "AB", false},
		{"numbered_1.1", "1.1 Scope", true},
		{"numbered_single_dot", "3. Overview", true},
		{"section_prefix", "Section 5 General", true},
		{"article_prefix", "Article III Obligations", true},
		{"regular_sentence", "This is a regular sentence.", false},
		{"lowercase_text", "some regular content here", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isLikelyHeading(tt.line); got != tt.want {
				t.Errorf("isLikelyHeading(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestClassifySectionType(t *testing.T) {
	tests := []struct {
		name    string
		heading string
		content string
		want    string
	}{
		{"definition_heading", "Definitions", "These terms are defined below.", "definition"},
		{"requirement_shall", "Requirements", "The system shall perform...", "requirement"},
		{"table_pipes", "Data", "Col1 | Col2 | Col3 | Col4 | Col5", "table"},
		{"table_heading", "Table 1", "Some content", "table"},
		{"regular_section", "Introduction", "This is an overview of the project.", "section"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySectionType(tt.heading, tt.content); got != tt.want {
				t.Errorf("classifySectionType(%q, %q) = %q, want %q", tt.heading, tt.content, got, tt.want)
			}
		})
	}
}

func TestDetectHeadingLevel(t *testing.T) {
	tests := []struct {
		heading string
		want    int
	}{
		{"1. Introduction", 1},
		{"1.2 Scope", 1},
		{"1.2.3 Detailed", 2},
		{"INTRODUCTION", 1},
		{"Summary", 2},
	}

	for _, tt := range tests {
		if got := detectHeadingLevel(tt.heading); got != tt.want {
			t.Errorf("detectHeadingLevel(%q) = %d, want %d", tt.heading, got, tt.want)
		}
	}
}

func TestFixRunningHeadersBasicReplacement(t *testing.T) {
	sections := []Section{
		{Heading: "DOC TITLE", Content: "components cont", PageNumber: 5, Level: 1},
		{Heading: "4.1 Tracker", Content: "tracker overview", PageNumber: 5, Level: 2},
		{Heading: "DOC TITLE", Content: "fusibles 6.3A, 16 entradas, 16 salidas", PageNumber: 6, Level: 1},
		{Heading: "DOC TITLE", Content: "more content", PageNumber: 7, Level: 1},
		{Heading: "DOC TITLE", Content: "a", PageNumber: 1, Level: 1},
		{Heading: "DOC TITLE", Content: "b", PageNumber: 2, Level: 1},
		{Heading: "DOC TITLE", Content: "c", PageNumber: 3, Level: 1},
		{Heading: "DOC TITLE", Content: "d", PageNumber: 4, Level: 1},
	}

	result := fixRunningHeaders(sections, 7)

	for _, s := range result {
		if s.PageNumber == 6 && strings.Contains(s.Content, "fusibles") {
			if s.Heading != "4.1 Tracker" {
				t.Errorf("page 6 (fusibles): expected heading %q, got %q", "4.1 Tracker", s.Heading)
			}
			return
		}
	}
	t.Error("did not find the fusibles section on page 6")
}

func TestFixRunningHeadersBelowThreshold(t *testing.T) {
	sections := []Section{
		{Heading: "APPEARS TWICE", Content: "a", PageNumber: 1, Level: 1},
		{Heading: "1.0 Chapter", Content: "b", PageNumber: 5, Level: 1},
		{Heading: "APPEARS TWICE", Content: "c", PageNumber: 10, Level: 1},
	}

	result := fixRunningHeaders(sections, 20)

	for _, s := range result {
		if s.Content == "c" && s.Heading != "APPEARS TWICE" {
			t.Errorf("should not replace infrequent heading, got %q", s.Heading)
		}
	}
}

func TestNormalizeHeadingTrimsTrailingGarbage(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"MANUAL TÉCNICO", "MANUAL TÉCNICO"},
		{"MANUAL TÉCNICO  ", "MANUAL TÉCNICO"},
		{"Clean Heading", "Clean Heading"},
	}

	for _, tt := range tests {
		if got := normalizeHeading(tt.input); got != tt.expected {
			t.Errorf("normalizeHeading(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestTableFromDelimitedText(t *testing.T) {
	tbl := tableFromDelimitedText("Name | Qty | Price\nWidget | 10 | 5.00\nGadget | 3 | 12.50")
	if tbl == nil {
		t.Fatal("expected non-nil table")
	}
	if len(tbl.Headers) != 3 {
		t.Fatalf("expected 3 headers, got %d", len(tbl.Headers))
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	if len(tbl.NumericCols) != 2 {
		t.Errorf("expected 2 numeric columns (Qty, Price), got %v", tbl.NumericCols)
	}
}
