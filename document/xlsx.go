package document

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXParser extracts each worksheet as a KindTable section with
// numeric-column detection (spec.md §4.1: "xlsx ... yes (Table per sheet)").
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sections []Section

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		headers := rows[0]
		dataRows := rows[1:]
		normalizeRowWidths(headers, dataRows)

		sections = append(sections, Section{
			Kind:    KindTable,
			Heading: sheet,
			Level:   1,
			Table: &TableData{
				Headers:     headers,
				Rows:        dataRows,
				NumericCols: numericColumns(headers, dataRows),
			},
			Metadata: map[string]string{
				"sheet_name": sheet,
				"row_count":  fmt.Sprintf("%d", len(rows)),
			},
		})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyXLSX)
	}

	return &ParsedDocument{
		Sections: sections,
		Method:   "native",
	}, nil
}

var errEmptyXLSX = fmt.Errorf("no data found in workbook")

// normalizeRowWidths pads short rows to the header width so NumericCols
// indexing stays safe and downstream table rendering doesn't ragged-edge.
func normalizeRowWidths(headers []string, rows [][]string) {
	width := len(headers)
	for i, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		}
	}
}
