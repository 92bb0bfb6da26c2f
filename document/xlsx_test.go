package document

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestXLSXParserExtractsTablePerSheet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")

	f := excelize.NewFile()
	sheet := "Inventory"
	f.NewSheet(sheet)
	f.SetSheetRow(sheet, "A1", &[]interface{}{"Name", "Qty", "Price"})
	f.SetSheetRow(sheet, "A2", &[]interface{}{"Widget", 10, 5.0})
	f.SetSheetRow(sheet, "A3", &[]interface{}{"Gadget", 3, 12.5})
	f.DeleteSheet("Sheet1")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving xlsx: %v", err)
	}

	p := &XLSXParser{}
	doc, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("expected 1 sheet section, got %d", len(doc.Sections))
	}

	sec := doc.Sections[0]
	if sec.Kind != KindTable {
		t.Fatalf("expected KindTable, got %v", sec.Kind)
	}
	if sec.Heading != sheet {
		t.Errorf("Heading = %q, want %q", sec.Heading, sheet)
	}
	if sec.Table == nil || len(sec.Table.Headers) != 3 {
		t.Fatalf("expected 3 headers, got %+v", sec.Table)
	}
	if len(sec.Table.Rows) != 2 {
		t.Errorf("expected 2 data rows, got %d", len(sec.Table.Rows))
	}
	if len(sec.Table.NumericCols) != 2 {
		t.Errorf("expected 2 numeric columns (Qty, Price), got %v", sec.Table.NumericCols)
	}
}

func TestXLSXParserEmptyWorkbook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.xlsx")

	f := excelize.NewFile()
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving xlsx: %v", err)
	}

	p := &XLSXParser{}
	if _, err := p.Parse(context.Background(), path); err == nil {
		t.Error("expected error for workbook with no data rows")
	}
}
