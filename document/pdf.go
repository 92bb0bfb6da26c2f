package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// defaultGarbleThreshold is the fallback used when no RAGConfig is threaded
// through; document.PDFParser.Threshold overrides it per spec.md §9 (open
// question: re-calibrate per OCR/text-extract stack).
const defaultGarbleThreshold = 0.25

// PDFParser implements the PDF branch of the dispatch table in spec.md
// §4.1: fast content-stream extraction, a garble-score gate, and an
// optional OCR fallback reached through the injected OCREngine.
type PDFParser struct {
	ocr       OCREngine
	Threshold float64 // overrides defaultGarbleThreshold when > 0
}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) threshold() float64 {
	if p.Threshold > 0 {
		return p.Threshold
	}
	return defaultGarbleThreshold
}

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	sections := make([]Section, 0)
	var allImages []ExtractedImage
	method := "native"

	if fields := extractAcroFormFields(reader); len(fields) > 0 {
		sections = append(sections, Section{Kind: KindFormFields, Fields: fields, PageNumber: 1})
	}

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := extractPageTextOrdered(page)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)

		if score := GarbleScore(text); score >= p.threshold() {
			method = "ocr"
			if p.ocr != nil {
				if ocrText, ocrErr := p.ocrPage(ctx, page, i); ocrErr == nil && strings.TrimSpace(ocrText) != "" {
					text = ocrText
				} else if plain, plainErr := page.GetPlainText(nil); plainErr == nil && strings.TrimSpace(plain) != "" {
					text = strings.TrimSpace(plain)
					method = "content-stream"
				}
			} else if plain, plainErr := page.GetPlainText(nil); plainErr == nil && strings.TrimSpace(plain) != "" {
				text = strings.TrimSpace(plain)
				method = "content-stream"
			}
		}

		if text == "" {
			continue
		}

		sectionStartIdx := len(sections)
		pageSections := splitPageIntoSections(text, i)
		sections = append(sections, pageSections...)

		pageImages := extractPageImages(page, i, sectionStartIdx)
		allImages = append(allImages, pageImages...)
	}

	sections = fixRunningHeaders(sections, totalPages)

	if len(sections) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyPDF)
	}

	return &ParsedDocument{
		Sections: sections,
		Images:   allImages,
		Method:   method,
	}, nil
}

var errEmptyPDF = fmt.Errorf("no extractable text")

// ocrPage renders the page's largest embedded image (or, absent one, skips)
// through the injected OCREngine. A full page rasterizer is out of scope
// for this module (OCR daemons are an external collaborator per spec.md
// §1); this best-effort path covers the common case of a scanned page
// that was embedded as a single full-page image.
func (p *PDFParser) ocrPage(ctx context.Context, page pdf.Page, pageNum int) (string, error) {
	images := extractPageImages(page, pageNum, 0)
	if len(images) == 0 {
		return "", fmt.Errorf("no image to OCR on page %d", pageNum)
	}
	best := images[0]
	for _, img := range images[1:] {
		if img.Width*img.Height > best.Width*best.Height {
			best = img
		}
	}
	return p.ocr.OCR(ctx, best.Data, best.MIMEType)
}

// extractAcroFormFields walks the document catalog's AcroForm field tree
// and returns flattened name/value pairs. Best-effort: the ledongthuc/pdf
// dictionary API can fail for malformed or encrypted forms, which we treat
// as "no form fields" rather than a parse error.
func extractAcroFormFields(reader *pdf.Reader) (fields []FormField) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pdf: panic reading AcroForm, skipping", "panic", r)
			fields = nil
		}
	}()

	root := reader.Trailer().Key("Root")
	if root.IsNull() {
		return nil
	}
	acroForm := root.Key("AcroForm")
	if acroForm.IsNull() {
		return nil
	}
	fieldArr := acroForm.Key("Fields")
	if fieldArr.IsNull() {
		return nil
	}

	for i := 0; i < fieldArr.Len(); i++ {
		f := fieldArr.Index(i)
		name := f.Key("T").Text()
		if name == "" {
			continue
		}
		value := f.Key("V").Text()
		fields = append(fields, FormField{Name: name, Value: value})
	}
	return fields
}

// extractPageImages extracts images from a PDF page's XObject resources.
func extractPageImages(page pdf.Page, pageNum int, sectionStartIdx int) []ExtractedImage {
	resources := page.Resources()
	if resources.IsNull() {
		return nil
	}

	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return nil
	}

	var images []ExtractedImage
	for _, name := range xobjects.Keys() {
		xobj := xobjects.Key(name)
		if xobj.Key("Subtype").Name() != "Image" {
			continue
		}

		if xobj.Key("ImageMask").Bool() {
			continue
		}

		width := int(xobj.Key("Width").Int64())
		height := int(xobj.Key("Height").Int64())
		if width == 0 || height == 0 {
			continue
		}

		if width < 32 || height < 32 {
			continue
		}

		filter := xobj.Key("Filter").Name()

		imgData, mimeType := extractSingleImage(xobj, filter, width, height, pageNum, name)
		if imgData == nil {
			continue
		}

		images = append(images, ExtractedImage{
			Data:         imgData,
			MIMEType:     mimeType,
			PageNumber:   pageNum,
			SectionIndex: sectionStartIdx,
			Width:        width,
			Height:       height,
		})
	}

	return images
}

// extractSingleImage reads image data from a PDF XObject, handling panics
// from the ledongthuc/pdf library on unsupported filter combinations.
func extractSingleImage(xobj pdf.Value, filter string, width, height, pageNum int, name string) (data []byte, mimeType string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pdf: panic reading image stream, skipping", "page", pageNum, "name", name, "panic", r)
			data = nil
			mimeType = ""
		}
	}()

	switch filter {
	case "DCTDecode":
		raw, err := readRawStreamBytes(xobj)
		if err != nil {
			slog.Debug("pdf: failed to read raw JPEG stream", "page", pageNum, "name", name, "error", err)
			return nil, ""
		}
		if len(raw) > 2 && raw[0] == 0xff && raw[1] == 0xd8 {
			return raw, "image/jpeg"
		}
		slog.Debug("pdf: DCTDecode image missing JPEG magic", "page", pageNum, "name", name)
		return nil, ""

	case "FlateDecode", "":
		rc := xobj.Reader()
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			slog.Debug("pdf: failed to read FlateDecode image", "page", pageNum, "name", name, "error", err)
			return nil, ""
		}

		pngData, err := rawPixelsToPNG(raw, width, height, xobj.Key("ColorSpace").Name(), int(xobj.Key("BitsPerComponent").Int64()))
		if err != nil {
			slog.Debug("pdf: failed to encode PNG", "page", pageNum, "name", name, "error", err)
			return nil, ""
		}
		return pngData, "image/png"

	default:
		slog.Debug("pdf: unsupported image filter", "page", pageNum, "name", name, "filter", filter)
		return nil, ""
	}
}

// readRawStreamBytes reads the raw (unfiltered) stream bytes from a
// pdf.Value by accessing the library's internal fields via reflection;
// Reader() panics on DCTDecode but the raw bytes are already valid JPEG.
//
// Internal layout used (ledongthuc/pdf):
//
//	Value  { r *Reader; ptr objptr; data interface{} }
//	Reader { f io.ReaderAt; ... }
//	stream { hdr dict; ptr objptr; offset int64 }
func readRawStreamBytes(v pdf.Value) ([]byte, error) {
	length := v.Key("Length").Int64()
	if length <= 0 {
		return nil, fmt.Errorf("stream has no length")
	}

	val := reflect.ValueOf(v)

	dataField := val.Field(2)
	if dataField.IsNil() {
		return nil, fmt.Errorf("value has nil data")
	}
	streamVal := dataField.Elem()
	if streamVal.Kind() == reflect.Ptr {
		streamVal = streamVal.Elem()
	}

	offsetField := streamVal.Field(2)
	offset := offsetField.Int()

	rField := val.Field(0)
	if rField.IsNil() {
		return nil, fmt.Errorf("value has nil reader")
	}

	readerStruct := reflect.NewAt(rField.Type().Elem(), rField.UnsafePointer()).Elem()
	fField := readerStruct.Field(0)
	readerAt, ok := fField.Interface().(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("reader.f is not io.ReaderAt")
	}

	buf := make([]byte, length)
	n, err := readerAt.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading stream at offset %d: %w", offset, err)
	}
	return buf[:n], nil
}

// rawPixelsToPNG converts raw pixel data to PNG format.
func rawPixelsToPNG(data []byte, width, height int, colorSpace string, bitsPerComponent int) ([]byte, error) {
	if bitsPerComponent == 0 {
		bitsPerComponent = 8
	}

	var img image.Image
	switch colorSpace {
	case "DeviceRGB", "":
		expected := width * height * 3
		if len(data) < expected {
			return nil, fmt.Errorf("insufficient data for RGB image: got %d, expected %d", len(data), expected)
		}
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				offset := (y*width + x) * 3
				rgba.SetRGBA(x, y, color.RGBA{R: data[offset], G: data[offset+1], B: data[offset+2], A: 255})
			}
		}
		img = rgba

	case "DeviceGray":
		expected := width * height
		if len(data) < expected {
			return nil, fmt.Errorf("insufficient data for gray image: got %d, expected %d", len(data), expected)
		}
		gray := image.NewGray(image.Rect(0, 0, width, height))
		copy(gray.Pix, data[:expected])
		img = gray

	case "DeviceCMYK":
		expected := width * height * 4
		if len(data) < expected {
			return nil, fmt.Errorf("insufficient data for CMYK image: got %d, expected %d", len(data), expected)
		}
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				offset := (y*width + x) * 4
				c, m, yk, k := data[offset], data[offset+1], data[offset+2], data[offset+3]
				r := 255 - min(255, int(c)+int(k))
				g := 255 - min(255, int(m)+int(k))
				b := 255 - min(255, int(yk)+int(k))
				rgba.SetRGBA(x, y, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})
			}
		}
		img = rgba

	default:
		return nil, fmt.Errorf("unsupported color space: %s", colorSpace)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// extractPageTextOrdered extracts text from a PDF page sorted by visual
// position (top-to-bottom). GetPlainText reads text in content-stream
// order, which can differ from visual layout; this groups elements into
// visual lines by Y proximity then sorts by Y.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0

	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine

	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].y > lines[j].y
	})

	var parts []string
	for _, l := range lines {
		text := strings.TrimSpace(l.buf.String())
		if text != "" {
			parts = append(parts, text)
		}
	}

	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}

	return result, nil
}

// splitPageIntoSections breaks page text into logical sections, tagging
// table-shaped content as Kind=KindTable.
func splitPageIntoSections(text string, pageNum int) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	var currentContent strings.Builder
	var currentHeading string
	currentLevel := 0

	flush := func() {
		if currentContent.Len() == 0 && currentHeading == "" {
			return
		}
		content := strings.TrimSpace(currentContent.String())
		typ := classifySectionType(currentHeading, content)
		sec := Section{
			Kind:       KindText,
			Heading:    currentHeading,
			Content:    content,
			Level:      currentLevel,
			PageNumber: pageNum,
			Type:       typ,
		}
		if typ == "table" {
			sec.Kind = KindTable
			sec.Table = tableFromDelimitedText(content)
		}
		sections = append(sections, sec)
		currentContent.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			continue
		}

		if isLikelyHeading(trimmed) {
			flush()
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
		} else {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			currentContent.WriteString(trimmed)
		}
	}
	flush()

	// Merge empty-content sections into the next section: when a parent
	// heading has no body because the next line is a sub-heading, prepend
	// the parent heading so the label stays co-located with the data.
	for i := len(sections) - 2; i >= 0; i-- {
		if sections[i].Content == "" && sections[i].Heading != "" &&
			i+1 < len(sections) && sections[i+1].Level > sections[i].Level {
			if sections[i+1].Heading != "" {
				sections[i+1].Heading = sections[i].Heading + " — " + sections[i+1].Heading
			} else {
				sections[i+1].Heading = sections[i].Heading
			}
			sections[i+1].Level = sections[i].Level
			sections = append(sections[:i], sections[i+1:]...)
		}
	}

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{Kind: KindText, Content: text, PageNumber: pageNum, Type: "paragraph"})
	}

	return sections
}

// tableFromDelimitedText turns tab- or pipe-delimited lines into TableData,
// treating the first row as headers and flagging purely-numeric columns.
func tableFromDelimitedText(content string) *TableData {
	lines := strings.Split(content, "\n")
	var rows [][]string
	sep := "\t"
	if strings.Count(content, "|") > strings.Count(content, "\t") {
		sep = "|"
	}
	for _, l := range lines {
		if !strings.Contains(l, sep) {
			continue
		}
		l = strings.Trim(l, "| \t")
		if l == "" {
			continue
		}
		cells := strings.Split(l, sep)
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil
	}
	headers := rows[0]
	dataRows := rows[1:]
	return &TableData{Headers: headers, Rows: dataRows, NumericCols: numericColumns(headers, dataRows)}
}

func numericColumns(headers []string, rows [][]string) []int {
	var cols []int
	for c := range headers {
		allNumeric := len(rows) > 0
		for _, row := range rows {
			if c >= len(row) || !isNumericCell(row[c]) {
				allNumeric = false
				break
			}
		}
		if allNumeric {
			cols = append(cols, c)
		}
	}
	return cols
}

func isNumericCell(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	seenDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case r == '.' || r == '-' || r == '+' || r == ',' || r == '%':
		case i == 0 && (r == '$' || r == '€' || r == '£'):
		default:
			return false
		}
	}
	return seenDigit
}

func isLikelyHeading(line string) bool {
	if len(line) < 100 && line == strings.ToUpper(line) && len(line) > 2 {
		return true
	}
	if len(line) < 120 {
		if len(line) > 0 && line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
			return true
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "section ") || strings.HasPrefix(lower, "article ") ||
			strings.HasPrefix(lower, "chapter ") || strings.HasPrefix(lower, "part ") {
			return true
		}
		if strings.HasPrefix(lower, "sección ") || strings.HasPrefix(lower, "seccion ") ||
			strings.HasPrefix(lower, "capítulo ") || strings.HasPrefix(lower, "capitulo ") ||
			strings.HasPrefix(lower, "anexo ") {
			return true
		}
		if strings.HasPrefix(lower, "seção ") || strings.HasPrefix(lower, "secao ") ||
			strings.HasPrefix(lower, "capítulo ") ||
			strings.HasPrefix(lower, "artigo ") ||
			strings.HasPrefix(lower, "anexo ") {
			return true
		}
		if strings.HasPrefix(lower, "chapitre ") || strings.HasPrefix(lower, "partie ") ||
			strings.HasPrefix(lower, "annexe ") || strings.HasPrefix(lower, "article ") {
			return true
		}
		for _, prefix := range []string{
			"tabla ", "tabela ", "tableau ",
			"figura ", "figure ",
			"cuadro ", "quadro ", "gráfico ", "graphique ",
		} {
			if strings.HasPrefix(lower, prefix) {
				afterPrefix := len(prefix)
				if len(lower) > afterPrefix && lower[afterPrefix] >= '0' && lower[afterPrefix] <= '9' {
					return true
				}
			}
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		dots := strings.Count(parts[0], ".")
		if dots > 0 {
			return dots
		}
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

func classifySectionType(heading, content string) string {
	headingLower := strings.ToLower(heading)
	contentLower := strings.ToLower(content)

	if strings.Contains(headingLower, "definition") || strings.Contains(headingLower, "definición") ||
		strings.Contains(headingLower, "glosario") || strings.Contains(headingLower, "glossary") ||
		strings.Contains(contentLower, "definition") || strings.Contains(contentLower, "definición") {
		return "definition"
	}
	if strings.Contains(headingLower, "shall") || strings.Contains(headingLower, "must") || strings.Contains(headingLower, "requirement") ||
		strings.Contains(headingLower, "requisito") || strings.Contains(headingLower, "especificación") ||
		strings.Contains(contentLower, "shall") || strings.Contains(contentLower, "must") || strings.Contains(contentLower, "requirement") ||
		strings.Contains(contentLower, "requisito") || strings.Contains(contentLower, "especificación") {
		return "requirement"
	}
	if strings.Contains(headingLower, "table") || strings.Contains(headingLower, "tabla") {
		return "table"
	}
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return "table"
	}
	if strings.Contains(headingLower, "anexo") || strings.Contains(headingLower, "annex") {
		return "annex"
	}
	return "section"
}

// fixRunningHeaders detects repeated headers (e.g. a document title on
// every page) and replaces them with the last real heading, so content
// continuing onto the next page keeps its actual section label.
func fixRunningHeaders(sections []Section, totalPages int) []Section {
	if len(sections) == 0 || totalPages == 0 {
		return sections
	}

	headingPages := make(map[string]map[int]bool)
	for _, s := range sections {
		h := normalizeHeading(s.Heading)
		if h == "" {
			continue
		}
		if headingPages[h] == nil {
			headingPages[h] = make(map[int]bool)
		}
		headingPages[h][s.PageNumber] = true
	}

	threshold := max(3, totalPages/4)
	runningHeaders := make(map[string]bool)
	for h, pages := range headingPages {
		if len(pages) >= threshold {
			runningHeaders[h] = true
		}
	}

	if len(runningHeaders) == 0 {
		return sections
	}

	var lastRealHeading string
	var lastRealLevel int
	for i := range sections {
		h := normalizeHeading(sections[i].Heading)
		if runningHeaders[h] {
			if lastRealHeading != "" {
				sections[i].Heading = lastRealHeading
				sections[i].Level = lastRealLevel
			}
		} else if sections[i].Heading != "" {
			lastRealHeading = sections[i].Heading
			lastRealLevel = sections[i].Level
		}
	}

	return sections
}

func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	for len(h) > 0 {
		r := rune(h[len(h)-1])
		if r > 127 || r == '' || r == '�' {
			h = h[:len(h)-1]
			h = strings.TrimSpace(h)
		} else {
			break
		}
	}
	return h
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
