package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

// PPTXParser extracts one KindText section per slide (spec.md §4.1: "pptx
// ... yes (per-slide Text)").
type PPTXParser struct{}

func (p *PPTXParser) SupportedFormats() []string { return []string{"pptx"} }

func (p *PPTXParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening PPTX: %w", err)
	}
	defer r.Close()

	fileIndex := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileIndex[f.Name] = f
	}

	slideFiles := make(map[int]*zip.File)
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			if num := extractSlideNumber(f.Name); num > 0 {
				slideFiles[num] = f
			}
		}
	}

	nums := make([]int, 0, len(slideFiles))
	for n := range slideFiles {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var sections []Section
	var allImages []ExtractedImage
	for _, num := range nums {
		f := slideFiles[num]
		rc, err := f.Open()
		if err != nil {
			continue
		}

		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}

		text := extractPPTXSlideText(data)
		if text == "" {
			continue
		}

		sectionIdx := len(sections)
		sections = append(sections, Section{
			Kind:       KindText,
			Heading:    fmt.Sprintf("Slide %d", num),
			Content:    text,
			Type:       "section",
			Level:      1,
			PageNumber: num,
		})

		slideImages := extractPPTXSlideImages(data, num, sectionIdx, fileIndex)
		allImages = append(allImages, slideImages...)
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyPDF)
	}

	return &ParsedDocument{
		Sections: sections,
		Images:   allImages,
		Method:   "native",
	}, nil
}

func extractPPTXSlideImages(slideXML []byte, slideNum int, sectionIdx int, fileIndex map[string]*zip.File) []ExtractedImage {
	relsPath := fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", slideNum)
	rels := parsePPTXRels(fileIndex, relsPath)
	if rels == nil {
		return nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(slideXML))

	var images []ExtractedImage
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "blip" {
			continue
		}

		var embedID string
		for _, attr := range se.Attr {
			if attr.Name.Local == "embed" {
				embedID = attr.Value
				break
			}
		}
		if embedID == "" {
			continue
		}

		target, ok := rels[embedID]
		if !ok {
			continue
		}

		mediaPath := filepath.Clean("ppt/slides/" + target)
		mediaPath = strings.ReplaceAll(mediaPath, "\\", "/")

		zf := fileIndex[mediaPath]
		if zf == nil {
			slog.Debug("pptx: image file not found in ZIP", "path", mediaPath, "rId", embedID)
			continue
		}

		imgRC, err := zf.Open()
		if err != nil {
			slog.Debug("pptx: failed to open image file", "path", mediaPath, "error", err)
			continue
		}

		imgData, err := io.ReadAll(imgRC)
		imgRC.Close()
		if err != nil {
			slog.Debug("pptx: failed to read image file", "path", mediaPath, "error", err)
			continue
		}

		mimeType := mimeFromExt(filepath.Ext(zf.Name))
		if mimeType == "" {
			continue
		}

		w, h := imageSize(imgData)
		if w == 0 || h == 0 || w < 32 || h < 32 {
			continue
		}

		images = append(images, ExtractedImage{
			Data:         imgData,
			MIMEType:     mimeType,
			PageNumber:   slideNum,
			SectionIndex: sectionIdx,
			Width:        w,
			Height:       h,
		})
	}

	return images
}

func parsePPTXRels(fileIndex map[string]*zip.File, relsPath string) map[string]string {
	relsFile := fileIndex[relsPath]
	if relsFile == nil {
		return nil
	}

	rc, err := relsFile.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}

	var rels docxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}

	result := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		result[rel.ID] = rel.Target
	}
	return result
}

type pptxSlide struct {
	CSld struct {
		SpTree struct {
			SPs []pptxSP `xml:"sp"`
		} `xml:"spTree"`
	} `xml:"cSld"`
}

type pptxSP struct {
	TxBody *pptxTxBody `xml:"txBody"`
}

type pptxTxBody struct {
	Paras []pptxAPara `xml:"p"`
}

type pptxAPara struct {
	Runs []pptxARun `xml:"r"`
}

type pptxARun struct {
	Text string `xml:"t"`
}

func extractPPTXSlideText(data []byte) string {
	var slide pptxSlide
	if err := xml.Unmarshal(data, &slide); err != nil {
		return ""
	}

	var parts []string
	for _, sp := range slide.CSld.SpTree.SPs {
		if sp.TxBody == nil {
			continue
		}
		for _, para := range sp.TxBody.Paras {
			var line strings.Builder
			for _, run := range para.Runs {
				line.WriteString(run.Text)
			}
			if t := strings.TrimSpace(line.String()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func extractSlideNumber(name string) int {
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	var num int
	fmt.Sscanf(name, "%d", &num)
	return num
}
