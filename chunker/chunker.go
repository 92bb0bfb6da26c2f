// Package chunker segments a parsed document into retrieval-sized chunks.
// Text sections use a sliding window over paragraph/sentence boundaries;
// FormFields, Table, and Relationships sections are never split — each
// becomes one atomic chunk, since splitting a table row or a field list
// would destroy the only thing that makes it retrievable.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/bbiangul/ragcore/document"
)

// Config controls chunking behaviour (spec.md §4.2).
type Config struct {
	MaxTokens int // maximum estimated tokens per chunk
	MinTokens int // below this, a chunk is merged into a same-type predecessor
	Overlap   int // token overlap between consecutive sliding-window chunks
}

// Chunker converts parsed document sections into flat, contiguously
// indexed chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with cfg; zero fields fall back to defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 128
	}
	if cfg.MinTokens == 0 {
		cfg.MinTokens = 64
	}
	return &Chunker{cfg: cfg}
}

// Chunk is the chunker's output: a candidate for ragengine.Chunk, missing
// only the fields the engine assigns at ingest time (ChunkID, DocID,
// Vector, CreatedAt).
type Chunk struct {
	ChunkIndex          uint32
	Text                string // the chunk as shown to a user/LLM
	ContextualizedText  string // Text prefixed with title/source/heading, used for embedding and BM25 only
	Heading             string
	PageNumber          int
	ChunkType           string // "paragraph","table","form_fields","relationships","definition","requirement","section"
	Metadata            map[string]string
	ContentHash         string
}

// Chunk segments sections into a flat, contiguous ChunkIndex sequence.
// title and source populate the contextual prefix on every chunk
// (spec.md §4.2: "contextual prefixing... not shown to user").
func (c *Chunker) Chunk(title, source string, sections []document.Section) []Chunk {
	var out []Chunk
	var idx uint32

	for _, sec := range sections {
		switch sec.Kind {
		case document.KindFormFields:
			out = append(out, c.atomicFieldsChunk(sec, title, source, idx))
			idx++
		case document.KindTable:
			out = append(out, c.atomicTableChunk(sec, title, source, idx))
			idx++
		case document.KindRelationships:
			out = append(out, c.atomicChunk(sec, "relationships", title, source, idx))
			idx++
		default:
			for _, frag := range c.splitContent(sec.Content) {
				chunkType := sec.Type
				if chunkType == "" {
					chunkType = ContentType(frag)
				}
				out = append(out, Chunk{
					ChunkIndex:         idx,
					Text:               frag,
					ContextualizedText: contextualize(title, source, sec.Heading, frag),
					Heading:            sec.Heading,
					PageNumber:         sec.PageNumber,
					ChunkType:          chunkType,
					Metadata:           annotate(chunkType, frag, sec.Metadata),
					ContentHash:        contentHash(frag),
				})
				idx++
			}
		}
	}

	out = mergeUndersizedTrailing(out, c.cfg.MinTokens)
	return out
}

func (c *Chunker) atomicFieldsChunk(sec document.Section, title, source string, idx uint32) Chunk {
	var b strings.Builder
	for _, f := range sec.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	text := strings.TrimSpace(b.String())
	return Chunk{
		ChunkIndex:         idx,
		Text:               text,
		ContextualizedText: contextualize(title, source, sec.Heading, text),
		Heading:            sec.Heading,
		PageNumber:         sec.PageNumber,
		ChunkType:          "form_fields",
		Metadata:           sec.Metadata,
		ContentHash:        contentHash(text),
	}
}

func (c *Chunker) atomicTableChunk(sec document.Section, title, source string, idx uint32) Chunk {
	text := renderTable(sec.Table)
	heading := sec.Heading
	if heading == "" && sec.Table != nil {
		heading = sec.Table.Caption
	}
	return Chunk{
		ChunkIndex:         idx,
		Text:               text,
		ContextualizedText: contextualize(title, source, heading, text),
		Heading:            heading,
		PageNumber:         sec.PageNumber,
		ChunkType:          "table",
		Metadata:           sec.Metadata,
		ContentHash:        contentHash(text),
	}
}

func (c *Chunker) atomicChunk(sec document.Section, chunkType, title, source string, idx uint32) Chunk {
	return Chunk{
		ChunkIndex:         idx,
		Text:               sec.Content,
		ContextualizedText: contextualize(title, source, sec.Heading, sec.Content),
		Heading:            sec.Heading,
		PageNumber:         sec.PageNumber,
		ChunkType:          chunkType,
		Metadata:           sec.Metadata,
		ContentHash:        contentHash(sec.Content),
	}
}

// annotate enriches a fragment's metadata with structured hints extracted
// by the domain-specific detectors in legal.go and engineering.go, so a
// downstream reranker or filter can favor or exclude requirement/definition
// chunks without re-parsing the text.
func annotate(chunkType, frag string, base map[string]string) map[string]string {
	meta := make(map[string]string, len(base)+2)
	for k, v := range base {
		meta[k] = v
	}
	switch chunkType {
	case "requirement":
		if reqs := DetectRequirements(frag); len(reqs) > 0 {
			meta["requirement_level"] = reqs[0].Level
			meta["requirement_keyword"] = reqs[0].Keyword
		}
	case "definition":
		if defs := ExtractDefinitions(frag); len(defs) > 0 {
			meta["defined_term"] = defs[0].Term
		}
	}
	if num, ok := DetectNumbering(firstLine(frag)); ok {
		meta["numbering"] = num
	}
	if HasCrossReferences(frag) {
		meta["has_cross_references"] = "true"
	}
	if refs := DetectStandardsReferences(frag); len(refs) > 0 {
		meta["standards_reference"] = refs[0].Standard
	}
	return meta
}

// renderTable turns a TableData into pipe-delimited text for embedding and
// display; the structured form (TableData) is kept only in Metadata since
// the retrieval path is pure text.
func renderTable(t *document.TableData) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	if len(t.Headers) > 0 {
		b.WriteString("| " + strings.Join(t.Headers, " | ") + " |\n")
	}
	for _, row := range t.Rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return strings.TrimSpace(b.String())
}

// contextualize builds the text used for embedding/BM25 only — never
// shown to the user (spec.md §4.2). Joins whatever prefix parts are
// non-empty so a bare chunk with no title/source/heading still embeds
// cleanly.
func contextualize(title, source, heading, text string) string {
	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if source != "" {
		parts = append(parts, source)
	}
	if heading != "" {
		parts = append(parts, heading)
	}
	if len(parts) == 0 {
		return text
	}
	return strings.Join(parts, " — ") + "\n\n" + text
}

// splitContent breaks text into fragments that each fit within MaxTokens,
// splitting at paragraph then sentence boundaries, carrying Overlap tokens
// of trailing text between consecutive fragments.
func (c *Chunker) splitContent(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{text}
	}

	paragraphs := splitParagraphs(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlapText := ""

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)

		if paraTokens > c.cfg.MaxTokens {
			if current.Len() > 0 {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				overlapText = extractOverlap(current.String(), c.cfg.Overlap)
				current.Reset()
				currentTokens = 0
			}
			sentenceFragments := c.splitBySentences(para, overlapText)
			fragments = append(fragments, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlapText = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.Overlap)
			}
			continue
		}

		if currentTokens+paraTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlapText = extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0

			if overlapText != "" {
				current.WriteString(overlapText)
				current.WriteString("\n\n")
				currentTokens = estimateTokens(overlapText)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

func (c *Chunker) splitBySentences(text string, initialOverlap string) []string {
	sentences := splitSentences(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		current.WriteString(" ")
		currentTokens = estimateTokens(initialOverlap)
	}

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)

		if currentTokens+sentTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlap := extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString(" ")
				currentTokens = estimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// mergeUndersizedTrailing walks the chunks from the end and folds every
// chunk smaller than minTokens into its predecessor when both share a
// ChunkType, so a run of small fragments accumulates into one chunk; it
// then renumbers ChunkIndex to stay contiguous.
func mergeUndersizedTrailing(chunks []Chunk, minTokens int) []Chunk {
	for i := len(chunks) - 1; i > 0; i-- {
		if chunks[i].ChunkType != chunks[i-1].ChunkType {
			continue
		}
		if estimateTokens(chunks[i].Text) >= minTokens {
			continue
		}
		chunks[i-1].Text = strings.TrimSpace(chunks[i-1].Text + "\n\n" + chunks[i].Text)
		chunks[i-1].ContextualizedText = strings.TrimSpace(chunks[i-1].ContextualizedText + "\n\n" + chunks[i].Text)
		chunks[i-1].ContentHash = contentHash(chunks[i-1].Text)
		chunks = append(chunks[:i], chunks[i+1:]...)
	}
	for i := range chunks {
		chunks[i].ChunkIndex = uint32(i)
	}
	return chunks
}

func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple tokenizer: splits on ./?/! followed by
// whitespace or end of string.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords > len(words) {
		maxWords = len(words)
	}
	if maxWords == 0 {
		return ""
	}
	return strings.Join(words[len(words)-maxWords:], " ")
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// MarshalMetadata serializes a metadata map to JSON, defaulting to "{}".
func MarshalMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
