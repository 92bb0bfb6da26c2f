// Package ragengine owns document ingestion and the score-aware
// comprehensive search pipeline: dual retrieve, fuse, hydrate, threshold,
// dedup, rerank, diversify, expand.
package ragengine

import (
	"time"

	"github.com/bbiangul/ragcore/document"
)

// ResultOrigin records which retrieval leg(s) produced a result.
type ResultOrigin string

const (
	OriginVector     ResultOrigin = "Vector"
	OriginTextSearch ResultOrigin = "TextSearch"
	OriginBoth       ResultOrigin = "Both"
)

// Chunk is ragengine's view of a persisted chunk, carrying the field
// vectorstore.Chunk and chunker.Chunk don't: its embedding.
type Chunk struct {
	ChunkID             string
	DocID               string
	ChunkIndex          uint32
	Text                string
	ContextualizedText  string
	Heading             string
	SpaceID             string
	Title               string
	Source              string
	Metadata            map[string]string
	Vector              []float32
	CreatedAt           time.Time
}

// Document is the ingest-facing document record.
type Document struct {
	DocID     string
	Title     string
	Authors   []string
	Source    string
	Year      int
	Format    string
	Language  string
	SpaceID   string
	Metadata  map[string]string
	Citation  string
	CreatedAt time.Time
}

// Citation locates a result's position for the chat layer's [N] markers.
type Citation struct {
	Title  string
	Source string
	Page   int
}

// ComprehensiveResult is one ranked hit from SearchComprehensive.
type ComprehensiveResult struct {
	ChunkID  string
	DocID    string
	Title    string
	Source   string
	Heading  string
	Snippet  string
	Score    float64
	Origin   ResultOrigin
	Citation Citation
}

// ID and RelevanceScore satisfy query.Scored for round-robin merge.
func (r ComprehensiveResult) ID() string             { return r.ChunkID }
func (r ComprehensiveResult) RelevanceScore() float64 { return r.Score }

// Decision mirrors query.Decision, returned alongside search results so
// callers can explain why retrieval did or didn't happen.
type Decision struct {
	Intent         string
	ShouldRetrieve bool
	Strategy       string
	Reasoning      string
	Confidence     float64
}

// IngestResult reports what AddDocument/AddDocumentFromFile did.
type IngestResult struct {
	DocID       string
	ChunksAdded int
}

// FolderResult reports a recursive folder ingest.
type FolderResult struct {
	FilesProcessed int
	FilesTotal     int
	Chunks         int
	SuccessRate    float64
}

// DocumentInfo is the list_documents projection.
type DocumentInfo struct {
	DocID      string
	Title      string
	Source     string
	Format     string
	Language   string
	SpaceID    string
	NumChunks  int
	CreatedAt  time.Time
}

// Statistics is the statistics() projection.
type Statistics struct {
	TotalChunks       int
	TotalDocuments    int
	FTSIndexed        int
	EmbeddingDimension int
	IndexSizeMB       float64
	DataDir           string
}

var supportedExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".pptx": true, ".xlsx": true,
	".txt": true, ".md": true, ".html": true, ".htm": true,
}

// SupportedExtension reports whether ext (including the leading dot) is an
// ingestible file type, used by LinkFolder's recursive scan allowlist.
func SupportedExtension(ext string) bool { return supportedExtensions[ext] }

// parsedToSections is a narrow seam so callers passing an already-parsed
// document.ParsedDocument don't need a ragengine-specific type.
type parsedToSections = document.ParsedDocument
