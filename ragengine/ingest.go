package ragengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/chunker"
	"github.com/bbiangul/ragcore/document"
	"github.com/bbiangul/ragcore/embedding"
	"github.com/bbiangul/ragcore/textindex"
	"github.com/bbiangul/ragcore/vectorstore"
)

// AddDocumentInput is the add_document() command body (spec.md §6).
type AddDocumentInput struct {
	Content  string
	Title    string
	Authors  []string
	Source   string
	Year     int
	Format   string
	SpaceID  string
	Metadata map[string]string
}

// Ingest holds everything AddDocument/AddDocumentFromFile/LinkFolder need:
// the persistence layer, the chunker, the parser registry, and the
// embedder. It is the writer-side half of the engine. Neither this type
// nor engine.Engine takes a lock, so ingest calls are not serialized
// against each other or against searches.
type Ingest struct {
	store    *vectorstore.Store
	index    *textindex.Index
	chunker  *chunker.Chunker
	parsers  *document.Registry
	embedder *embedding.Model
	cfg      ragcore.RAGConfig
}

// NewIngest wires the ingest half of the engine.
func NewIngest(store *vectorstore.Store, index *textindex.Index, parsers *document.Registry, embedder *embedding.Model, cfg ragcore.RAGConfig) *Ingest {
	return &Ingest{
		store:    store,
		index:    index,
		parsers:  parsers,
		embedder: embedder,
		cfg:      cfg,
		chunker: chunker.New(chunker.Config{
			MaxTokens: cfg.MaxChunkTokens,
			MinTokens: cfg.MinChunkTokens,
			Overlap:   cfg.ChunkOverlap,
		}),
	}
}

// AddDocument ingests already-extracted content directly, re-indexing
// idempotently: any existing document at the same source is deleted before
// the new chunks are inserted (spec.md §5 ordering: delete precedes
// insert).
func (ig *Ingest) AddDocument(ctx context.Context, in AddDocumentInput) (IngestResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return IngestResult{}, ragcore.ErrEmptyDocument
	}

	sections := []document.Section{{
		Kind:    document.KindText,
		Content: in.Content,
		Type:    "section",
	}}
	return ig.ingestSections(ctx, in, sections)
}

// AddDocumentFromFile parses path with the registered parser for its
// extension, then ingests the resulting sections.
func (ig *Ingest) AddDocumentFromFile(ctx context.Context, path string, spaceID string, metadata map[string]string) (IngestResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return IngestResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if ig.cfg.MaxFileSizeMB > 0 && info.Size() > ig.cfg.MaxFileSizeMB*1024*1024 {
		return IngestResult{}, fmt.Errorf("%s exceeds max file size of %dMB", path, ig.cfg.MaxFileSizeMB)
	}

	parsed, err := ig.parsers.ParseFile(ctx, path)
	if err != nil {
		return IngestResult{}, &ragcore.ParseFailedError{Format: filepath.Ext(path), Reason: err.Error()}
	}

	title := parsed.Title
	if title == "" {
		title = filepath.Base(path)
	}

	in := AddDocumentInput{
		Title:    title,
		Source:   path,
		Format:   parsed.Format,
		SpaceID:  spaceID,
		Metadata: metadata,
	}
	return ig.ingestSections(ctx, in, parsed.Sections)
}

// LinkFolder recursively scans root for supported extensions and ingests
// each one. A per-file parse failure is logged and counted against the
// success rate rather than aborting the whole walk (spec.md §7: "ingestion
// errors on individual files don't fail folder-link op").
func (ig *Ingest) LinkFolder(ctx context.Context, root string, spaceID string, metadata map[string]string) (FolderResult, error) {
	var res FolderResult
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !SupportedExtension(strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		res.FilesTotal++

		r, ierr := ig.AddDocumentFromFile(ctx, path, spaceID, metadata)
		if ierr != nil {
			slog.Warn("ragengine: skipping file", "path", path, "error", ierr)
			return nil
		}
		res.FilesProcessed++
		res.Chunks += r.ChunksAdded
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.FilesTotal > 0 {
		res.SuccessRate = float64(res.FilesProcessed) / float64(res.FilesTotal)
	}
	return res, nil
}

func (ig *Ingest) ingestSections(ctx context.Context, in AddDocumentInput, sections []document.Section) (IngestResult, error) {
	if err := ig.store.DeleteBySource(ctx, in.Source); err != nil {
		return IngestResult{}, fmt.Errorf("deleting prior revision of %s: %w", in.Source, err)
	}

	docID := uuid.NewString()
	meta := mergeDocMetadata(in)

	if err := ig.store.UpsertDocument(ctx, vectorstore.Document{
		DocID:    docID,
		Title:    in.Title,
		Source:   in.Source,
		Format:   in.Format,
		Metadata: meta,
	}); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ragcore.ErrIndexIOError, err)
	}

	chunks := ig.chunker.Chunk(in.Title, in.Source, sections)
	if len(chunks) == 0 {
		return IngestResult{DocID: docID, ChunksAdded: 0}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.ContextualizedText
	}
	vectors, err := ig.embedder.Embed(ctx, texts)
	if err != nil {
		return IngestResult{}, err
	}

	now := time.Now()
	storeChunks := make([]vectorstore.Chunk, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = vectorstore.Chunk{
			ChunkID:            uuid.NewString(),
			DocID:              docID,
			ChunkIndex:         c.ChunkIndex,
			Text:               c.Text,
			ContextualizedText: c.ContextualizedText,
			Heading:            c.Heading,
			SpaceID:            in.SpaceID,
			Title:              in.Title,
			Source:             in.Source,
			Metadata:           c.Metadata,
			CreatedAt:          now,
		}
	}

	if _, err := ig.store.UpsertChunks(ctx, storeChunks, vectors); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ragcore.ErrIndexIOError, err)
	}
	if err := ig.index.Commit(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ragcore.ErrIndexIOError, err)
	}

	return IngestResult{DocID: docID, ChunksAdded: len(chunks)}, nil
}

func mergeDocMetadata(in AddDocumentInput) map[string]string {
	meta := make(map[string]string, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if len(in.Authors) > 0 {
		meta["authors"] = strings.Join(in.Authors, ", ")
	}
	if in.Year != 0 {
		meta["year"] = strconv.Itoa(in.Year)
	}
	return meta
}
