//go:build cgo

package textindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bbiangul/ragcore/vectorstore"
	"github.com/google/uuid"
)

// newSharedDB opens a vectorstore (which creates the base schema) and a
// textindex (which layers FTS5 on top) against the same file, mirroring how
// ragengine wires the two packages together.
func newSharedDB(t *testing.T) (*vectorstore.Store, *Index) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	vs, err := vectorstore.Open(dbPath, 4)
	if err != nil {
		t.Fatalf("opening vectorstore: %v", err)
	}
	t.Cleanup(func() { vs.Close() })

	idx, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening textindex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	return vs, idx
}

func TestSearchFindsInsertedChunk(t *testing.T) {
	vs, idx := newSharedDB(t)
	ctx := context.Background()

	doc := vectorstore.Document{DocID: uuid.NewString(), Title: "T", Source: "s.pdf", Format: "pdf"}
	if err := vs.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("upserting document: %v", err)
	}

	chunk := vectorstore.Chunk{
		ChunkID: uuid.NewString(), DocID: doc.DocID, ChunkIndex: 0,
		Text: "the quick brown fox jumps over the lazy dog", ContextualizedText: "the quick brown fox jumps over the lazy dog",
	}
	if _, err := vs.UpsertChunks(ctx, []vectorstore.Chunk{chunk}, nil); err != nil {
		t.Fatalf("upserting chunk: %v", err)
	}

	results, err := idx.Search(ctx, "fox", 10, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ChunkID != chunk.ChunkID {
		t.Errorf("unexpected chunk id: %s", results[0].ChunkID)
	}
}

func TestSearchReflectsUpdate(t *testing.T) {
	vs, idx := newSharedDB(t)
	ctx := context.Background()

	doc := vectorstore.Document{DocID: uuid.NewString(), Title: "T", Source: "u.pdf", Format: "pdf"}
	vs.UpsertDocument(ctx, doc)

	chunkID := uuid.NewString()
	c := vectorstore.Chunk{ChunkID: chunkID, DocID: doc.DocID, ChunkIndex: 0, Text: "original wording", ContextualizedText: "original wording"}
	vs.UpsertChunks(ctx, []vectorstore.Chunk{c}, nil)

	c.Text = "revised wording"
	c.ContextualizedText = "revised wording"
	if _, err := vs.UpsertChunks(ctx, []vectorstore.Chunk{c}, nil); err != nil {
		t.Fatalf("re-upserting chunk: %v", err)
	}

	results, err := idx.Search(ctx, "revised", 10, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected updated text to be searchable, got %d results", len(results))
	}

	stale, err := idx.Search(ctx, "original", 10, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected stale text to no longer match after update, got %d results", len(stale))
	}
}

func TestCommitIsNoOp(t *testing.T) {
	_, idx := newSharedDB(t)
	if err := idx.Commit(context.Background()); err != nil {
		t.Errorf("Commit should be a no-op, got error: %v", err)
	}
}
