//go:build cgo

package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDoc(source string) Document {
	return Document{
		DocID:  uuid.NewString(),
		Title:  "Sample",
		Source: source,
		Format: "pdf",
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("a.pdf")
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("upserting document: %v", err)
	}

	got, err := s.GetDocumentInfo(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.Source != "a.pdf" || got.Title != "Sample" {
		t.Errorf("unexpected document: %+v", got)
	}
}

func TestUpsertChunksAndVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := sampleDoc("b.pdf")
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("upserting document: %v", err)
	}

	chunks := []Chunk{
		{ChunkID: uuid.NewString(), DocID: doc.DocID, ChunkIndex: 0, Text: "alpha", ContextualizedText: "alpha"},
		{ChunkID: uuid.NewString(), DocID: doc.DocID, ChunkIndex: 1, Text: "beta", ContextualizedText: "beta"},
	}
	vectors := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}

	if _, err := s.UpsertChunks(ctx, chunks, vectors); err != nil {
		t.Fatalf("upserting chunks: %v", err)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 2, "")
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Text != "alpha" {
		t.Errorf("expected closest match to be alpha, got %q", results[0].Text)
	}
}

func TestGetByIDsPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := sampleDoc("c.pdf")
	s.UpsertDocument(ctx, doc)

	c1 := Chunk{ChunkID: uuid.NewString(), DocID: doc.DocID, ChunkIndex: 0, Text: "first", ContextualizedText: "first"}
	c2 := Chunk{ChunkID: uuid.NewString(), DocID: doc.DocID, ChunkIndex: 1, Text: "second", ContextualizedText: "second"}
	s.UpsertChunks(ctx, []Chunk{c1, c2}, nil)

	got, err := s.GetByIDs(ctx, []string{c2.ChunkID, c1.ChunkID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(got) != 2 || got[0].Text != "second" || got[1].Text != "first" {
		t.Fatalf("GetByIDs did not preserve requested order: %+v", got)
	}
}

func TestGetNeighbors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := sampleDoc("d.pdf")
	s.UpsertDocument(ctx, doc)

	var chunks []Chunk
	for i := uint32(0); i < 5; i++ {
		chunks = append(chunks, Chunk{
			ChunkID: uuid.NewString(), DocID: doc.DocID, ChunkIndex: i,
			Text: "chunk", ContextualizedText: "chunk",
		})
	}
	s.UpsertChunks(ctx, chunks, nil)

	got, err := s.GetNeighbors(ctx, doc.DocID, 2, 1)
	if err != nil {
		t.Fatalf("GetNeighbors: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 neighbors (1,2,3), got %d", len(got))
	}
	if got[0].ChunkIndex != 1 || got[2].ChunkIndex != 3 {
		t.Errorf("unexpected neighbor window: %+v", got)
	}
}

func TestDeleteBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := sampleDoc("e.pdf")
	s.UpsertDocument(ctx, doc)
	s.UpsertChunks(ctx, []Chunk{{ChunkID: uuid.NewString(), DocID: doc.DocID, ChunkIndex: 0, Text: "x", ContextualizedText: "x"}}, nil)

	if err := s.DeleteBySource(ctx, "e.pdf"); err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}
	if _, err := s.GetDocumentInfo(ctx, doc.DocID); err == nil {
		t.Error("expected document to be gone after DeleteBySource")
	}
	chunks, err := s.ListChunks(ctx, doc.DocID, 10)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Error("expected cascade delete to remove chunks")
	}
}
