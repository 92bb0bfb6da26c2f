package embedding

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	vectors [][]float32
	err     error
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func TestEmbedCachesDimension(t *testing.T) {
	m := New(&fakeProvider{vectors: [][]float32{{1, 2, 3}}})

	vecs, err := m.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 3 {
		t.Fatalf("unexpected vectors: %v", vecs)
	}
	if m.Dimension() != 3 {
		t.Errorf("Dimension() = %d, want 3", m.Dimension())
	}
}

func TestEmbedRejectsDimensionDrift(t *testing.T) {
	p := &fakeProvider{vectors: [][]float32{{1, 2, 3}}}
	m := New(p)

	if _, err := m.Embed(context.Background(), []string{"hello"}); err != nil {
		t.Fatalf("first Embed returned error: %v", err)
	}

	p.vectors = [][]float32{{1, 2}}
	if _, err := m.Embed(context.Background(), []string{"world"}); err == nil {
		t.Fatal("expected error when embedding dimension changes mid-process")
	}
}

func TestEmbedPropagatesProviderError(t *testing.T) {
	m := New(&fakeProvider{err: errors.New("upstream down")})
	if _, err := m.Embed(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	m := New(&fakeProvider{})
	vecs, err := m.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = (%v, %v), want (nil, nil)", vecs, err)
	}
}
