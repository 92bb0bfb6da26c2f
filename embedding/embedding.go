// Package embedding wraps an llmprovider.Provider's Embed call behind a
// narrow interface so ragengine doesn't depend on the full provider
// surface (chat, tools, streaming) just to turn text into vectors.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/bbiangul/ragcore"
)

// Provider is the subset of llmprovider.Provider the embedding model needs.
// Defined locally (rather than imported) to keep this package free of a
// dependency on llmprovider's chat/tool types.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Model wraps a Provider, caching and enforcing a fixed dimension for the
// lifetime of the process — mirroring the teacher's config-fixed
// EmbeddingDim assumption in store.New.
type Model struct {
	provider Provider
	mu       sync.Mutex
	dim      int
}

// New returns a Model backed by provider.
func New(provider Provider) *Model {
	return &Model{provider: provider}
}

// Embed generates embeddings for a batch of texts, asserting every vector
// matches the dimension observed on the first successful call.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := m.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ragcore.ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", ragcore.ErrEmbeddingFailed, len(vectors), len(texts))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range vectors {
		if m.dim == 0 {
			m.dim = len(v)
			continue
		}
		if len(v) != m.dim {
			return nil, fmt.Errorf("%w: embedding dimension changed from %d to %d mid-process", ragcore.ErrEmbeddingFailed, m.dim, len(v))
		}
	}

	return vectors, nil
}

// Dimension returns the embedding dimension observed so far, or 0 if no
// successful call has been made yet.
func (m *Model) Dimension() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dim
}
