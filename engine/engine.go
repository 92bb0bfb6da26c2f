// Package engine wires every leaf package into the root Engine type
// cmd/server constructs. It lives outside package ragcore specifically to
// avoid an import cycle: ragcore is a pure leaf (Config + error
// sentinels) imported by document/embedding/ragengine/etc., so the type
// that imports all of THOSE packages cannot also live in ragcore.
package engine

import (
	"context"
	"fmt"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/agent"
	"github.com/bbiangul/ragcore/chat"
	"github.com/bbiangul/ragcore/document"
	"github.com/bbiangul/ragcore/embedding"
	"github.com/bbiangul/ragcore/llmprovider"
	"github.com/bbiangul/ragcore/memory"
	"github.com/bbiangul/ragcore/query"
	"github.com/bbiangul/ragcore/ragengine"
	"github.com/bbiangul/ragcore/reranker"
	"github.com/bbiangul/ragcore/textindex"
	"github.com/bbiangul/ragcore/toolloop"
	"github.com/bbiangul/ragcore/vectorstore"
)

// Engine is the single object cmd/server constructs: every persisted
// store, every provider, and the chat/agent surfaces layered on top.
type Engine struct {
	cfg ragcore.Config

	store *vectorstore.Store
	index *textindex.Index

	chatProvider llmprovider.Provider
	chatGenCfg   llmprovider.GenConfig

	ingest *ragengine.Ingest
	search *ragengine.Search

	analyzer *query.Analyzer
	registry *toolloop.Registry
	agents   *agent.Runtime
	memory   memory.Store

	Chat *chat.Engine
}

// New opens the persisted stores at cfg's resolved paths and wires the
// full provider/domain stack. Callers must call Close when done.
func New(cfg ragcore.Config) (*Engine, error) {
	dbPath := cfg.ResolveDBPath()
	store, err := vectorstore.Open(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("engine: opening vector store: %w", err)
	}
	index, err := textindex.Open(dbPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: opening text index: %w", err)
	}

	chatProvider, err := llmprovider.New(toProviderConfig(cfg.Chat))
	if err != nil {
		store.Close()
		index.Close()
		return nil, fmt.Errorf("engine: configuring chat provider: %w", err)
	}

	embedAdapter := llmprovider.NewEmbedAdapter(toProviderConfig(cfg.Embedding))
	embedder := embedding.New(embedAdapter)

	parsers := document.NewRegistry(nil)
	parsers.Register("pdf", &document.PDFParser{Threshold: cfg.RAG.GarbleThreshold})
	rerank := buildReranker(cfg)

	ingest := ragengine.NewIngest(store, index, parsers, embedder, cfg.RAG)
	search := ragengine.NewSearch(store, index, embedder, rerank, cfg.RAG)

	chatAdapter := llmprovider.ChatAdapter{Provider: chatProvider, GenConfig: toGenConfig(cfg.Chat)}
	analyzer := query.NewAnalyzer(chatAdapter)

	registry := toolloop.NewRegistry()
	registry.Register(newRAGSearchTool(search))
	runtime := agent.NewRuntime(chatProvider, registry, search, cfg.Agent)

	mem := memory.NewInMemory()

	chatEngine := chat.New(chatProvider, toGenConfig(cfg.Chat), search, analyzer, registry, mem, rerank, cfg.Chat_, cfg.Agent, store)

	e := &Engine{
		cfg: cfg, store: store, index: index,
		chatProvider: chatProvider, chatGenCfg: toGenConfig(cfg.Chat),
		ingest: ingest, search: search,
		analyzer: analyzer, registry: registry, agents: runtime, memory: mem,
		Chat: chatEngine,
	}
	return e, nil
}

// Close releases the underlying SQLite connections.
func (e *Engine) Close() error {
	if err := e.index.Close(); err != nil {
		e.store.Close()
		return err
	}
	return e.store.Close()
}

// Registry exposes the tool registry so callers can register domain tools
// before the first chat.
func (e *Engine) Registry() *toolloop.Registry { return e.registry }

// RegisterAgent makes def reachable via chat.Engine's AgentChat dispatch.
func (e *Engine) RegisterAgent(def agent.Definition) {
	e.Chat.RegisterAgent(def, e.agents)
}

// AddDocument ingests raw content directly (spec.md §6 add_document).
func (e *Engine) AddDocument(ctx context.Context, in ragengine.AddDocumentInput) (ragengine.IngestResult, error) {
	return e.ingest.AddDocument(ctx, in)
}

// AddDocumentFromFile parses and ingests a file on disk (spec.md §6
// upload_file).
func (e *Engine) AddDocumentFromFile(ctx context.Context, path, spaceID string) (ragengine.IngestResult, error) {
	return e.ingest.AddDocumentFromFile(ctx, path, spaceID, nil)
}

// LinkFolder recursively ingests every supported file under root (spec.md
// §6 link_folder).
func (e *Engine) LinkFolder(ctx context.Context, root, spaceID string) (ragengine.FolderResult, error) {
	return e.ingest.LinkFolder(ctx, root, spaceID, nil)
}

// DeleteBySource removes one document and its chunks (spec.md §6
// delete_by_source).
func (e *Engine) DeleteBySource(ctx context.Context, source string) error {
	return e.store.DeleteBySource(ctx, source)
}

// DeleteSpace removes every chunk tagged with spaceID (spec.md §6
// delete_space).
func (e *Engine) DeleteSpace(ctx context.Context, spaceID string) error {
	return e.store.DeleteBySpaceID(ctx, spaceID)
}

// ListDocuments returns every ingested document (spec.md §6
// list_documents).
func (e *Engine) ListDocuments(ctx context.Context) ([]ragengine.DocumentInfo, error) {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ragengine.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, ragengine.DocumentInfo{
			DocID: d.DocID, Title: d.Title, Source: d.Source,
			Format: d.Format, Language: d.Language, CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

// Statistics reports corpus size (spec.md §6 statistics).
func (e *Engine) Statistics(ctx context.Context) (ragengine.Statistics, error) {
	chunks, err := e.store.CountChunks(ctx)
	if err != nil {
		return ragengine.Statistics{}, err
	}
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return ragengine.Statistics{}, err
	}
	return ragengine.Statistics{
		TotalChunks:        chunks,
		TotalDocuments:     len(docs),
		FTSIndexed:         chunks,
		EmbeddingDimension: e.cfg.EmbeddingDim,
		DataDir:            e.cfg.ResolveDataDir(),
	}, nil
}

// Search runs the full comprehensive search pipeline directly, bypassing
// the chat surface (spec.md §6 search).
func (e *Engine) Search(ctx context.Context, q string, k int, spaceID string) ([]ragengine.ComprehensiveResult, error) {
	return e.search.SearchComprehensive(ctx, q, k, spaceID)
}

func toProviderConfig(c ragcore.LLMConfig) llmprovider.Config {
	return llmprovider.Config{
		Provider: c.Provider,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
		APIKey:   c.APIKey,
		IsLocal:  c.Provider == "ollama" || c.Provider == "lmstudio",
	}
}

func toGenConfig(c ragcore.LLMConfig) llmprovider.GenConfig {
	return llmprovider.GenConfig{Temperature: 0.2, MaxTokens: 4096}
}

// buildReranker picks an LLM-judge reranker when cfg.Reranker names a
// provider, falling back to the dependency-free lexical reranker
// otherwise (spec.md §4.7's reranker is optional).
func buildReranker(cfg ragcore.Config) reranker.Reranker {
	if cfg.Reranker.Provider == "" {
		return reranker.NewLexical()
	}
	provider, err := llmprovider.New(toProviderConfig(cfg.Reranker))
	if err != nil {
		return reranker.NewLexical()
	}
	adapter := llmprovider.ChatAdapter{Provider: provider, GenConfig: toGenConfig(cfg.Reranker)}
	return reranker.NewLLM(adapter)
}
