package ragcore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ragcore engine.
type Config struct {
	// DBPath is the full path to the SQLite database file backing the
	// vector store and text index. If empty, defaults to ~/.ragcore/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. "home" (default) uses ~/.ragcore/, "local" uses cwd.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// DataDir is reported by the engine's statistics and the CLI. No state
	// is written under it: the vector store and the text index share the
	// single SQLite file ResolveDBPath names, and agent definitions are kept
	// in memory only.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LLM providers.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`
	Vision    LLMConfig `json:"vision" yaml:"vision"`
	Reranker  LLMConfig `json:"reranker" yaml:"reranker"` // optional LLM-judge reranker; empty provider = lexical only

	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	RAG       RAGConfig       `json:"rag" yaml:"rag"`
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`
	Agent     AgentRunConfig  `json:"agent" yaml:"agent"`
	Chat_     ChatConfig      `json:"chat_engine" yaml:"chat_engine"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, groq, xai, gemini, anthropic, openai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// RAGConfig controls ingestion and the SearchComprehensive pipeline
// (spec.md §4.2, §4.7).
type RAGConfig struct {
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	MinChunkTokens int `json:"min_chunk_tokens" yaml:"min_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	CandidateMultiplier int     `json:"candidate_multiplier" yaml:"candidate_multiplier"`
	RRFK                int     `json:"rrf_k" yaml:"rrf_k"`
	ScoreWeight         float64 `json:"score_weight" yaml:"score_weight"` // open question §9: exposed, default 0.5
	MinScoreThreshold   float64 `json:"min_score_threshold" yaml:"min_score_threshold"`
	DedupJaccard        float64 `json:"dedup_jaccard" yaml:"dedup_jaccard"` // default 0.75
	MMRLambda           float64 `json:"mmr_lambda" yaml:"mmr_lambda"`       // default 0.7
	NeighborWindow      int     `json:"neighbor_window" yaml:"neighbor_window"`

	GarbleThreshold float64 `json:"garble_threshold" yaml:"garble_threshold"` // default 0.25, §9 open question
	MaxFileSizeMB   int64   `json:"max_file_size_mb" yaml:"max_file_size_mb"` // default 10, §5 resource policy
}

// RetrievalConfig controls query analysis, rewriting and decomposition
// (spec.md §4.8).
type RetrievalConfig struct {
	MaxQueryVariants int `json:"max_query_variants" yaml:"max_query_variants"` // default 3
}

// AgentRunConfig bounds agent/crew execution (spec.md §4.11).
type AgentRunConfig struct {
	DefaultMaxToolCalls   int `json:"default_max_tool_calls" yaml:"default_max_tool_calls"`
	DefaultTimeoutSeconds int `json:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	ToolTimeoutSeconds    int `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds"` // default 30
}

// ChatConfig controls the chat engine's context budget and timeouts
// (spec.md §4.12, §5).
type ChatConfig struct {
	SystemBudgetTokens   int     `json:"system_budget_tokens" yaml:"system_budget_tokens"`     // default 2000
	ResponseBudgetTokens int     `json:"response_budget_tokens" yaml:"response_budget_tokens"`  // default 4096
	DocumentsShare       float64 `json:"documents_share" yaml:"documents_share"`                // default 0.60
	HistoryShare         float64 `json:"history_share" yaml:"history_share"`                    // default 0.25
	MemoryShare          float64 `json:"memory_share" yaml:"memory_share"`                      // default 0.15
	SearchLLMTimeoutSec  int     `json:"search_llm_timeout_sec" yaml:"search_llm_timeout_sec"`  // default 90
	MemoryTimeoutSec     int     `json:"memory_timeout_sec" yaml:"memory_timeout_sec"`          // default 3
	LowConfidenceScore   float64 `json:"low_confidence_score" yaml:"low_confidence_score"`      // default 0.35
	RelevanceFloorRatio  float64 `json:"relevance_floor_ratio" yaml:"relevance_floor_ratio"`    // default 0.30
	DedupJaccard         float64 `json:"dedup_jaccard" yaml:"dedup_jaccard"`                    // default 0.60
	ScoreCliffRatio      float64 `json:"score_cliff_ratio" yaml:"score_cliff_ratio"`            // default 0.40
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.ragcore/ragcore.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "ragcore",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Vision: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim: 768,
		RAG: RAGConfig{
			MaxChunkTokens:      1024,
			MinChunkTokens:      64,
			ChunkOverlap:        128,
			CandidateMultiplier: 4,
			RRFK:                60,
			ScoreWeight:         0.5,
			MinScoreThreshold:   0.05,
			DedupJaccard:        0.75,
			MMRLambda:           0.7,
			NeighborWindow:      1,
			GarbleThreshold:     0.25,
			MaxFileSizeMB:       10,
		},
		Retrieval: RetrievalConfig{MaxQueryVariants: 3},
		Agent: AgentRunConfig{
			DefaultMaxToolCalls:   10,
			DefaultTimeoutSeconds: 120,
			ToolTimeoutSeconds:    30,
		},
		Chat_: ChatConfig{
			SystemBudgetTokens:   2000,
			ResponseBudgetTokens: 4096,
			DocumentsShare:       0.60,
			HistoryShare:         0.25,
			MemoryShare:          0.15,
			SearchLLMTimeoutSec:  90,
			MemoryTimeoutSec:     3,
			LowConfidenceScore:   0.35,
			RelevanceFloorRatio:  0.30,
			DedupJaccard:         0.60,
			ScoreCliffRatio:      0.40,
		},
	}
}

// LoadConfig reads a YAML config file and overlays it on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("ragcore: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("ragcore: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveDBPath computes the final SQLite database path from config fields,
// honoring DBPath first and falling back to StorageDir/DBName otherwise.
func (c *Config) ResolveDBPath() string { return c.resolveDBPath() }

// ResolveDataDir returns the persisted-state root directory (spec.md §6).
func (c *Config) ResolveDataDir() string { return c.resolveDataDir() }

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "ragcore"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		dir := filepath.Join(home, ".ragcore")
		return filepath.Join(dir, name+".db")
	}
}

// resolveDataDir returns the persisted-state root directory (spec.md §6).
func (c *Config) resolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ragcore-data"
	}
	return filepath.Join(home, ".ragcore", "data")
}
