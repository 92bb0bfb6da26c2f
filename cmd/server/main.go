package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/engine"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := ragcore.DefaultConfig()
	if *configPath != "" {
		loaded, err := ragcore.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Override from environment variables.
	if v := os.Getenv("RAGCORE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RAGCORE_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("RAGCORE_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("RAGCORE_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("RAGCORE_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("RAGCORE_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("RAGCORE_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("RAGCORE_CHAT_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("RAGCORE_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	// Fallback: check well-known provider env vars for API keys. MODEL_PATH,
	// when set, replaces the chat provider's base URL; it does not point the
	// embedding provider or the reranker at a local model directory.
	if cfg.Chat.APIKey == "" {
		switch cfg.Chat.Provider {
		case "openai":
			cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Chat.APIKey = os.Getenv("GROQ_API_KEY")
		case "anthropic":
			cfg.Chat.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Embedding.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		cfg.Chat.BaseURL = v
	}

	apiKey := os.Getenv("RAGCORE_API_KEY")
	corsOrigins := os.Getenv("RAGCORE_CORS_ORIGINS")

	eng, err := engine.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginRecovery(), ginLogger(), corsMiddleware(corsOrigins), authMiddleware(apiKey))

	h := newHandler(eng)
	registerRoutes(r, h)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (ingest, chat can be long)
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

func registerRoutes(r *gin.Engine, h *handler) {
	r.GET("/health", h.handleHealth)
	r.GET("/statistics", h.handleStatistics)

	docs := r.Group("/documents")
	{
		docs.POST("", h.handleAddDocument)
		docs.POST("/upload", h.handleUploadFile)
		docs.POST("/link-folder", h.handleLinkFolder)
		docs.GET("", h.handleListDocuments)
		docs.DELETE("/by-source", h.handleDeleteBySource)
	}
	r.DELETE("/spaces/:space_id", h.handleDeleteSpace)

	r.POST("/search", h.handleSearch)
	r.POST("/chat", h.handleChat)
	r.GET("/ws", h.handleWebSocket)

	agents := r.Group("/agents")
	{
		agents.POST("", h.handleRegisterAgent)
	}
}
