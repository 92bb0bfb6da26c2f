package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/agent"
	"github.com/bbiangul/ragcore/chat"
	"github.com/bbiangul/ragcore/engine"
	"github.com/bbiangul/ragcore/ragengine"
	"github.com/gin-gonic/gin"
)

type handler struct {
	engine *engine.Engine
}

func newHandler(e *engine.Engine) *handler {
	return &handler{engine: e}
}

// POST /documents — spec.md §6 add_document.
func (h *handler) handleAddDocument(c *gin.Context) {
	ctx, cancel := timeoutCtx(c, 2*time.Minute)
	defer cancel()

	var in ragengine.AddDocumentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Content == "" {
		writeError(c, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.engine.AddDocument(ctx, in)
	if err != nil {
		writeEngineError(c, "add_document failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc_id": result.DocID, "chunks_added": result.ChunksAdded})
}

// POST /documents/upload — spec.md §6 upload_file. Accepts a multipart file
// upload; the file is staged to a temp path and handed to the same parser
// pipeline add_document_from_file uses.
func (h *handler) handleUploadFile(c *gin.Context) {
	ctx, cancel := timeoutCtx(c, 30*time.Minute)
	defer cancel()

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "expected multipart field 'file'")
		return
	}
	defer file.Close()

	safeName := filepath.Base(header.Filename)
	tmpPath := filepath.Join(os.TempDir(), safeName)
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to stage upload")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(c, http.StatusInternalServerError, "failed to stage upload")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	dst.Close()
	defer os.Remove(tmpPath)

	spaceID := c.PostForm("space_id")
	result, err := h.engine.AddDocumentFromFile(ctx, tmpPath, spaceID)
	if err != nil {
		writeEngineError(c, "upload_file failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filename":     safeName,
		"chunks_added": result.ChunksAdded,
		"doc_id":       result.DocID,
	})
}

// POST /documents/link-folder — spec.md §6 link_folder.
func (h *handler) handleLinkFolder(c *gin.Context) {
	ctx, cancel := timeoutCtx(c, 30*time.Minute)
	defer cancel()

	var req struct {
		Path    string `json:"path"`
		SpaceID string `json:"space_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Path == "" {
		writeError(c, http.StatusBadRequest, "path is required")
		return
	}

	result, err := h.engine.LinkFolder(ctx, req.Path, req.SpaceID)
	if err != nil {
		writeEngineError(c, "link_folder failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"files_processed": result.FilesProcessed,
		"files_total":     result.FilesTotal,
		"chunks":          result.Chunks,
		"success_rate":    result.SuccessRate,
	})
}

// DELETE /documents/by-source?source=... — spec.md §6 delete_by_source.
func (h *handler) handleDeleteBySource(c *gin.Context) {
	source := c.Query("source")
	if source == "" {
		writeError(c, http.StatusBadRequest, "source is required")
		return
	}
	if err := h.engine.DeleteBySource(c.Request.Context(), source); err != nil {
		writeEngineError(c, "delete_by_source failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": source})
}

// DELETE /spaces/:space_id — spec.md §6 delete_space.
func (h *handler) handleDeleteSpace(c *gin.Context) {
	spaceID := c.Param("space_id")
	if err := h.engine.DeleteSpace(c.Request.Context(), spaceID); err != nil {
		writeEngineError(c, "delete_space failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": spaceID})
}

// GET /documents — spec.md §6 list_documents.
func (h *handler) handleListDocuments(c *gin.Context) {
	docs, err := h.engine.ListDocuments(c.Request.Context())
	if err != nil {
		writeEngineError(c, "list_documents failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// GET /statistics — spec.md §6 statistics.
func (h *handler) handleStatistics(c *gin.Context) {
	stats, err := h.engine.Statistics(c.Request.Context())
	if err != nil {
		writeEngineError(c, "statistics failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /search — spec.md §6 search.
func (h *handler) handleSearch(c *gin.Context) {
	ctx, cancel := timeoutCtx(c, 2*time.Minute)
	defer cancel()

	var req struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
		SpaceID    string `json:"space_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(c, http.StatusBadRequest, "query is required")
		return
	}
	k := req.MaxResults
	if k <= 0 || k > 100 {
		k = 8
	}

	results, err := h.engine.Search(ctx, req.Query, k, req.SpaceID)
	if err != nil {
		writeEngineError(c, "search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// POST /chat — non-streaming chat.Engine.Process invocation. Streaming
// variants of the same flow go over /ws (spec.md §6 event stream).
func (h *handler) handleChat(c *gin.Context) {
	ctx, cancel := timeoutCtx(c, 5*time.Minute)
	defer cancel()

	var req struct {
		Message        string   `json:"message"`
		SpaceID        string   `json:"space_id"`
		AgentID        string   `json:"agent_id"`
		ConversationID string   `json:"conversation_id"`
		SessionID      string   `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" {
		writeError(c, http.StatusBadRequest, "message is required")
		return
	}

	cctx := chat.ChatContext{
		SpaceID:        req.SpaceID,
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
	}

	resp, err := h.engine.Chat.Process(ctx, req.Message, cctx, nil)
	if err != nil {
		writeEngineError(c, "chat failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /agents — registers an agent definition (spec.md §6 agent CRUD,
// §4.11).
func (h *handler) handleRegisterAgent(c *gin.Context) {
	var def agent.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if def.ID == "" {
		writeError(c, http.StatusBadRequest, "id is required")
		return
	}
	h.engine.RegisterAgent(def)
	c.JSON(http.StatusOK, gin.H{"registered": def.ID})
}

// GET /health
func (h *handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func timeoutCtx(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// writeEngineError maps the engine's typed sentinel errors to an HTTP
// status, matching spec.md §7's error taxonomy rather than collapsing
// everything to 500.
func writeEngineError(c *gin.Context, msg string, err error) {
	slog.Error(msg, "error", err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ragcore.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ragcore.ErrUnsupportedFormat), errors.Is(err, ragcore.ErrEmptyDocument):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ragcore.ErrNotConfigured), errors.Is(err, ragcore.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ragcore.ErrUpstreamTimeout):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
