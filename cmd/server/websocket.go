package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bbiangul/ragcore/chat"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The desktop shell and any local dev server are trusted origins; this
	// engine has no browser-facing deployment of its own (spec.md §1).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is one JSON line sent over the socket, named after spec.md §6's
// event stream (chat_complete, tool_execution,
// agent_execution_started|_complete, agent_creation_progress, error).
type wsFrame struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// wsEmitter adapts a gorilla/websocket connection to chat.Emitter. Writes
// are serialized with a mutex since gorilla/websocket connections are not
// safe for concurrent writers.
type wsEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (e *wsEmitter) Emit(name string, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.WriteJSON(wsFrame{Event: name, Payload: payload}); err != nil {
		slog.Warn("websocket emit failed", "event", name, "error", err)
	}
}

type chatRequest struct {
	Message        string `json:"message"`
	SpaceID        string `json:"space_id"`
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
}

// GET /ws — one connection per chat session. Each inbound JSON frame is a
// chatRequest; the engine sends tool_execution, agent_execution_* and
// agent_creation_progress events back as they occur, then a final
// chat_complete frame. Answer text is not streamed token by token: no
// chat_token frames are sent.
func (h *handler) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	emitter := &wsEmitter{conn: conn}

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "error", err)
			}
			return
		}
		if req.Message == "" {
			emitter.Emit("error", map[string]any{"message": "message is required"})
			continue
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
		cctx := chat.ChatContext{
			SpaceID:        req.SpaceID,
			AgentID:        req.AgentID,
			ConversationID: req.ConversationID,
			SessionID:      req.SessionID,
		}

		resp, err := h.engine.Chat.Process(ctx, req.Message, cctx, emitter)
		cancel()
		if err != nil {
			emitter.Emit("error", map[string]any{"message": err.Error()})
			continue
		}

		emitter.Emit("chat_complete", map[string]any{
			"content":        resp.Content,
			"citations":      resp.Citations,
			"artifacts":      resp.Artifacts,
			"search_results": resp.SearchResults,
			"metadata":       resp.Metadata,
			"warning":        resp.Warning,
		})
	}
}
