// Package ws implements spec.md §6's `GET /ws/document/{id}/status`
// endpoint: a ping/pong-monitored WebSocket that relays a document's
// ingestion progress events as they are published. Grounded on
// niski84-the-hive's internal/server/websocket_handler.go (gorilla/websocket
// upgrade, ping ticker + pong-driven read-deadline reset, dead-connection
// cleanup), adapted from that repo's client-registry broadcast model to a
// one-connection-per-document-id subscribe loop backed by
// internal/infra/pubsub.Subscriber.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eduask/backend/internal/domain/document"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressSubscriber decouples the handler from any concrete pub/sub
// transport; satisfied by internal/infra/pubsub.Subscriber.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, documentID string, out chan<- ProgressEvent) error
}

// ProgressEvent is the wire shape pushed to subscribers (spec.md §6).
type ProgressEvent struct {
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	ProcessedChunks int    `json:"processed_chunks"`
	TotalChunks     int    `json:"total_chunks"`
	Message         string `json:"message"`
}

type clientMessage struct {
	Type string `json:"type"`
}

// Handler serves the document-status WebSocket.
type Handler struct {
	docs        document.Repository
	subscribers ProgressSubscriber
	logger      *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(docs document.Repository, subscribers ProgressSubscriber, logger *slog.Logger) *Handler {
	return &Handler{docs: docs, subscribers: subscribers, logger: logger.With("component", "ws.handler")}
}

// Status upgrades the connection and streams progress events for the
// document named by the `id` path parameter until the client disconnects.
// Accepts `{"type":"ping"}` and replies `{"type":"pong"}` (spec.md §6).
func (h *Handler) Status(c *gin.Context) {
	idParam := c.Param("id")
	documentID, err := uuid.Parse(idParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidRequest", "message": "invalid document id"})
		return
	}
	if _, found, err := h.docs.Get(c.Request.Context(), documentID); err != nil || !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "document not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", "document_id", documentID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	events := make(chan ProgressEvent, 8)
	go func() {
		if err := h.subscribers.Subscribe(ctx, documentID.String(), events); err != nil {
			h.logger.Warn("ws: subscribe ended", "document_id", documentID, "error", err)
		}
	}()

	go h.readLoop(conn, cancel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeJSON(conn, event); err != nil {
				return
			}
			if event.Status == "completed" || event.Status == "failed" {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pong control frames and explicit
// {"type":"ping"} application messages are processed; cancel is called on
// any read error (including a client-initiated close).
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(gin.H{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeJSON(conn *websocket.Conn, event ProgressEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}
