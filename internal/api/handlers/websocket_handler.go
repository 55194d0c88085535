package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/orchestrator"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

// WebSocketHandler fans batch progress events out to every connected admin
// client. Its Broadcast method is the orchestrator's Notify hook.
type WebSocketHandler struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewWebSocketHandler() *WebSocketHandler {
	return &WebSocketHandler{
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Broadcast sends one progress event to every connection. Slow or dead
// connections are dropped rather than allowed to stall a batch.
func (h *WebSocketHandler) Broadcast(event orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		if err := c.WriteJSON(event); err != nil {
			logger.Debug("Dropping stalled progress stream client", zap.Error(err))
			c.Close()
			delete(h.conns, c)
		}
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Progress stream client connected")

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		c.Close()
		logger.Info("Progress stream client disconnected")
	}()

	// Reads only drain control frames; the stream is one-way.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
