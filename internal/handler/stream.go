package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opscope/opscope/internal/pkg/logger"
	"github.com/opscope/opscope/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin enforcement belongs to the fronting proxy / auth layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// StreamHandler bridges the broadcaster to websocket clients. Each connection
// gets its own bounded subscription; a slow client loses events, never stalls
// the hub.
type StreamHandler struct {
	broadcaster *stream.Broadcaster
	buffer      int
}

func NewStreamHandler(broadcaster *stream.Broadcaster, buffer int) *StreamHandler {
	return &StreamHandler{broadcaster: broadcaster, buffer: buffer}
}

func (h *StreamHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := h.broadcaster.Subscribe(h.buffer)

	// Read loop: we expect no client messages, but reading is how the close
	// handshake and connection loss surface.
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Write pump until the subscription closes.
	defer conn.Close()
	for event := range sub.Events() {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			sub.Close()
			return
		}
	}
}
