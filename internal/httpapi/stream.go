package httpapi

import (
	"net/http"
	"time"

	"callkit/internal/calling"
	"callkit/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamQueueCap = 64
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamEvents upgrades to a websocket and forwards domain events as JSON
// frames. Slow consumers lose events rather than stalling the emitter.
func (h Handlers) StreamEvents(c *gin.Context) {
	log := logger.FromGin(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	queue := make(chan calling.Event, streamQueueCap)
	off := h.Orch.Events().OnAny(func(ev calling.Event) {
		select {
		case queue <- ev:
		default:
			// Queue full: drop rather than block a call transition.
		}
	})
	defer off()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Warn("websocket read failed", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
