package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 15 * time.Second

// handleUpdatesStream serves the live update channel as server-sent events.
// Each subscriber gets every event published after it connected; there is
// no replay, and a dropped connection simply unregisters the subscriber.
func (h *httpHandler) handleUpdatesStream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	events, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				h.logger.Debug("stream write failed, closing subscriber", zap.Error(err))
				return
			}
			flusher.Flush()
		case event := <-events:
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Name, event.Data); err != nil {
				h.logger.Debug("stream write failed, closing subscriber", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}
