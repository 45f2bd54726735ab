package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type realtimeEventPayload struct {
	Source    string `json:"source"`
	Status    string `json:"status,omitempty"`
	Added     int    `json:"added"`
	Skipped   int    `json:"skipped"`
	Timestamp string `json:"timestamp"`
}

// handleStream holds a server-sent event stream open for the map viewers of one hiker. Viewers
// refetch the public read endpoints when a sync-finished event arrives.
func (h *httpHandler) handleStream(c *gin.Context) {
	user, ok := h.hikerBySlug(c)
	if !ok {
		return
	}
	if h.realtime == nil {
		h.respondError(c, http.StatusNotFound, "realtime_disabled", nil)
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, user.UserID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	h.writeHeartbeat(c)

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Source:    realtimeSourceBackend,
				Status:    message.Status,
				Added:     message.Added,
				Skipped:   message.Skipped,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			h.writeHeartbeat(c)
		}
	}
}

func (h *httpHandler) writeHeartbeat(c *gin.Context) {
	c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
		Source:    realtimeSourceBackend,
		Timestamp: h.clock().UTC().Format(time.RFC3339),
	})
	c.Writer.Flush()
}
