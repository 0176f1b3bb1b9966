package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uptimewatcher/backend/internal/api/middleware"
	"github.com/uptimewatcher/backend/internal/services"
)

// EventsHandler streams pushed status updates as server-sent events.
type EventsHandler struct {
	broker    *services.EventBroker
	keepAlive time.Duration
}

func NewEventsHandler(broker *services.EventBroker) *EventsHandler {
	return &EventsHandler{broker: broker, keepAlive: 15 * time.Second}
}

// Stream sends one "status-update" event per update until the client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	updates, cancel := h.broker.Subscribe()
	defer cancel()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	// Send headers now so clients see the stream before the first event.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	log := middleware.GetRequestLogger(c)
	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case update, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("status-update", update)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC().Format(time.RFC3339)})
			return true
		}
	})
}
