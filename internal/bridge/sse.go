package bridge

import (
	"time"

	"github.com/gin-gonic/gin"
)

// handleEvents streams hub events to one client as server-sent events.
func handleEvents(hub *Hub, heartbeat time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		id, events, cancel := hub.Subscribe()
		defer cancel()

		c.SSEvent("connected", gin.H{"client": id})
		c.Writer.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.SSEvent("heartbeat", gin.H{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case msg, ok := <-events:
				if !ok {
					return
				}
				data := msg.Data
				if data == nil {
					// gin renders a nil payload as "<nil>".
					data = gin.H{}
				}
				c.SSEvent(msg.Event, data)
				c.Writer.Flush()
			}
		}
	}
}
