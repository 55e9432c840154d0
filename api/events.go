package api

import (
	"net/http"
	"time"

	"webdl/progress"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 15 * time.Second

// handleTaskEvents streams one task's events as SSE until its terminal event.
func (h *Handler) handleTaskEvents(c *gin.Context) {
	taskID := c.Param("taskId")
	if _, err := h.taskManager.Get(taskID); err != nil {
		respondError(c, err)
		return
	}

	sub := h.hub.Subscribe(taskID)
	defer h.hub.Unsubscribe(sub)
	streamEvents(c, sub, true)
}

// handleAllEvents streams every task's events, optionally filtered by ?task_id=.
// The stream stays open until the client leaves.
func (h *Handler) handleAllEvents(c *gin.Context) {
	var sub *progress.Subscription
	if taskID := c.Query("task_id"); taskID != "" {
		sub = h.hub.Subscribe(taskID)
	} else {
		sub = h.hub.SubscribeAll()
	}
	defer h.hub.Unsubscribe(sub)
	streamEvents(c, sub, false)
}

func streamEvents(c *gin.Context, sub *progress.Subscription, untilTerminal bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent("progress", ev)
			c.Writer.Flush()
			if untilTerminal && ev.Terminal() {
				return
			}
		}
	}
}
