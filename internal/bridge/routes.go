package bridge

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/roadmap-manager/roadmap/internal/dispatch"
	"github.com/roadmap-manager/roadmap/internal/relay"
)

// operationRequest is the UI's body for navigate and modal-prompt.
type operationRequest struct {
	Prompt    string       `json:"prompt"`
	SessionID string       `json:"sessionId"`
	Model     *relay.Model `json:"model"`
}

type documentBody struct {
	Content string `json:"content"`
}

type operationFunc func(ctx context.Context, prompt, sessionID string, model *relay.Model) error

func registerRoutes(router *gin.Engine, d Deps) {
	router.GET("/ws", handleWS(d.Hub))

	api := router.Group("/api")
	api.GET("/events", handleEvents(d.Hub, d.Heartbeat))
	api.POST("/navigate", handleOperation(d.Dispatcher.Navigate))
	api.POST("/modal-prompt", handleOperation(d.Dispatcher.ModalPrompt))
	api.GET("/sessions", handleSessions(d.Dispatcher))
	api.GET("/models", handleModels(d.Dispatcher))

	api.GET("/roadmap", handleReadDocument(d))
	api.PUT("/roadmap", handleWriteDocument(d))
	api.POST("/roadmap/subtasks/:id/toggle", handleToggleSubtask(d))

	api.GET("/service", handleService(d))
	api.GET("/history", handleHistory(d))
}

// handleOperation runs one operation to completion. Events reach the UI
// through the hub while the request is open; the response only carries
// the outcome.
func handleOperation(run operationFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req operationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		err := run(c.Request.Context(), req.Prompt, req.SessionID, req.Model)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}

		status := http.StatusBadGateway
		if errors.Is(err, relay.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
	}
}

func handleSessions(d Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := d.Sessions(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if sessions == nil {
			sessions = []dispatch.Session{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

func handleModels(d Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": d.Models()})
	}
}

func handleReadDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := d.Document.Read()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, documentBody{Content: content})
	}
}

func handleWriteDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body documentBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := d.Document.Write(body.Content); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func handleToggleSubtask(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		changed, err := d.Document.ToggleSubtask(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"changed": changed})
	}
}

func handleService(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Service == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service supervision disabled"})
			return
		}
		c.JSON(http.StatusOK, d.Service.Status())
	}
}

func handleHistory(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.History == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history disabled"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		ops, err := d.History.RecentOperations(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		runs, err := d.History.RecentServiceRuns(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"operations": ops, "service_runs": runs})
	}
}
