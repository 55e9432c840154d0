package api

import (
	"errors"
	"log"
	"net/http"

	"webdl/config"
	"webdl/progress"
	"webdl/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	hub         *progress.Hub
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, hub *progress.Hub, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		hub:         hub,
		cfg:         cfg,
	}
}

type DownloadRequest struct {
	URL     string `json:"url" form:"url"`
	Quality string `json:"quality" form:"quality"`
	Format  string `json:"format" form:"format"`
}

// handleStartDownload accepts a download and returns its id right away.
// The URL is validated by the worker; problems surface as an error event.
func (h *Handler) handleStartDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := h.taskManager.Submit(task.Request{
		URL:     req.URL,
		Quality: req.Quality,
		Format:  req.Format,
	})
	c.JSON(http.StatusOK, gin.H{"task_id": t.ID})
}

// handleGetFile serves a finished task's file, or a zip of all its files.
func (h *Handler) handleGetFile(c *gin.Context) {
	taskID := c.Param("taskId")
	b, err := h.taskManager.Result(taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Printf("Could not remove archive %s: %v", b.Path, err)
		}
	}()

	c.FileAttachment(b.Path, b.Name)
}

// handleListTasks lists all tasks.
func (h *Handler) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.List())
}

// handleGetTaskStatus retrieves the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, err := h.taskManager.Get(c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, task.ErrNotReady), errors.Is(err, task.ErrTaskFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("Request %s failed: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare download", "details": err.Error()})
	}
}
