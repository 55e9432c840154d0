package api

import (
	"webdl/config"
	"webdl/progress"
	"webdl/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, hub *progress.Hub, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	r.Use(RequestID())
	h := NewHandler(tm, hub, cfg)

	r.GET("/health", h.handleHealth)

	dl := r.Group("/")
	dl.Use(AuthMiddleware(cfg))
	{
		dl.POST("/start_download", h.handleStartDownload)
		dl.GET("/get_file/:taskId", h.handleGetFile)

		// Progress push channel (Server-Sent Events)
		dl.GET("/events", h.handleAllEvents)
		dl.GET("/events/:taskId", h.handleTaskEvents)

		dl.GET("/tasks", h.handleListTasks)
		dl.GET("/tasks/:taskId", h.handleGetTaskStatus)
	}
	return r
}
