// webdl/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"webdl/api"
	"webdl/config"
	"webdl/progress"
	"webdl/task"
	"webdl/ytdlp"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize the yt-dlp runner and playlist probers
	runner, err := ytdlp.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize yt-dlp runner: %v", err)
	}
	prober := ytdlp.DefaultProber(cfg.YtdlpBin)

	// 3. Registry, event hub and task manager
	hub := progress.NewHub(cfg.EventBuffer)
	taskManager, err := task.NewManager(cfg, task.NewRegistry(), runner, prober, hub)
	if err != nil {
		log.Fatalf("Failed to initialize task manager: %v", err)
	}

	// 4. Set up router and server
	router := api.SetupRouter(taskManager, hub, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	// Event streams stay open until their clients leave, so the server only
	// gets a short grace period before they are cut.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		srv.Close()
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()
	if err := taskManager.Shutdown(drainCtx); err != nil {
		log.Printf("Unfinished downloads were cancelled: %v", err)
	}

	log.Println("Server exiting")
}
