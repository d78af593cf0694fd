package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storyreel/worker/internal/api"
	"github.com/storyreel/worker/internal/assets"
	"github.com/storyreel/worker/internal/config"
	"github.com/storyreel/worker/internal/queue"
	"github.com/storyreel/worker/internal/services"
	"github.com/storyreel/worker/internal/storage"
	"github.com/storyreel/worker/internal/worker"
	"github.com/storyreel/worker/internal/workspace"
)

func main() {
	log.Println("Starting Storyreel render worker...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage
	stor := storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket, cfg.StoragePublicBase)
	log.Printf("Initialized object storage (bucket: %s)", cfg.StorageBucket)

	// Workspace root for render scratch directories
	workspaces, err := workspace.NewManager(cfg.WorkspaceRoot)
	if err != nil {
		log.Fatalf("Failed to prepare workspace root: %v", err)
	}

	// Render pipeline services
	settings := services.RenderSettings{
		FPS:        cfg.RenderFPS,
		Resolution: services.ParseFormat(cfg.RenderFormat),
	}
	log.Printf("Render settings: %s %dx%d @ %dfps",
		cfg.RenderFormat, settings.Resolution.Width, settings.Resolution.Height, settings.FPS)

	fetcher := assets.NewFetcher()
	ffmpegSvc := services.NewFFmpegService(settings)
	payloads := services.NewPayloadClient(cfg.InternalSecret)
	notifier := services.NewNotifier(cfg.InternalSecret)

	// Start the render worker
	w := worker.New(workspaces, fetcher, payloads, ffmpegSvc, stor, notifier, q)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	go w.Start(workerCtx, cfg.WorkerConcurrency)
	log.Printf("Worker started (concurrency: %d)", cfg.WorkerConcurrency)

	// Transcription pass-through
	var transcriber api.Transcriber
	if cfg.OpenAIKey != "" {
		transcriber = services.NewASRService(cfg.OpenAIKey)
	} else {
		log.Println("WARNING: No OPENAI_API_KEY set — /transcribe disabled")
	}

	// Create API handler
	handler := api.NewHandler(q, transcriber, fetcher, workspaces, q)
	router := api.NewRouter(handler, api.RouterConfig{
		WorkerToken:        cfg.WorkerToken,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.WorkerToken != "" {
		log.Println("Worker token authentication enabled")
	} else {
		log.Println("WARNING: No RENDER_TOKEN set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop the queue consumers
	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
