package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerToken        string // Bearer token callers must present (empty = no auth, dev mode)
	InternalSecret     string // Shared secret for payload fetch and callback delivery
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Redis
	RedisURL string

	// Object storage
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string
	StoragePublicBase string // Base address public artifact URLs are derived from

	// OpenAI (transcription pass-through)
	OpenAIKey string

	// Render
	RenderFormat  string // horizontal | vertical | square
	RenderFPS     int
	WorkspaceRoot string

	// Worker
	WorkerConcurrency int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	// RENDER_TOKEN preferred; ASR_TOKEN kept for deployments that only ran
	// the transcription surface.
	workerToken := getEnv("RENDER_TOKEN", "")
	if workerToken == "" {
		workerToken = getEnv("ASR_TOKEN", "")
	}

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerToken:        workerToken,
		InternalSecret:     getEnv("JWT_SECRET", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageServiceKey:  getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "renders"),
		StoragePublicBase:  getEnv("STORAGE_PUBLIC_BASE_URL", ""),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		RenderFormat:       getEnv("RENDER_FORMAT", "horizontal"),
		RenderFPS:          getEnvInt("RENDER_FPS", 30),
		WorkspaceRoot:      getEnv("WORKSPACE_ROOT", "/tmp/work"),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
	}

	// Validate required fields
	if cfg.InternalSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.StorageURL == "" || cfg.StorageServiceKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_SERVICE_KEY are required")
	}

	if cfg.StoragePublicBase == "" {
		return nil, fmt.Errorf("STORAGE_PUBLIC_BASE_URL is required")
	}

	switch cfg.RenderFormat {
	case "horizontal", "vertical", "square":
	default:
		return nil, fmt.Errorf("RENDER_FORMAT must be horizontal, vertical or square (got %q)", cfg.RenderFormat)
	}

	if cfg.RenderFPS <= 0 {
		return nil, fmt.Errorf("RENDER_FPS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
