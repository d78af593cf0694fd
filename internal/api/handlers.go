package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/storyreel/worker/internal/assets"
	"github.com/storyreel/worker/internal/models"
	"github.com/storyreel/worker/internal/queue"
	"github.com/storyreel/worker/internal/workspace"
)

// Transcriber converts a local audio file into timed transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*models.TranscribeResponse, error)
}

// QueueStats exposes the render queue depth for health reporting.
type QueueStats interface {
	Length(ctx context.Context) (int64, error)
}

type Handler struct {
	dispatcher  queue.Dispatcher
	transcriber Transcriber
	fetcher     *assets.Fetcher
	workspaces  *workspace.Manager
	stats       QueueStats
}

func NewHandler(d queue.Dispatcher, t Transcriber, f *assets.Fetcher, ws *workspace.Manager, stats QueueStats) *Handler {
	return &Handler{
		dispatcher:  d,
		transcriber: t,
		fetcher:     f,
		workspaces:  ws,
		stats:       stats,
	}
}

// Render handles POST /render. It validates the job envelope, enqueues it,
// and returns immediately; all outcomes past this point travel via the
// job's callback URL.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	var req models.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := req.Validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	job := &models.RenderJob{
		RenderID:    req.RenderID,
		UserID:      req.UserID,
		PayloadURL:  req.PayloadURL,
		CallbackURL: req.CallbackURL,
	}

	if err := h.dispatcher.Dispatch(r.Context(), job); err != nil {
		log.Printf("[API] failed to enqueue render %s: %v", job.RenderID, err)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	log.Printf("[API] render %s queued (user=%s)", job.RenderID, job.UserID)
	respondJSON(w, http.StatusOK, models.RenderResponse{Status: "queued", RenderID: job.RenderID})
}

// Transcribe handles POST /transcribe. The audio is downloaded to a scratch
// workspace, transcribed, and the workspace removed whatever the outcome.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		respondError(w, http.StatusServiceUnavailable, "Transcription is not configured")
		return
	}

	var req models.TranscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AudioURL == "" {
		respondError(w, http.StatusBadRequest, "audioUrl is required")
		return
	}

	dir, err := h.workspaces.Acquire("asr_" + uuid.New().String())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to allocate workspace")
		return
	}
	defer h.workspaces.Release(dir)

	audioPath := filepath.Join(dir, "audio.mp3")
	if err := h.fetcher.FetchURL(r.Context(), req.AudioURL, audioPath, assets.AudioTimeout); err != nil {
		log.Printf("[API] transcribe audio download failed: %v", err)
		respondError(w, http.StatusBadGateway, "Failed to download audio")
		return
	}

	result, err := h.transcriber.Transcribe(r.Context(), audioPath, req.Language)
	if err != nil {
		log.Printf("[API] transcription failed: %v", err)
		respondError(w, http.StatusBadGateway, "Transcription failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Health handles GET /health. Reports the queue depth when a queue is wired.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if h.stats != nil {
		if depth, err := h.stats.Length(r.Context()); err == nil {
			resp["queueDepth"] = depth
		} else {
			resp["status"] = "degraded"
			resp["queueError"] = err.Error()
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
