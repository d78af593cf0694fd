// Package worker runs the render assembly pipeline: payload fetch, per-item
// clip synthesis, sequence assembly, artifact delivery and caller
// notification, with guaranteed workspace cleanup on every exit path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/storyreel/worker/internal/assets"
	"github.com/storyreel/worker/internal/models"
	"github.com/storyreel/worker/internal/queue"
	"github.com/storyreel/worker/internal/services"
	"github.com/storyreel/worker/internal/storage"
	"github.com/storyreel/worker/internal/workspace"
)

const dequeueWait = 5 * time.Second

// StepError marks which pipeline state a job failed in.
type StepError struct {
	State models.JobState
	Err   error
}

func (e *StepError) Error() string { return e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

func stepErr(state models.JobState, err error) *StepError {
	return &StepError{State: state, Err: err}
}

type Worker struct {
	workspaces *workspace.Manager
	fetcher    *assets.Fetcher
	payloads   *services.PayloadClient
	ffmpeg     *services.FFmpegService
	storage    *storage.Storage
	notifier   *services.Notifier
	queue      *queue.Queue
}

func New(
	workspaces *workspace.Manager,
	fetcher *assets.Fetcher,
	payloads *services.PayloadClient,
	ffmpegSvc *services.FFmpegService,
	stor *storage.Storage,
	notifier *services.Notifier,
	q *queue.Queue,
) *Worker {
	return &Worker{
		workspaces: workspaces,
		fetcher:    fetcher,
		payloads:   payloads,
		ffmpeg:     ffmpegSvc,
		storage:    stor,
		notifier:   notifier,
		queue:      q,
	}
}

// Start runs queue consumers until the context is cancelled. Jobs run
// independently of each other; no admission control is applied here - that
// is the operator's responsibility.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("[Worker] started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.consume(ctx)
	}

	<-ctx.Done()
	log.Println("[Worker] shutting down...")
}

func (w *Worker) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, dequeueWait)
			if err != nil {
				log.Printf("[Worker] dequeue error: %v", err)
				continue
			}
			if job == nil {
				continue // No job available, retry
			}
			w.Process(ctx, job)
		}
	}
}

// Process runs one render job to its terminal state and emits exactly one
// CallbackReport, which it also returns so callers (and tests) can await
// completion synchronously. The workspace is released on every path.
func (w *Worker) Process(ctx context.Context, job *models.RenderJob) *models.CallbackReport {
	log.Printf("[Render %s] %s -> %s", job.RenderID, models.JobStateQueued, models.JobStateFetchingAssets)

	report := w.run(ctx, job)

	log.Printf("[Render %s] -> %s", job.RenderID, models.JobStateNotifying)
	w.notifier.Notify(ctx, job.CallbackURL, report)

	terminal := models.JobStateCompleted
	if report.Status == models.ReportStatusFailed {
		terminal = models.JobStateFailed
	}
	log.Printf("[Render %s] -> %s", job.RenderID, terminal)

	return report
}

func (w *Worker) run(ctx context.Context, job *models.RenderJob) *models.CallbackReport {
	dir, err := w.workspaces.Acquire(job.RenderID)
	if err != nil {
		return w.failure(job, stepErr(models.JobStateQueued, err))
	}
	defer w.workspaces.Release(dir)

	outputURL, probe, err := w.render(ctx, job, dir)
	if err != nil {
		return w.failure(job, err)
	}

	return &models.CallbackReport{
		UserID:    job.UserID,
		RenderID:  job.RenderID,
		Status:    models.ReportStatusComplete,
		OutputURL: outputURL,
		LogTail:   "worker render complete\n" + probe,
	}
}

// render walks the pipeline states in order. Each step returns a StepError
// naming the state it died in; the first failure wins and unwinding stops.
func (w *Worker) render(ctx context.Context, job *models.RenderJob, dir string) (outputURL, probe string, err error) {
	// FetchingAssets: payload, then the narration track.
	payload, err := w.payloads.Fetch(ctx, job)
	if err != nil {
		return "", "", stepErr(models.JobStateFetchingAssets, err)
	}
	if payload.AudioURL == "" {
		return "", "", stepErr(models.JobStateFetchingAssets, fmt.Errorf("payload.audioUrl missing"))
	}

	audioPath := filepath.Join(dir, "audio.bin")
	if err := w.fetcher.FetchURL(ctx, payload.AudioURL, audioPath, assets.AudioTimeout); err != nil {
		return "", "", stepErr(models.JobStateFetchingAssets, err)
	}

	// Synthesizing: one motion clip per resolvable storyboard item, in
	// storyboard order. Unresolvable items are skipped; synthesis faults
	// are fatal.
	log.Printf("[Render %s] %s -> %s (%d items)", job.RenderID, models.JobStateFetchingAssets, models.JobStateSynthesizing, len(payload.Storyboard))

	clips, err := w.synthesizeClips(ctx, payload, dir)
	if err != nil {
		return "", "", err
	}
	if len(clips) == 0 {
		return "", "", stepErr(models.JobStateSynthesizing, fmt.Errorf("no clips generated"))
	}

	// Assembling: concatenate and mux against the narration, shortest
	// stream wins.
	log.Printf("[Render %s] %s -> %s (%d clips)", job.RenderID, models.JobStateSynthesizing, models.JobStateAssembling, len(clips))

	outputPath := filepath.Join(dir, "output.mp4")
	if err := w.ffmpeg.AssembleSequence(ctx, clips, audioPath, outputPath); err != nil {
		return "", "", stepErr(models.JobStateAssembling, err)
	}

	probe, err = w.ffmpeg.ProbeOutput(ctx, outputPath)
	if err != nil {
		return "", "", stepErr(models.JobStateAssembling, err)
	}

	// Uploading: deterministic key, public address derived from it.
	log.Printf("[Render %s] %s -> %s", job.RenderID, models.JobStateAssembling, models.JobStateUploading)

	key := storage.RenderKey(payload.ProjectID, job.RenderID)
	outputURL, err = w.storage.UploadFile(ctx, key, outputPath, "video/mp4")
	if err != nil {
		return "", "", stepErr(models.JobStateUploading, err)
	}

	return outputURL, probe, nil
}

func (w *Worker) synthesizeClips(ctx context.Context, payload *models.RenderPayload, dir string) ([]string, error) {
	table := payload.AssetTable()

	var clips []string
	for i, item := range payload.Storyboard {
		asset, ok := table[item.AssetID]
		if !ok {
			log.Printf("[Render] item %d references unknown asset %q, skipping", i, item.AssetID)
			continue
		}

		source := asset.Source()
		if source == nil {
			log.Printf("[Render] item %d: asset %s has no resolvable shape, skipping", i, asset.ID)
			continue
		}

		duration := item.Duration()
		clipPath := filepath.Join(dir, fmt.Sprintf("clip_%03d.mp4", i))

		switch src := source.(type) {
		case models.VideoLoop:
			srcPath := filepath.Join(dir, fmt.Sprintf("src_%03d.mp4", i))
			if err := w.fetcher.FetchURL(ctx, src.URL, srcPath, assets.VideoTimeout); err != nil {
				return nil, stepErr(models.JobStateFetchingAssets, err)
			}
			if err := w.ffmpeg.SynthesizeFromVideo(ctx, srcPath, clipPath, duration); err != nil {
				return nil, stepErr(models.JobStateSynthesizing, err)
			}

		case models.StillImage:
			srcPath := filepath.Join(dir, fmt.Sprintf("src_%03d.png", i))
			if err := assets.WriteDataURL(src.DataURL, srcPath); err != nil {
				return nil, stepErr(models.JobStateSynthesizing, err)
			}
			if err := w.ffmpeg.SynthesizeFromImage(ctx, srcPath, clipPath, duration, item.Motion()); err != nil {
				return nil, stepErr(models.JobStateSynthesizing, err)
			}
		}

		clips = append(clips, clipPath)
	}

	return clips, nil
}

// failure converts any pipeline fault into the single failed report. The
// engine's diagnostic tail, when present, is surfaced in logTail.
func (w *Worker) failure(job *models.RenderJob, err error) *models.CallbackReport {
	var step *StepError
	state := models.JobStateQueued
	if errors.As(err, &step) {
		state = step.State
	}

	logTail := "worker render failed: " + err.Error()
	var engineErr *services.EngineError
	if errors.As(err, &engineErr) {
		logTail = "worker render failed in " + string(state) + ":\n" + engineErr.Tail
	}

	log.Printf("[Render %s] failed in %s: %v", job.RenderID, state, err)

	return &models.CallbackReport{
		UserID:   job.UserID,
		RenderID: job.RenderID,
		Status:   models.ReportStatusFailed,
		Error:    err.Error(),
		LogTail:  logTail,
	}
}
