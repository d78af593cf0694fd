package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/storyreel/worker/internal/assets"
	"github.com/storyreel/worker/internal/models"
	"github.com/storyreel/worker/internal/services"
	"github.com/storyreel/worker/internal/storage"
	"github.com/storyreel/worker/internal/workspace"
)

const testSecret = "internal-secret"

type engineCall struct {
	name string
	args []string
}

func (c engineCall) joined() string { return c.name + " " + strings.Join(c.args, " ") }

// fakeEngine records invocations and materializes output files so the
// pipeline's filesystem expectations hold without a real ffmpeg.
func fakeEngine(t *testing.T, calls *[]engineCall) services.CommandRunner {
	t.Helper()
	var mu sync.Mutex
	return func(ctx context.Context, name string, args ...string) (string, error) {
		mu.Lock()
		*calls = append(*calls, engineCall{name: name, args: args})
		mu.Unlock()

		if name == "ffprobe" {
			return "30/1\n30/1\n1/15360\n", nil
		}
		out := args[len(args)-1]
		if err := os.WriteFile(out, []byte("encoded"), 0o644); err != nil {
			t.Fatalf("fake engine failed to write %s: %v", out, err)
		}
		return "", nil
	}
}

type harness struct {
	worker    *Worker
	root      string
	calls     []engineCall
	reports   []models.CallbackReport
	secrets   []string
	uploads   []string
	server    *httptest.Server
	payload   models.RenderPayload
	payloadOK bool
}

func imageDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{payloadOK: true}
	h.root = t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("/payload", func(w http.ResponseWriter, r *http.Request) {
		if !h.payloadOK {
			http.Error(w, "payload unavailable", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(h.payload)
	})
	mux.HandleFunc("/audio.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio bytes"))
	})
	mux.HandleFunc("/loop.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video bytes"))
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		h.secrets = append(h.secrets, r.Header.Get("x-internal-render-secret"))
		var report models.CallbackReport
		json.NewDecoder(r.Body).Decode(&report)
		h.reports = append(h.reports, report)
	})
	mux.HandleFunc("/storage/v1/object/", func(w http.ResponseWriter, r *http.Request) {
		h.uploads = append(h.uploads, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)

	manager, err := workspace.NewManager(h.root)
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}

	settings := services.RenderSettings{FPS: 30, Resolution: services.ParseFormat("horizontal")}
	h.worker = New(
		manager,
		assets.NewFetcher(),
		services.NewPayloadClient(testSecret),
		services.NewFFmpegServiceWithRunner(settings, fakeEngine(t, &h.calls)),
		storage.New(h.server.URL, "svc-key", "bucket", "https://cdn.example.com"),
		services.NewNotifier(testSecret),
		nil,
	)
	return h
}

func (h *harness) job() *models.RenderJob {
	return &models.RenderJob{
		RenderID:    "r1",
		UserID:      "u1",
		PayloadURL:  h.server.URL + "/payload",
		CallbackURL: h.server.URL + "/callback",
	}
}

func (h *harness) workspaceDir() string {
	return filepath.Join(h.root, "render_r1")
}

func (h *harness) engineCommands() []string {
	var out []string
	for _, c := range h.calls {
		out = append(out, c.joined())
	}
	return out
}

func TestProcessCompleteJob(t *testing.T) {
	h := newHarness(t)
	h.payload = models.RenderPayload{
		ProjectID: "p1",
		AudioURL:  h.server.URL + "/audio.mp3",
		Storyboard: []models.StoryboardItem{
			{AssetID: "a1", DurationSec: 3, AnimateType: models.AnimationZoomIn},
		},
		Assets: []models.Asset{{ID: "a1", DataURL: imageDataURL()}},
	}

	report := h.worker.Process(context.Background(), h.job())

	if report.Status != models.ReportStatusComplete {
		t.Fatalf("expected complete, got %s (error: %s)", report.Status, report.Error)
	}
	if report.OutputURL != "https://cdn.example.com/renders/p1/r1.mp4" {
		t.Errorf("unexpected output URL: %s", report.OutputURL)
	}
	if !strings.Contains(report.LogTail, "render complete") || !strings.Contains(report.LogTail, "15360") {
		t.Errorf("log tail missing probe output: %q", report.LogTail)
	}

	// Exactly one report, delivered with the shared secret.
	if len(h.reports) != 1 {
		t.Fatalf("expected exactly 1 callback, got %d", len(h.reports))
	}
	if h.secrets[0] != testSecret {
		t.Errorf("callback missing internal secret header")
	}
	if h.reports[0].Status != models.ReportStatusComplete {
		t.Errorf("delivered report status = %s", h.reports[0].Status)
	}

	// One synthesis (zoompan over 89-frame denominator for 3s@30fps), one
	// assembly with the fixed timebase, one probe.
	cmds := h.engineCommands()
	if len(cmds) != 3 {
		t.Fatalf("expected 3 engine calls, got %d: %v", len(cmds), cmds)
	}
	if !strings.Contains(cmds[0], "zoompan") || !strings.Contains(cmds[0], "on/89") || !strings.Contains(cmds[0], "-t 3.00") {
		t.Errorf("synthesis args wrong: %s", cmds[0])
	}
	if !strings.Contains(cmds[1], "concat=n=1:v=1:a=0,setpts=N/30/TB") || !strings.Contains(cmds[1], "-video_track_timescale 15360") || !strings.Contains(cmds[1], "-shortest") {
		t.Errorf("assembly args wrong: %s", cmds[1])
	}
	if !strings.HasPrefix(cmds[2], "ffprobe") {
		t.Errorf("expected probe last: %s", cmds[2])
	}

	// Artifact stored under the deterministic key.
	if len(h.uploads) != 1 || h.uploads[0] != "/storage/v1/object/bucket/renders/p1/r1.mp4" {
		t.Errorf("unexpected upload paths: %v", h.uploads)
	}

	if _, err := os.Stat(h.workspaceDir()); !os.IsNotExist(err) {
		t.Error("workspace still exists after completion")
	}
}

func TestProcessEmptyStoryboardFails(t *testing.T) {
	h := newHarness(t)
	h.payload = models.RenderPayload{
		ProjectID: "p1",
		AudioURL:  h.server.URL + "/audio.mp3",
	}

	report := h.worker.Process(context.Background(), h.job())

	if report.Status != models.ReportStatusFailed {
		t.Fatalf("expected failed, got %s", report.Status)
	}
	if !strings.Contains(report.Error, "no clips generated") {
		t.Errorf("expected 'no clips generated' error, got %q", report.Error)
	}
	if len(h.reports) != 1 {
		t.Fatalf("expected exactly 1 callback, got %d", len(h.reports))
	}
	if len(h.uploads) != 0 {
		t.Errorf("failed job must not upload, got %v", h.uploads)
	}
	if _, err := os.Stat(h.workspaceDir()); !os.IsNotExist(err) {
		t.Error("workspace still exists after failure")
	}
}

func TestProcessPrefersCompletedVideoLoop(t *testing.T) {
	h := newHarness(t)
	h.payload = models.RenderPayload{
		ProjectID: "p1",
		AudioURL:  h.server.URL + "/audio.mp3",
		Storyboard: []models.StoryboardItem{
			{AssetID: "a1", DurationSec: 4, AnimateType: models.AnimationZoomIn},
		},
		Assets: []models.Asset{{
			ID:      "a1",
			DataURL: imageDataURL(),
			Animation: &models.AnimationJob{
				Status:   "completed",
				VideoURL: h.server.URL + "/loop.mp4",
			},
		}},
	}

	report := h.worker.Process(context.Background(), h.job())
	if report.Status != models.ReportStatusComplete {
		t.Fatalf("expected complete, got %s (error: %s)", report.Status, report.Error)
	}

	cmds := h.engineCommands()
	if !strings.Contains(cmds[0], "-stream_loop -1") || !strings.Contains(cmds[0], "-t 4.00") {
		t.Errorf("expected loop-from-video synthesis, got: %s", cmds[0])
	}
	if strings.Contains(cmds[0], "zoompan") {
		t.Errorf("video loop must not carry image motion: %s", cmds[0])
	}
}

func TestProcessSkipsUnresolvableItems(t *testing.T) {
	h := newHarness(t)
	h.payload = models.RenderPayload{
		ProjectID: "p1",
		AudioURL:  h.server.URL + "/audio.mp3",
		Storyboard: []models.StoryboardItem{
			{AssetID: "missing", DurationSec: 3},
			{AssetID: "pending", DurationSec: 3},
			{AssetID: "a1", DurationSec: 3, AnimateType: models.AnimationFadeOut},
		},
		Assets: []models.Asset{
			{ID: "pending", Animation: &models.AnimationJob{Status: "pending"}},
			{ID: "a1", DataURL: imageDataURL()},
		},
	}

	report := h.worker.Process(context.Background(), h.job())
	if report.Status != models.ReportStatusComplete {
		t.Fatalf("expected complete, got %s (error: %s)", report.Status, report.Error)
	}

	// Only the resolvable item synthesized: one ffmpeg clip + assemble + probe.
	cmds := h.engineCommands()
	if len(cmds) != 3 {
		t.Fatalf("expected 3 engine calls (skips are silent), got %d: %v", len(cmds), cmds)
	}
	if !strings.Contains(cmds[0], "fade=t=out:st=2.50:d=0.5") {
		t.Errorf("surviving item filter wrong: %s", cmds[0])
	}
	if !strings.Contains(cmds[1], "concat=n=1:") {
		t.Errorf("expected single-clip concat, got: %s", cmds[1])
	}
}

func TestProcessPayloadFailure(t *testing.T) {
	h := newHarness(t)
	h.payloadOK = false

	report := h.worker.Process(context.Background(), h.job())
	if report.Status != models.ReportStatusFailed {
		t.Fatalf("expected failed, got %s", report.Status)
	}
	if len(h.reports) != 1 {
		t.Fatalf("expected exactly 1 callback, got %d", len(h.reports))
	}
	if len(h.calls) != 0 {
		t.Errorf("engine must not run when payload fetch fails: %v", h.engineCommands())
	}
	if _, err := os.Stat(h.workspaceDir()); !os.IsNotExist(err) {
		t.Error("workspace still exists after failure")
	}
}

func TestProcessEngineFaultCarriesDiagnosticTail(t *testing.T) {
	h := newHarness(t)
	h.payload = models.RenderPayload{
		ProjectID: "p1",
		AudioURL:  h.server.URL + "/audio.mp3",
		Storyboard: []models.StoryboardItem{
			{AssetID: "a1", DurationSec: 3, AnimateType: models.AnimationZoomIn},
		},
		Assets: []models.Asset{{ID: "a1", DataURL: imageDataURL()}},
	}

	// Replace the engine with one that dies mid-synthesis.
	settings := services.RenderSettings{FPS: 30, Resolution: services.ParseFormat("horizontal")}
	manager, err := workspace.NewManager(h.root)
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	h.worker = New(
		manager,
		assets.NewFetcher(),
		services.NewPayloadClient(testSecret),
		services.NewFFmpegServiceWithRunner(settings, func(ctx context.Context, name string, args ...string) (string, error) {
			return "", &services.EngineError{Cmd: name, Tail: "x264 [error]: malformed input", Err: context.DeadlineExceeded}
		}),
		storage.New(h.server.URL, "svc-key", "bucket", "https://cdn.example.com"),
		services.NewNotifier(testSecret),
		nil,
	)

	report := h.worker.Process(context.Background(), h.job())
	if report.Status != models.ReportStatusFailed {
		t.Fatalf("expected failed, got %s", report.Status)
	}
	if !strings.Contains(report.LogTail, "x264 [error]: malformed input") {
		t.Errorf("diagnostic tail missing from report: %q", report.LogTail)
	}
	if !strings.Contains(report.LogTail, string(models.JobStateSynthesizing)) {
		t.Errorf("failing state missing from log tail: %q", report.LogTail)
	}
}
