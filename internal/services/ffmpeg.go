package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/storyreel/worker/internal/models"
)

// ---------------------------------------------------------------------------
// Render settings
// ---------------------------------------------------------------------------

// Resolution is the fixed output frame size for a render format.
type Resolution struct {
	Width  int
	Height int
}

// ParseFormat maps a render format name to its output resolution.
// Unknown names fall back to horizontal.
func ParseFormat(format string) Resolution {
	switch format {
	case "vertical":
		return Resolution{Width: 1080, Height: 1920}
	case "square":
		return Resolution{Width: 1080, Height: 1080}
	default:
		return Resolution{Width: 1920, Height: 1080}
	}
}

// RenderSettings are the global encoding parameters shared by every clip in a
// job: one frame rate, one resolution, applied uniformly so concatenation
// never has to reconcile stream parameters.
type RenderSettings struct {
	FPS        int
	Resolution Resolution
}

// Motion constants. Zoom variants travel between 1.0 and maxZoom; pan
// variants hold panZoom so there is crop room to traverse; fades span
// fadeSeconds at the clip edge.
const (
	maxZoom     = 1.25
	panZoom     = 1.15
	fadeSeconds = 0.5

	// Fixed timescale for the muxed output. At 30fps each frame is exactly
	// 512 ticks, so timestamps across arbitrarily many concatenated
	// fragments stay frame-accurate instead of accumulating rounding drift.
	videoTimescale = 15360

	// diagTailBytes bounds the engine output excerpt carried into failure
	// reports.
	diagTailBytes = 2000

	encodeTimeout = 10 * time.Minute
	probeTimeout  = 30 * time.Second
)

// FrameCount converts a clip duration to a whole frame count, never below 1.
func FrameCount(durationSec float64, fps int) int {
	frames := int(math.Round(durationSec * float64(fps)))
	if frames < 1 {
		return 1
	}
	return frames
}

// motionDenominator is the divisor driving per-frame motion interpolation.
// Clamped to 1 so a single-frame clip never divides by zero.
func motionDenominator(frames int) int {
	if frames <= 1 {
		return 1
	}
	return frames - 1
}

// fadeOutStart places the fade-out window at the clip tail: it starts at
// max(0, duration-fadeSeconds) and lasts fadeSeconds.
func fadeOutStart(durationSec float64) float64 {
	st := durationSec - fadeSeconds
	if st < 0 {
		return 0
	}
	return st
}

// ---------------------------------------------------------------------------
// Engine invocation
// ---------------------------------------------------------------------------

// CommandRunner executes one external engine invocation and returns its
// combined output. Injected in tests so the pipeline runs without ffmpeg.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// EngineError is a nonzero exit from the external media engine. Tail carries
// the trailing excerpt of the engine's diagnostic output for failure reports.
type EngineError struct {
	Cmd  string
	Tail string
	Err  error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s failed: %v: %s", e.Cmd, e.Err, e.Tail)
}

func (e *EngineError) Unwrap() error { return e.Err }

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), &EngineError{Cmd: name, Tail: tail(string(output), diagTailBytes), Err: err}
	}
	return string(output), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

// FFmpegService constructs and runs the ffmpeg/ffprobe invocations for clip
// synthesis and sequence assembly. It owns instruction correctness only; the
// engine owns the pixels.
type FFmpegService struct {
	settings RenderSettings
	run      CommandRunner
}

func NewFFmpegService(settings RenderSettings) *FFmpegService {
	return NewFFmpegServiceWithRunner(settings, runCommand)
}

// NewFFmpegServiceWithRunner injects the engine invocation, keeping the
// pipeline testable without a real ffmpeg binary.
func NewFFmpegServiceWithRunner(settings RenderSettings, run CommandRunner) *FFmpegService {
	return &FFmpegService{settings: settings, run: run}
}

func (s *FFmpegService) Settings() RenderSettings { return s.settings }

// baseFilter scales to the target resolution preserving aspect ratio,
// letterboxes with black fill centered, and normalizes SAR and frame rate.
func (s *FFmpegService) baseFilter() string {
	w, h := s.settings.Resolution.Width, s.settings.Resolution.Height
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1,fps=%d",
		w, h, w, h, s.settings.FPS,
	)
}

// MotionFilter builds the full -vf chain for an animate-from-image clip.
func (s *FFmpegService) MotionFilter(anim models.Animation, durationSec float64) string {
	fps := s.settings.FPS
	w, h := s.settings.Resolution.Width, s.settings.Resolution.Height

	frames := FrameCount(durationSec, fps)
	den := motionDenominator(frames)
	size := fmt.Sprintf("s=%dx%d", w, h)

	vf := s.baseFilter()

	switch anim {
	case models.AnimationZoomIn:
		z := fmt.Sprintf("min(1+(%g-1)*on/%d,%g)", maxZoom, den, maxZoom)
		vf += fmt.Sprintf(",zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:%s,fps=%d", z, size, fps)
	case models.AnimationZoomOut:
		z := fmt.Sprintf("max(%g-(%g-1)*on/%d,1.0)", maxZoom, maxZoom, den)
		vf += fmt.Sprintf(",zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:%s,fps=%d", z, size, fps)
	case models.AnimationPanLeft:
		vf += fmt.Sprintf(",zoompan=z='%g':x='(iw-ow)*on/%d':y='(ih-oh)/2':d=1:%s,fps=%d", panZoom, den, size, fps)
	case models.AnimationPanRight:
		vf += fmt.Sprintf(",zoompan=z='%g':x='(iw-ow)*(1-on/%d)':y='(ih-oh)/2':d=1:%s,fps=%d", panZoom, den, size, fps)
	case models.AnimationPanUp:
		vf += fmt.Sprintf(",zoompan=z='%g':x='(iw-ow)/2':y='(ih-oh)*(1-on/%d)':d=1:%s,fps=%d", panZoom, den, size, fps)
	case models.AnimationPanDown:
		vf += fmt.Sprintf(",zoompan=z='%g':x='(iw-ow)/2':y='(ih-oh)*on/%d':d=1:%s,fps=%d", panZoom, den, size, fps)
	case models.AnimationFadeIn:
		vf += fmt.Sprintf(",fade=t=in:st=0:d=%g", fadeSeconds)
	case models.AnimationFadeOut:
		vf += fmt.Sprintf(",fade=t=out:st=%.2f:d=%g", fadeOutStart(durationSec), fadeSeconds)
	}

	return vf
}

// SynthesizeFromImage renders one fixed-duration motion clip from a still
// image using the selected animation variant. The clip is silent.
func (s *FFmpegService) SynthesizeFromImage(ctx context.Context, imagePath, outputPath string, durationSec float64, anim models.Animation) error {
	vf := s.MotionFilter(anim, durationSec)
	log.Printf("[FFmpeg] image clip: anim=%s duration=%.2fs filter=%s", anim, durationSec, vf)

	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", s.settings.FPS),
		"-loop", "1", "-t", fmt.Sprintf("%.2f", durationSec), "-i", imagePath,
		"-vf", vf,
		"-r", fmt.Sprintf("%d", s.settings.FPS),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		outputPath,
	}

	ctx, cancel := context.WithTimeout(ctx, encodeTimeout)
	defer cancel()

	if _, err := s.run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("image clip synthesis failed (anim=%s): %w", anim, err)
	}
	return nil
}

// SynthesizeFromVideo loops/truncates a precomputed video to the requested
// duration, scaled and letterboxed to the target resolution, audio discarded.
func (s *FFmpegService) SynthesizeFromVideo(ctx context.Context, videoPath, outputPath string, durationSec float64) error {
	log.Printf("[FFmpeg] video loop clip: duration=%.2fs src=%s", durationSec, videoPath)

	args := []string{
		"-y",
		"-stream_loop", "-1", "-i", videoPath,
		"-t", fmt.Sprintf("%.2f", durationSec),
		"-vf", s.baseFilter(),
		"-an",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		outputPath,
	}

	ctx, cancel := context.WithTimeout(ctx, encodeTimeout)
	defer cancel()

	if _, err := s.run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("video loop synthesis failed: %w", err)
	}
	return nil
}

// concatFilter chains N clip inputs into one silent stream and rebuilds
// timestamps against the global frame rate so the pre-trim stream duration
// equals the sum of the clip durations within one frame.
func (s *FFmpegService) concatFilter(clipCount int) string {
	var ins strings.Builder
	for i := 0; i < clipCount; i++ {
		fmt.Fprintf(&ins, "[%d:v]", i)
	}
	return fmt.Sprintf("%sconcat=n=%d:v=1:a=0,setpts=N/%d/TB,fps=%d[v]", ins.String(), clipCount, s.settings.FPS, s.settings.FPS)
}

// AssembleSequence concatenates the ordered clips and muxes them against the
// audio track. Final duration follows the shortest stream. The container is
// laid out for progressive playback and the video track carries an explicit
// timescale so duration arithmetic stays frame-accurate.
func (s *FFmpegService) AssembleSequence(ctx context.Context, clipPaths []string, audioPath, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to assemble")
	}

	args := []string{"-y"}
	for _, clip := range clipPaths {
		args = append(args, "-i", clip)
	}
	args = append(args, "-i", audioPath)

	args = append(args,
		"-filter_complex", s.concatFilter(len(clipPaths)),
		"-map", "[v]", "-map", fmt.Sprintf("%d:a:0", len(clipPaths)),
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-r", fmt.Sprintf("%d", s.settings.FPS),
		"-c:a", "aac", "-b:a", "192k",
		"-shortest", "-movflags", "+faststart",
		"-video_track_timescale", fmt.Sprintf("%d", videoTimescale),
		outputPath,
	)

	log.Printf("[FFmpeg] assembling %d clips + audio -> %s", len(clipPaths), outputPath)

	ctx, cancel := context.WithTimeout(ctx, encodeTimeout)
	defer cancel()

	if _, err := s.run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("sequence assembly failed: %w", err)
	}
	return nil
}

// ProbeOutput returns the frame rate and timebase of the muxed artifact.
// Carried in the success report's log tail for downstream verification.
func (s *FFmpegService) ProbeOutput(ctx context.Context, path string) (string, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate,avg_frame_rate,time_base",
		"-of", "default=nk=1:nw=1",
		path,
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := s.run(ctx, "ffprobe", args...)
	if err != nil {
		return "", fmt.Errorf("ffprobe failed: %w", err)
	}
	return strings.TrimSpace(output), nil
}
