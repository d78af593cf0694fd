package models

import (
	"encoding/json"
	"strings"
)

// Enums

// JobState tracks a render job through the pipeline. Failed is reachable
// from every non-terminal state; Completed and Failed are terminal.
type JobState string

const (
	JobStateQueued         JobState = "queued"
	JobStateFetchingAssets JobState = "fetching_assets"
	JobStateSynthesizing   JobState = "synthesizing"
	JobStateAssembling     JobState = "assembling"
	JobStateUploading      JobState = "uploading"
	JobStateNotifying      JobState = "notifying"
	JobStateCompleted      JobState = "completed"
	JobStateFailed         JobState = "failed"
)

// Terminal reports whether the state ends the job.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

type ReportStatus string

const (
	ReportStatusComplete ReportStatus = "complete"
	ReportStatusFailed   ReportStatus = "failed"
)

// Animation is the camera-motion variant applied to a still-image clip.
type Animation string

const (
	AnimationNone     Animation = "none"
	AnimationZoomIn   Animation = "zoom-in"
	AnimationZoomOut  Animation = "zoom-out"
	AnimationPanLeft  Animation = "pan-left"
	AnimationPanRight Animation = "pan-right"
	AnimationPanUp    Animation = "pan-up"
	AnimationPanDown  Animation = "pan-down"
	AnimationFadeIn   Animation = "fade-in"
	AnimationFadeOut  Animation = "fade-out"
)

// Models

// RenderJob is an accepted render request. Jobs live only in process memory
// (and on the queue while waiting); durability is the caller's responsibility.
type RenderJob struct {
	RenderID    string `json:"renderId"`
	UserID      string `json:"userId"`
	PayloadURL  string `json:"payloadUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// RenderPayload is the job description fetched from the payload endpoint.
type RenderPayload struct {
	ProjectID  string           `json:"projectId"`
	AudioURL   string           `json:"audioUrl"`
	Storyboard []StoryboardItem `json:"storyboard"`
	Assets     []Asset          `json:"assets"`
}

// AssetTable indexes the payload's assets by id. Entries without an id are
// dropped, matching the lookup the payload producer expects.
func (p *RenderPayload) AssetTable() map[string]*Asset {
	table := make(map[string]*Asset, len(p.Assets))
	for i := range p.Assets {
		if p.Assets[i].ID != "" {
			table[p.Assets[i].ID] = &p.Assets[i]
		}
	}
	return table
}

// StoryboardItem is one visual segment: which asset to show, for how long,
// and with which camera motion.
type StoryboardItem struct {
	AssetID     string    `json:"assetId"`
	DurationSec float64   `json:"durationSec"`
	AnimateType Animation `json:"animateType"`

	// Legacy aliases still emitted by older payload producers.
	AnimationAlias string `json:"animation,omitempty"`
	AnimateFlag    bool   `json:"animate,omitempty"`
}

// Duration returns the target clip duration, defaulting to 5s when the
// payload omits or zeroes it.
func (it *StoryboardItem) Duration() float64 {
	if it.DurationSec > 0 {
		return it.DurationSec
	}
	return 5
}

// Motion resolves the animation variant, honoring the legacy "animation"
// string and boolean "animate" fields when "animateType" is absent.
func (it *StoryboardItem) Motion() Animation {
	if it.AnimateType != "" {
		return it.AnimateType
	}
	if it.AnimationAlias != "" {
		return Animation(it.AnimationAlias)
	}
	if it.AnimateFlag {
		return AnimationZoomIn
	}
	return AnimationNone
}

// AnimationJob is the state of the background video-generation job attached
// to an asset. Only a completed job contributes a usable video reference.
type AnimationJob struct {
	Status   string `json:"status"`
	VideoURL string `json:"videoUrl"`
}

// Asset is a visual source referenced by storyboard items. Its content is one
// of two shapes: a precomputed looping video (when the background generation
// job completed) or an inline base64 still image.
type Asset struct {
	ID        string        `json:"id"`
	Animation *AnimationJob `json:"animation,omitempty"`
	DataURL   string        `json:"dataUrl,omitempty"`
}

// AssetSource is the closed set of resolvable asset shapes.
type AssetSource interface{ isAssetSource() }

// VideoLoop is a remote precomputed video to loop/truncate to the clip length.
type VideoLoop struct{ URL string }

// StillImage is an inline data-URL image payload to animate.
type StillImage struct{ DataURL string }

func (VideoLoop) isAssetSource()  {}
func (StillImage) isAssetSource() {}

// Source resolves the asset to exactly one shape. A completed precomputed
// video wins over an inline image when both are present. Nil means the asset
// is unresolvable and the referencing item must be skipped.
func (a *Asset) Source() AssetSource {
	if a.Animation != nil && a.Animation.Status == "completed" &&
		strings.HasPrefix(a.Animation.VideoURL, "http") {
		return VideoLoop{URL: a.Animation.VideoURL}
	}
	if a.DataURL != "" {
		return StillImage{DataURL: a.DataURL}
	}
	return nil
}

// CallbackReport is the single completion or failure notification emitted per
// job, posted to the caller-supplied callback location.
type CallbackReport struct {
	UserID    string       `json:"userId"`
	RenderID  string       `json:"renderId"`
	Status    ReportStatus `json:"status"`
	OutputURL string       `json:"outputUrl,omitempty"`
	Error     string       `json:"error,omitempty"`
	LogTail   string       `json:"logTail,omitempty"`
}

// DTOs for API requests/responses

type RenderRequest struct {
	UserID      string `json:"userId"`
	RenderID    string `json:"renderId"`
	PayloadURL  string `json:"payloadUrl"`
	CallbackURL string `json:"callbackUrl"`
}

func (r *RenderRequest) Validate() string {
	switch {
	case r.RenderID == "":
		return "renderId is required"
	case r.UserID == "":
		return "userId is required"
	case r.PayloadURL == "":
		return "payloadUrl is required"
	case r.CallbackURL == "":
		return "callbackUrl is required"
	}
	return ""
}

type RenderResponse struct {
	Status   string `json:"status"`
	RenderID string `json:"renderId"`
}

type TranscribeRequest struct {
	AudioURL string `json:"audioUrl"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscribeResponse struct {
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
}

// MarshalReport is a convenience used by the notifier and tests.
func MarshalReport(r *CallbackReport) []byte {
	data, _ := json.Marshal(r)
	return data
}
