package services

import (
	"context"
	"log"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// VertexModelInfo describes one Model Garden publisher model probe result.
type VertexModelInfo struct {
	Name           string `json:"name"`
	DisplayName    string `json:"display_name"`
	Publisher      string `json:"publisher"`
	IsVideoRelated bool   `json:"is_video_related"`
}

// ModelGardenClient probes Vertex AI publisher model availability for a
// project and region.
type ModelGardenClient struct {
	client *genai.Client
}

// NewModelGardenClient builds a Vertex-backed client from application
// default credentials.
func NewModelGardenClient(ctx context.Context, project, location string) (*ModelGardenClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, err
	}
	return &ModelGardenClient{client: client}, nil
}

// CheckCandidates probes each candidate publisher model. Failed probes are
// kept in the result with the failure class folded into the display name, so
// a sync run records which models went missing rather than dropping them.
func (c *ModelGardenClient) CheckCandidates(ctx context.Context, candidates []string) []VertexModelInfo {
	var out []VertexModelInfo
	for _, name := range candidates {
		m, err := c.client.Models.Get(ctx, name, nil)
		if err != nil {
			code := classifyProbeError(err)
			log.Printf("[ModelGarden] probe %s: %s (%v)", name, code, err)
			out = append(out, VertexModelInfo{
				Name:           name,
				DisplayName:    name + " [" + code + "]",
				Publisher:      "google",
				IsVideoRelated: true,
			})
			continue
		}

		display := m.DisplayName
		if display == "" {
			display = m.Name
		}
		out = append(out, VertexModelInfo{
			Name:           m.Name,
			DisplayName:    display,
			Publisher:      "google",
			IsVideoRelated: isVideoRelated(display + " " + m.Name),
		})
	}

	sortModels(out)
	return out
}

// classifyProbeError maps a probe failure to a coarse status code without
// depending on transport error types.
func classifyProbeError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "403"):
		return "PERMISSION_DENIED"
	case strings.Contains(msg, "NOT_FOUND") || strings.Contains(msg, "404"):
		return "NOT_FOUND"
	case strings.Contains(msg, "UNAVAILABLE"):
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

func isVideoRelated(hay string) bool {
	hay = strings.ToLower(hay)
	return strings.Contains(hay, "veo") ||
		strings.Contains(hay, "video") ||
		strings.Contains(hay, "image-to-video")
}

// sortModels orders video-related models first, then by display name.
func sortModels(models []VertexModelInfo) {
	sort.Slice(models, func(i, j int) bool {
		if models[i].IsVideoRelated != models[j].IsVideoRelated {
			return models[i].IsVideoRelated
		}
		di, dj := strings.ToLower(models[i].DisplayName), strings.ToLower(models[j].DisplayName)
		if di != dj {
			return di < dj
		}
		return models[i].Name < models[j].Name
	})
}
