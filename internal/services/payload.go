package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storyreel/worker/internal/models"
)

const payloadTimeout = 60 * time.Second

// internalSecretHeader authenticates worker-to-backend calls in both
// directions: the payload fetch here and the callback delivery.
const internalSecretHeader = "x-internal-render-secret"

// PayloadClient retrieves the job description (audio reference, storyboard,
// asset table) from the caller's payload endpoint.
type PayloadClient struct {
	secret string
	client *http.Client
}

func NewPayloadClient(secret string) *PayloadClient {
	return &PayloadClient{
		secret: secret,
		client: &http.Client{Timeout: payloadTimeout},
	}
}

// Fetch performs the authenticated payload POST for one job.
func (c *PayloadClient) Fetch(ctx context.Context, job *models.RenderJob) (*models.RenderPayload, error) {
	body, err := json.Marshal(map[string]string{
		"userId":   job.UserID,
		"renderId": job.RenderID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.PayloadURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalSecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payload fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("payload fetch returned status %d: %s", resp.StatusCode, respBody)
	}

	var payload models.RenderPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	return &payload, nil
}
