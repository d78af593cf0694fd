// Package storage uploads final render artifacts to the object store over its
// HTTP surface and derives their public addresses.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Upload timeout - generous for multi-minute renders. One attempt only:
// upload faults are fatal for the job and retry policy belongs to the caller.
const uploadTimeout = 180 * time.Second

type Storage struct {
	url        string
	serviceKey string
	publicBase string
	Bucket     string
	client     *http.Client
}

func New(url, serviceKey, bucket, publicBase string) *Storage {
	return &Storage{
		url:        url,
		serviceKey: serviceKey,
		publicBase: strings.TrimRight(publicBase, "/"),
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// RenderKey is the deterministic storage key for a job's final artifact.
func RenderKey(projectID, renderID string) string {
	return fmt.Sprintf("renders/%s/%s.mp4", projectID, renderID)
}

// Upload stores data under key. Uses PUT with Content-Length and x-upsert so
// re-running a job overwrites its previous artifact.
func (s *Storage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, body)
	}

	return nil
}

// UploadFile uploads a local file under key and returns its public URL.
func (s *Storage) UploadFile(ctx context.Context, key, localPath, contentType string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	if err := s.Upload(ctx, key, data, contentType); err != nil {
		return "", err
	}

	return s.PublicURL(key), nil
}

// PublicURL derives the caller-resolvable address for a stored key.
func (s *Storage) PublicURL(key string) string {
	return s.publicBase + "/" + key
}
