// Package assets resolves asset references into local files: remote URLs are
// streamed to disk, inline data-URL images are decoded to disk.
package assets

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"time"
)

const (
	// Default timeout for a single download. Callers pass larger values for
	// video sources, which can run long.
	DefaultTimeout = 120 * time.Second

	// AudioTimeout and VideoTimeout bound the narration and precomputed
	// video downloads respectively.
	AudioTimeout = 180 * time.Second
	VideoTimeout = 300 * time.Second

	downloadChunkSize = 1 << 20
)

// dataURLPattern requires an image/* media type; anything else is rejected
// before any bytes are decoded.
var dataURLPattern = regexp.MustCompile(`(?s)^data:(image/[^;]+);base64,(.*)$`)

type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// FetchURL streams a remote asset to dest in chunks with a bounded timeout.
// Transient network failures are not retried here; retry policy belongs to
// the caller.
func (f *Fetcher) FetchURL(ctx context.Context, url, dest string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed for %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed for %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.CopyBuffer(out, resp.Body, make([]byte, downloadChunkSize)); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	return nil
}

// WriteDataURL decodes an inline base64 image payload to dest. The payload
// must carry an image/* media type and well-formed base64 content.
func WriteDataURL(dataURL, dest string) error {
	m := dataURLPattern.FindStringSubmatch(dataURL)
	if m == nil {
		return fmt.Errorf("bad dataUrl")
	}

	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return fmt.Errorf("malformed base64 image payload: %w", err)
	}

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	return nil
}
