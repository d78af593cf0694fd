package services

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"time"

	"github.com/storyreel/worker/internal/models"
)

const callbackTimeout = 30 * time.Second

// Notifier delivers the CallbackReport to the caller-supplied callback
// location. Delivery is best-effort: by the time a report exists the job has
// already reached its terminal state, so failures are logged, never retried,
// never escalated.
type Notifier struct {
	secret string
	client *http.Client
}

func NewNotifier(secret string) *Notifier {
	return &Notifier{
		secret: secret,
		client: &http.Client{Timeout: callbackTimeout},
	}
}

// Notify posts the report with the internal shared-secret header.
func (n *Notifier) Notify(ctx context.Context, callbackURL string, report *models.CallbackReport) {
	if n.secret == "" {
		log.Printf("[Callback] internal secret missing; cannot deliver report for render %s", report.RenderID)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(models.MarshalReport(report)))
	if err != nil {
		log.Printf("[Callback] failed to create request for render %s: %v", report.RenderID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalSecretHeader, n.secret)

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("[Callback] delivery failed for render %s: %v", report.RenderID, err)
		return
	}
	resp.Body.Close()

	log.Printf("[Callback] delivered %s report for render %s (status %d)", report.Status, report.RenderID, resp.StatusCode)
}
