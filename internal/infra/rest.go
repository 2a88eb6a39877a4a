package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

const (
	restMaxRetries     = 3
	restInitialBackoff = 1 * time.Second
	restMaxBackoff     = 10 * time.Second
	restRequestTimeout = 15 * time.Second
)

// RESTSink posts events and status snapshots to the backend API.
type RESTSink struct {
	client *http.Client
	delay  time.Duration
	logger *zap.Logger
}

// NewRESTSink creates a sink. A nil client uses a default with a request timeout.
func NewRESTSink(client *http.Client, logger *zap.Logger) *RESTSink {
	if client == nil {
		client = &http.Client{Timeout: restRequestTimeout}
	}
	return &RESTSink{client: client, delay: restInitialBackoff, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (r *RESTSink) Name() string { return "rest" }

// Enabled reports whether the REST endpoint is configured.
func (r *RESTSink) Enabled(s domain.Settings) bool {
	return s.RESTEnabled && s.RESTBaseURL != ""
}

// PublishEvent posts one event to {base}/events.
func (r *RESTSink) PublishEvent(ctx context.Context, s domain.Settings, p domain.EventPayload) error {
	return r.post(ctx, s, "events", p)
}

// PublishStatus posts a snapshot to {base}/status.
func (r *RESTSink) PublishStatus(ctx context.Context, s domain.Settings, p domain.StatusPayload) error {
	return r.post(ctx, s, "status", p)
}

func (r *RESTSink) post(ctx context.Context, s domain.Settings, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	url := strings.TrimRight(s.RESTBaseURL, "/") + "/" + path

	return retry.Do(func() error {
		return r.send(ctx, url, s.RESTAPIKey, body)
	},
		retry.Context(ctx),
		retry.Attempts(restMaxRetries),
		retry.Delay(r.delay),
		retry.MaxDelay(restMaxBackoff),
		retry.LastErrorOnly(true))
}

func (r *RESTSink) send(ctx context.Context, url, apiKey string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// Client errors will not improve on retry.
		return retry.Unrecoverable(fmt.Errorf("post %s: status %d", url, resp.StatusCode))
	default:
		r.logger.Debug("rest post failed, will retry", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
}

var _ domain.Sink = (*RESTSink)(nil)
