// Package notify delivers transfer outcomes to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/javanstorm/vmxfer/internal/transfer"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

// Payload is the JSON document posted for every finished transfer.
type Payload struct {
	TransferID  string             `json:"transfer_id"`
	Direction   string             `json:"direction"`
	Source      string             `json:"source"`
	Destination string             `json:"destination"`
	Succeeded   bool               `json:"succeeded"`
	Kind        string             `json:"kind,omitempty"`
	Detail      string             `json:"detail,omitempty"`
	VM          *hypervisor.Entity `json:"vm,omitempty"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// NewPayload describes a finished transfer.
func NewPayload(req *transfer.Request, out transfer.Outcome, finishedAt time.Time) Payload {
	p := Payload{
		TransferID:  out.TransferID,
		Direction:   string(req.Direction),
		Source:      req.Source,
		Destination: req.Destination,
		Succeeded:   out.Succeeded(),
		VM:          out.Entity,
		FinishedAt:  finishedAt,
	}
	if err := out.Err(); err != nil {
		p.Kind = err.Kind.String()
		p.Detail = err.Detail
	}
	return p
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

// Webhook posts payloads to a URL, retrying transient failures.
type Webhook struct {
	url    string
	client *retryablehttp.Client
}

// Option tweaks a Webhook.
type Option func(*retryablehttp.Client)

// WithRetry overrides the retry budget and backoff bounds.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// NewWebhook creates a notifier for url.
func NewWebhook(url string, log zerolog.Logger, opts ...Option) *Webhook {
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = retryLogger{log: log.With().Str("component", "notify").Logger()}
	for _, opt := range opts {
		opt(client)
	}
	return &Webhook{url: url, client: client}
}

// Notify posts p. Server errors and throttling are retried; any other non-2xx
// response fails immediately.
func (w *Webhook) Notify(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vmxfer-Transfer", p.TransferID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	return nil
}
