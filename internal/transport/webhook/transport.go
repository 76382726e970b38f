// Package webhook delivers alert batches as JSON POST requests.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/comic-tracker/internal/transport"
)

const defaultTimeout = 10 * time.Second

// Config describes the webhook endpoint.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers http.Header
}

// Transport posts each batch to a fixed URL.
type Transport struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// New validates cfg and returns a Transport.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Transport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}, nil
}

// Send posts the batch and fails on any non-2xx response.
func (t *Transport) Send(ctx context.Context, title, body string) error {
	payload, err := transport.Encode(title, body, t.now())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	for key, values := range t.cfg.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
