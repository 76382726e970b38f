// Package nats delivers alert batches to a NATS subject.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/comic-tracker/internal/transport"
)

// Config describes the NATS connection.
type Config struct {
	URL     string
	Subject string
	Name    string
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Transport publishes each batch and waits for the server to acknowledge the flush.
type Transport struct {
	conn    conn
	subject string
	now     func() time.Time
}

// New connects to the NATS server.
func New(cfg Config) (*Transport, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "comic-tracker"
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Transport{conn: nc, subject: cfg.Subject, now: time.Now}, nil
}

// Send publishes the batch on the configured subject.
func (t *Transport) Send(ctx context.Context, title, body string) error {
	data, err := transport.Encode(title, body, t.now())
	if err != nil {
		return err
	}
	if err := t.conn.Publish(t.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", t.subject, err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close drops the connection.
func (t *Transport) Close() error {
	t.conn.Close()
	return nil
}
