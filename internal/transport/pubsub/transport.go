// Package pubsub delivers alert batches to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/comic-tracker/internal/transport"
)

// Config names the topic.
type Config struct {
	ProjectID string
	TopicID   string
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Transport publishes each batch as one message.
type Transport struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	publish publishFunc
	now     func() time.Time
}

// New connects to Pub/Sub using application default credentials.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	t := &Transport{client: client, topic: topic, now: time.Now}
	t.publish = func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return topic.Publish(ctx, msg).Get(ctx)
	}
	return t, nil
}

// Send publishes the batch and waits for the server id.
func (t *Transport) Send(ctx context.Context, title, body string) error {
	if t.publish == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := transport.Encode(title, body, t.now())
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": "chapter-alert"},
	}
	if _, err := t.publish(ctx, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (t *Transport) Close() error {
	if t.topic != nil {
		t.topic.Stop()
	}
	if t.client != nil {
		if err := t.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
