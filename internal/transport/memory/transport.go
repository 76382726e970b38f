// Package memory contains an in-memory alert transport for tests and dry runs.
package memory

import (
	"context"
	"sync"
)

// Sent captures one Send call.
type Sent struct {
	Title string
	Body  string
}

// Transport records delivered batches for inspection.
type Transport struct {
	mu   sync.RWMutex
	sent []Sent
	err  error
}

// New returns an empty Transport.
func New() *Transport {
	return &Transport{}
}

// Send records the batch, or returns the configured failure without recording it.
func (t *Transport) Send(_ context.Context, title, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, Sent{Title: title, Body: body})
	return nil
}

// FailWith makes subsequent sends return err. Nil restores delivery.
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Sent returns a copy of the recorded batches.
func (t *Transport) Sent() []Sent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Sent, len(t.sent))
	copy(out, t.sent)
	return out
}
