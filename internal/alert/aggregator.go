// Package alert batches chapter releases of tracked comics and delivers them through transports.
package alert

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/metrics"
)

const (
	// DefaultThreshold is the batch size that triggers an automatic flush.
	DefaultThreshold = 4
	// DefaultTitle prefixes the subject of every flushed batch.
	DefaultTitle = "Scrape alert"
	header       = "Update found"
)

// Transport delivers a rendered batch.
type Transport interface {
	Send(ctx context.Context, title, body string) error
}

// Config controls batching.
type Config struct {
	Threshold int
	Title     string
}

// Aggregator accumulates alert lines until a threshold or an explicit flush.
// Transports are called without holding the batch lock, so Add never waits on delivery
// started by another goroutine.
type Aggregator struct {
	mu         sync.Mutex
	cfg        Config
	lines      []string
	sendMu     sync.Mutex
	transports []Transport
	logger     *zap.Logger
}

// New creates an Aggregator delivering through transports.
func New(cfg Config, logger *zap.Logger, transports ...Transport) *Aggregator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Aggregator{cfg: cfg, transports: transports, logger: logger}
}

// Add appends a release line and flushes once the batch reaches the threshold.
// Delivery failures are logged and the batch is kept for the next flush. When another flush
// is already sending, that flush picks up the full batch once it finishes.
func (a *Aggregator) Add(ctx context.Context, title string, chapter int, publishers []comic.Publisher) {
	a.mu.Lock()
	a.lines = append(a.lines, fmt.Sprintf("%s, ch %d - %s", title, chapter, comic.PublisherNames(publishers)))
	full := len(a.lines) >= a.cfg.Threshold
	a.mu.Unlock()
	if !full || !a.sendMu.TryLock() {
		return
	}
	defer a.sendMu.Unlock()
	if _, err := a.drainFull(ctx); err != nil {
		a.logger.Warn("alert flush failed; batch retained", zap.Int("pending", a.Pending()), zap.Error(err))
	}
}

// Flush sends the pending batch through every transport and returns how many alerts it sent.
// The sent lines are cleared only when every transport succeeds. An empty batch is a no-op.
func (a *Aggregator) Flush(ctx context.Context) (int, error) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	n, err := a.send(ctx)
	if err != nil {
		return n, err
	}
	more, err := a.drainFull(ctx)
	return n + more, err
}

// drainFull keeps sending while the batch is at the threshold, covering lines whose Add found
// a send already in flight. Callers hold sendMu.
func (a *Aggregator) drainFull(ctx context.Context) (int, error) {
	var total int
	for a.Pending() >= a.cfg.Threshold {
		n, err := a.send(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Pending returns the number of alerts waiting to be sent.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lines)
}

// Subject returns the title the pending batch would be sent with.
func (a *Aggregator) Subject() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subject(len(a.lines))
}

func (a *Aggregator) subject(n int) string {
	return fmt.Sprintf("%s - (%d)", a.cfg.Title, n)
}

// send delivers the lines pending when it starts. Callers hold sendMu.
func (a *Aggregator) send(ctx context.Context) (int, error) {
	a.mu.Lock()
	n := len(a.lines)
	if n == 0 {
		a.mu.Unlock()
		return 0, nil
	}
	title, body := a.subject(n), render(a.lines[:n])
	a.mu.Unlock()

	var errs []error
	for _, t := range a.transports {
		if err := t.Send(ctx, title, body); err != nil {
			errs = append(errs, fmt.Errorf("send via %T: %w", t, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		metrics.ObserveAlertFlush("error")
		return 0, err
	}

	// Lines added while sending stay queued.
	a.mu.Lock()
	a.lines = slices.Delete(a.lines, 0, n)
	a.mu.Unlock()
	metrics.ObserveAlertFlush("ok")
	a.logger.Info("alerts flushed", zap.Int("count", n), zap.Int("transports", len(a.transports)))
	return n, nil
}

func render(lines []string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, l := range lines {
		b.WriteString("\t\n")
		b.WriteString(l)
	}
	return b.String()
}
