// Package fetcher retrieves publisher listing pages. A fetch never fails: transport
// errors, timeouts and open breakers all produce an empty Document.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/metrics"
	"github.com/JakeFAU/comic-tracker/internal/policy/breaker"
	"github.com/JakeFAU/comic-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/comic-tracker/internal/policy/retry"
)

// Document is a fetched page. Empty marks a fetch that produced nothing usable.
type Document struct {
	URL      string
	Status   int
	Body     []byte
	Duration time.Duration
	Headless bool
	Empty    bool
}

// EmptyDocument returns the marker for a failed fetch of url.
func EmptyDocument(url string) Document {
	return Document{URL: url, Empty: true}
}

// Source performs one fetch attempt. Transport failures are returned as errors;
// a non-2xx response is not an error.
type Source interface {
	Get(ctx context.Context, url string) (Document, error)
}

// Fetcher wraps a Source with per-host rate limiting, circuit breaking and retries.
type Fetcher struct {
	source   Source
	limiter  *ratelimit.Limiter
	breakers *breaker.Set[Document]
	retry    *retry.Policy
	logger   *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRetry retries transient failures according to p.
func WithRetry(p *retry.Policy) Option {
	return func(f *Fetcher) { f.retry = p }
}

// New wires a Fetcher. limiter and breakers may be nil.
func New(source Source, limiter *ratelimit.Limiter, breakers *breaker.Set[Document], logger *zap.Logger, opts ...Option) *Fetcher {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		source:   source,
		limiter:  limiter,
		breakers: breakers,
		logger:   logger.Named("fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves url. It returns an empty Document instead of an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) Document {
	host := ratelimit.Host(url)
	logger := f.logger.With(zap.String("url", url))

	var (
		doc Document
		err error
	)
	for attempts := 1; ; attempts++ {
		if f.limiter != nil {
			if waitErr := f.limiter.Wait(ctx, url); waitErr != nil {
				logger.Warn("fetch skipped", zap.Error(waitErr))
				metrics.ObserveFetch(url, "rate_limited", 0)
				return EmptyDocument(url)
			}
		}
		doc, err = f.breakers.Execute(host, func() (Document, error) {
			return f.source.Get(ctx, url)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logger.Warn("fetch rejected by open breaker", zap.String("host", host))
			metrics.ObserveFetch(url, "breaker_open", 0)
			return EmptyDocument(url)
		}
		if !f.retry.ShouldRetry(err, attempts) {
			break
		}
		logger.Info("retrying fetch", zap.Int("attempt", attempts), zap.Error(err))
		if waitErr := f.retry.Wait(ctx, attempts); waitErr != nil {
			break
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", comic.ErrTransientFetch, err)
		logger.Warn("fetch failed", zap.Error(err))
		metrics.ObserveFetch(url, "error", 0)
		return EmptyDocument(url)
	}

	if doc.Status < 200 || doc.Status > 299 {
		logger.Warn("unexpected status", zap.Int("status", doc.Status))
	}
	metrics.ObserveFetch(url, statusLabel(doc.Status), len(doc.Body))
	return doc
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
