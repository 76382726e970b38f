// Package breaker keeps one circuit breaker per publisher host.
package breaker

import (
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/metrics"
)

// Config tunes every breaker in a Set.
type Config struct {
	// ConsecutiveFailures opens the breaker. Zero disables breaking.
	ConsecutiveFailures uint32
	// OpenTimeout is how long an open breaker rejects calls before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes are allowed while half-open.
	HalfOpenRequests uint32
}

// Set lazily creates a breaker per host.
type Set[T any] struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker[T]
	logger   *zap.Logger
}

// New creates an empty Set.
func New[T any](cfg Config, logger *zap.Logger) *Set[T] {
	metrics.Init()
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set[T]{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[T]),
		logger:   logger.Named("breaker"),
	}
}

// Execute runs fn through the breaker for host. An open breaker returns
// gobreaker.ErrOpenState without calling fn.
func (s *Set[T]) Execute(host string, fn func() (T, error)) (T, error) {
	if s == nil || s.cfg.ConsecutiveFailures == 0 {
		return fn()
	}
	return s.get(host).Execute(fn)
}

// State reports the breaker state for host.
func (s *Set[T]) State(host string) gobreaker.State {
	if s == nil || s.cfg.ConsecutiveFailures == 0 {
		return gobreaker.StateClosed
	}
	return s.get(host).State()
}

func (s *Set[T]) get(host string) *gobreaker.CircuitBreaker[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[host]; ok {
		return cb
	}
	threshold := s.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        host,
		MaxRequests: s.cfg.HalfOpenRequests,
		Timeout:     s.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, stateValue(to))
		},
	})
	s.breakers[host] = cb
	metrics.SetBreakerState(host, stateValue(gobreaker.StateClosed))
	return cb
}

func stateValue(st gobreaker.State) int {
	switch st {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
