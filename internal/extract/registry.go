package extract

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
)

// closedSites no longer publish and are never scraped.
var closedSites = map[comic.Publisher]bool{
	comic.PublisherLeviatanScans: true,
}

// Registry maps every publisher to an extractor.
type Registry struct {
	extractors map[comic.Publisher]Extractor
}

// NewRegistry builds a registry from the built-in selectors with overrides applied.
// Publishers without selectors map to a pending Noop; closed sites always do.
func NewRegistry(overrides map[comic.Publisher]Selectors, logger *zap.Logger) (*Registry, error) {
	defaults := DefaultSelectors()
	r := &Registry{extractors: make(map[comic.Publisher]Extractor, len(comic.Publishers()))}
	for _, p := range comic.Publishers() {
		if closedSites[p] {
			r.extractors[p] = NewNoop(p, ReasonSiteClosed)
			continue
		}
		sel, ok := defaults[p]
		if override, has := overrides[p]; has && !override.IsZero() {
			sel = sel.Merge(override)
			ok = true
		}
		if !ok {
			r.extractors[p] = NewNoop(p, ReasonPending)
			continue
		}
		ex, err := NewHTML(p, sel, logger)
		if err != nil {
			return nil, fmt.Errorf("build extractor: %w", err)
		}
		r.extractors[p] = ex
	}
	return r, nil
}

// For returns the extractor for p.
func (r *Registry) For(p comic.Publisher) Extractor {
	if ex, ok := r.extractors[p]; ok {
		return ex
	}
	return NewNoop(p, ReasonPending)
}
