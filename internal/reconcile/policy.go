package reconcile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/JakeFAU/comic-tracker/internal/comic"
)

// FieldRule decides how an incoming value replaces a stored one.
type FieldRule string

// Supported field rules.
const (
	// FillIfEmpty writes the incoming value only when the stored value is unset.
	FillIfEmpty FieldRule = "fill_if_empty"
	// OverwriteIfKnown writes any incoming value that is set.
	OverwriteIfKnown FieldRule = "overwrite_if_known"
	// Keep never touches the stored value.
	Keep FieldRule = "keep"
)

// ParseFieldRule converts a configuration string into a FieldRule.
func ParseFieldRule(raw string) (FieldRule, error) {
	switch rule := FieldRule(strings.ToLower(strings.TrimSpace(raw))); rule {
	case FillIfEmpty, OverwriteIfKnown, Keep:
		return rule, nil
	default:
		return "", fmt.Errorf("unknown field rule %q", raw)
	}
}

// apply returns the value to store and whether it differs from current.
func apply[T comparable](rule FieldRule, current, incoming T) (T, bool) {
	var zero T
	if incoming == zero || incoming == current {
		return current, false
	}
	switch rule {
	case FillIfEmpty:
		if current != zero {
			return current, false
		}
		return incoming, true
	case OverwriteIfKnown:
		return incoming, true
	default:
		return current, false
	}
}

// FieldPolicy holds the per-field update rules for identity and live data.
type FieldPolicy struct {
	Author FieldRule
	Type   FieldRule
	Status FieldRule
}

// DefaultFieldPolicy keeps the first author and type seen and tracks the latest known status.
func DefaultFieldPolicy() FieldPolicy {
	return FieldPolicy{
		Author: FillIfEmpty,
		Type:   FillIfEmpty,
		Status: OverwriteIfKnown,
	}
}

// CoverPolicy lists the publishers that need special cover handling.
type CoverPolicy struct {
	// Degraded publishers serve rate-limited or low quality images.
	Degraded []comic.Publisher
	// AlwaysRefresh publishers rotate cover URLs and should replace the stored one.
	AlwaysRefresh []comic.Publisher
}

// DefaultCoverPolicy returns the built-in publisher lists.
func DefaultCoverPolicy() CoverPolicy {
	return CoverPolicy{
		Degraded: []comic.Publisher{
			comic.PublisherManhuaPlus,
			comic.PublisherReaperScans,
			comic.PublisherManganato,
		},
		AlwaysRefresh: []comic.Publisher{
			comic.PublisherAsura,
			comic.PublisherFlameScans,
			comic.PublisherManganato,
			comic.PublisherRealmScans,
			comic.PublisherDemonicScans,
			comic.PublisherIsekaiScan,
		},
	}
}

func (p CoverPolicy) degraded(pub comic.Publisher) bool {
	return slices.Contains(p.Degraded, pub)
}

// shouldReplace reports whether cover from pub should replace the entry's cover.
func (p CoverPolicy) shouldReplace(entry comic.Entry, cover string, pub comic.Publisher) bool {
	if cover == "" || cover == entry.Cover {
		return false
	}
	if entry.Cover == "" {
		return true
	}
	if !p.degraded(pub) {
		if slices.ContainsFunc(entry.Publishers, p.degraded) {
			return true
		}
		return slices.Contains(p.AlwaysRefresh, pub)
	}
	for _, existing := range entry.Publishers {
		if !p.degraded(existing) {
			return false
		}
	}
	return true
}
