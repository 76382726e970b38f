// Package reconcile matches extracted records against the catalog and applies updates.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/metrics"
)

const (
	// DefaultReadAheadWindow is how far past the reader's position a new chapter may be and still alert.
	DefaultReadAheadWindow = 4
	novelSuffix            = " - novel"
)

// Catalog is the subset of catalog.Service the reconciler needs.
type Catalog interface {
	FindByTitle(ctx context.Context, title string) ([]comic.Entry, error)
	Insert(ctx context.Context, entry *comic.Entry) error
	Commit(ctx context.Context, id int64, mutate func(*comic.Entry) bool) (comic.Entry, bool, error)
	Now() time.Time
}

// Alerter receives chapter releases for tracked comics.
type Alerter interface {
	Add(ctx context.Context, title string, chapter int, publishers []comic.Publisher)
}

// Config tunes reconciliation.
type Config struct {
	ReadAheadWindow int
	Fields          FieldPolicy
	Covers          CoverPolicy
}

// DefaultConfig returns the built-in window and policies.
func DefaultConfig() Config {
	return Config{
		ReadAheadWindow: DefaultReadAheadWindow,
		Fields:          DefaultFieldPolicy(),
		Covers:          DefaultCoverPolicy(),
	}
}

// Outcome describes what reconciling one record did.
type Outcome string

// Reconciliation outcomes.
const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeFailed    Outcome = "failed"
)

// Result reports the entry touched by a record.
type Result struct {
	Outcome Outcome
	EntryID int64
	Alerted bool
}

// Reconciler applies records to the catalog one at a time.
type Reconciler struct {
	mu      sync.Mutex
	catalog Catalog
	alerts  Alerter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Reconciler. A nil alerter disables alerts.
func New(catalog Catalog, alerts Alerter, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.ReadAheadWindow <= 0 {
		cfg.ReadAheadWindow = DefaultReadAheadWindow
	}
	if cfg.Fields == (FieldPolicy{}) {
		cfg.Fields = DefaultFieldPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Reconciler{
		catalog: catalog,
		alerts:  alerts,
		cfg:     cfg,
		logger:  logger,
	}
}

// release is a tracked chapter waiting to be handed to the Alerter.
type release struct {
	title      string
	chapter    int
	publishers []comic.Publisher
}

// Reconcile matches rec against the catalog and creates or updates the entry it belongs to.
// Calls are serialized so concurrent sources reporting the same new title create one entry.
// Alerts are queued after the lock is released.
func (r *Reconciler) Reconcile(ctx context.Context, rec comic.Record) (Result, error) {
	r.mu.Lock()
	res, rel, err := r.reconcile(ctx, rec)
	r.mu.Unlock()

	metrics.ObserveRecord(string(res.Outcome))
	if rel != nil && r.alerts != nil {
		r.alerts.Add(ctx, rel.title, rel.chapter, rel.publishers)
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, rec comic.Record) (Result, *release, error) {
	logger := r.logger.With(
		zap.String("title", rec.Title),
		zap.Stringer("publisher", rec.Publisher),
		zap.Int("chapter", rec.Chapter),
	)
	candidates, err := r.catalog.FindByTitle(ctx, rec.Title)
	if err != nil {
		logger.Error("catalog lookup failed", zap.Error(err))
		return Result{Outcome: OutcomeFailed}, nil, fmt.Errorf("find comic %q: %w", rec.Title, err)
	}
	match, title, err := disambiguate(candidates, rec)
	if err != nil {
		logger.Error("record dropped", zap.Int("candidates", len(candidates)), zap.Error(err))
		return Result{Outcome: OutcomeAmbiguous}, nil, err
	}
	if match == nil {
		res, err := r.create(ctx, rec, title, logger)
		return res, nil, err
	}
	return r.update(ctx, match.ID, rec, logger)
}

func (r *Reconciler) create(ctx context.Context, rec comic.Record, title string, logger *zap.Logger) (Result, error) {
	entry := comic.NewEntry(rec, title, r.catalog.Now())
	if err := r.catalog.Insert(ctx, &entry); err != nil {
		logger.Error("insert failed", zap.Error(err))
		return Result{Outcome: OutcomeFailed}, err
	}
	logger.Info("comic created", zap.Int64("comic_id", entry.ID), zap.String("entry_title", title))
	return Result{Outcome: OutcomeCreated, EntryID: entry.ID}, nil
}

// update applies rec to the entry as it stands inside the commit transaction.
func (r *Reconciler) update(ctx context.Context, id int64, rec comic.Record, logger *zap.Logger) (Result, *release, error) {
	logger = logger.With(zap.Int64("comic_id", id))
	now := r.catalog.Now()
	var alerted bool
	entry, changed, err := r.catalog.Commit(ctx, id, func(e *comic.Entry) bool {
		var changed bool
		changed, alerted = r.applyRecord(e, rec, now)
		return changed
	})
	if err != nil {
		logger.Error("commit failed", zap.Error(err))
		return Result{Outcome: OutcomeFailed, EntryID: id}, nil, err
	}
	if !changed {
		return Result{Outcome: OutcomeUnchanged, EntryID: id}, nil, nil
	}
	res := Result{Outcome: OutcomeUpdated, EntryID: id, Alerted: alerted}
	if !alerted {
		return res, nil, nil
	}
	logger.Info("tracked comic released a chapter", zap.Int("viewed", entry.ViewedChapter))
	return res, &release{title: entry.Title(), chapter: entry.CurrentChapter, publishers: entry.Publishers}, nil
}

// applyRecord merges rec into entry and reports whether anything changed and whether the new chapter
// is close enough to the reader's position to alert.
func (r *Reconciler) applyRecord(entry *comic.Entry, rec comic.Record, now time.Time) (changed, alerted bool) {
	changed = entry.AddPublisher(rec.Publisher)
	if rec.Chapter > entry.CurrentChapter {
		entry.CurrentChapter = rec.Chapter
		entry.LastUpdate = now
		changed = true
		alerted = entry.Track && entry.ViewedChapter > rec.Chapter-r.cfg.ReadAheadWindow
	}

	var fieldChanged bool
	entry.Author, fieldChanged = apply(r.cfg.Fields.Author, entry.Author, rec.Author)
	changed = changed || fieldChanged
	entry.Type, fieldChanged = apply(r.cfg.Fields.Type, entry.Type, rec.Type)
	changed = changed || fieldChanged
	entry.Status, fieldChanged = apply(r.cfg.Fields.Status, entry.Status, rec.Status)
	changed = changed || fieldChanged

	if r.cfg.Covers.shouldReplace(*entry, rec.Cover, rec.Publisher) {
		entry.Cover = rec.Cover
		changed = true
	}
	return changed, alerted
}

// disambiguate picks the catalog entry rec belongs to. A nil entry means rec is a new comic,
// in which case the returned title is the one to create it under.
func disambiguate(candidates []comic.Entry, rec comic.Record) (*comic.Entry, string, error) {
	title := rec.Title
	switch len(candidates) {
	case 0:
		return nil, title, nil
	case 1:
		c := &candidates[0]
		if c.HasTitle(title) {
			return c, title, nil
		}
		if rec.Type == comic.TypeNovel && c.Type != comic.TypeNovel {
			title += novelSuffix
		}
		for _, alias := range c.Titles {
			if comic.ContainsFold(alias, title) && !comic.ContainsFold(alias, strings.TrimSpace(novelSuffix)) {
				return c, title, nil
			}
		}
		return nil, title, nil
	case 2:
		a, b := &candidates[0], &candidates[1]
		switch {
		case a.Type == rec.Type && b.Type != rec.Type:
			return a, title, nil
		case b.Type == rec.Type && a.Type != rec.Type:
			return b, title, nil
		case a.HasTitle(title):
			return a, title, nil
		case b.HasTitle(title):
			return b, title, nil
		}
		return nil, title, nil
	default:
		return nil, title, fmt.Errorf("%w: %d entries match %q", comic.ErrAmbiguousMatch, len(candidates), title)
	}
}
