package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/metrics"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Clock supplies timestamps for lastUpdate.
type Clock interface {
	Now() time.Time
}

// Service applies every catalog mutation to both the catalog store and the mirror.
type Service struct {
	store  Store
	mirror *mirror.Store
	clock  Clock
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, mirrorStore *mirror.Store, clock Clock, logger *zap.Logger) *Service {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		mirror: mirrorStore,
		clock:  clock,
		logger: logger.Named("catalog"),
	}
}

// Now returns the service clock truncated to the precision every store keeps.
func (s *Service) Now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

// FindByTitle proxies the catalog lookup used by ingestion.
func (s *Service) FindByTitle(ctx context.Context, title string) ([]comic.Entry, error) {
	entries, err := s.store.FindByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("find by title: %w", err)
	}
	return entries, nil
}

// List returns a page of live entries.
func (s *Service) List(ctx context.Context, offset, limit int) ([]comic.Entry, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	entries, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list comics: %w", err)
	}
	return entries, nil
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id int64) (comic.Entry, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return comic.Entry{}, fmt.Errorf("get comic %d: %w", id, err)
	}
	return entry, nil
}

// SearchByTitle returns live entries whose aliases contain title.
func (s *Service) SearchByTitle(ctx context.Context, title string) ([]comic.Entry, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: empty search title", comic.ErrInvalidEntry)
	}
	found, err := s.store.FindByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("search comics: %w", err)
	}
	out := found[:0]
	for _, e := range found {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create validates and stores a user-supplied entry. The first title must not already exist.
func (s *Service) Create(ctx context.Context, entry comic.Entry) (comic.Entry, error) {
	entry.Titles = cleanTitles(entry.Titles)
	if err := validate(entry); err != nil {
		return comic.Entry{}, err
	}
	existing, err := s.store.FindByTitle(ctx, entry.Title())
	if err != nil {
		return comic.Entry{}, fmt.Errorf("check duplicate title: %w", err)
	}
	for _, e := range existing {
		if e.HasTitle(entry.Title()) {
			return comic.Entry{}, fmt.Errorf("%w: title %q already exists as comic %d", comic.ErrInvalidEntry, entry.Title(), e.ID)
		}
	}
	entry.ID = 0
	if entry.LastUpdate.IsZero() {
		entry.LastUpdate = s.Now()
	}
	if err := s.Insert(ctx, &entry); err != nil {
		return comic.Entry{}, err
	}
	return entry, nil
}

// Insert adds a new entry to the catalog and immediately to the mirror.
func (s *Service) Insert(ctx context.Context, entry *comic.Entry) error {
	if err := s.store.Insert(ctx, entry); err != nil {
		metrics.ObserveStoreCommit("insert", "error")
		return fmt.Errorf("%w: insert comic %q: %v", comic.ErrStoreCommit, entry.Title(), err)
	}
	metrics.ObserveStoreCommit("insert", "ok")
	s.mirrorUpsert(ctx, *entry)
	return nil
}

// Commit re-reads entry id inside a transaction, lets mutate change it and writes it back
// when mutate reports a change. Edits committed after the caller's own read are therefore
// never overwritten. A failed commit leaves the mirror untouched.
func (s *Service) Commit(ctx context.Context, id int64, mutate func(*comic.Entry) bool) (comic.Entry, bool, error) {
	var (
		updated comic.Entry
		changed bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		updated = current.Clone()
		if changed = mutate(&updated); !changed {
			return nil
		}
		return tx.Update(ctx, updated)
	})
	if err != nil {
		metrics.ObserveStoreCommit("update", "error")
		return comic.Entry{}, false, fmt.Errorf("%w: update comic %d: %w", comic.ErrStoreCommit, id, err)
	}
	if !changed {
		return updated, false, nil
	}
	metrics.ObserveStoreCommit("update", "ok")
	s.mirrorUpsert(ctx, updated)
	return updated, true, nil
}

// Patch lists the fields UpdateFields may change. Nil fields are left alone.
type Patch struct {
	Titles         *[]string          `json:"titles,omitempty"`
	CurrentChapter *int               `json:"current_chap,omitempty"`
	ViewedChapter  *int               `json:"viewed_chap,omitempty"`
	Cover          *string            `json:"cover,omitempty"`
	Type           *comic.Type        `json:"com_type,omitempty"`
	Status         *comic.Status      `json:"status,omitempty"`
	Publishers     *[]comic.Publisher `json:"published_in,omitempty"`
	Genres         *[]comic.Genre     `json:"genres,omitempty"`
	Author         *string            `json:"author,omitempty"`
	Description    *string            `json:"description,omitempty"`
	Track          *bool              `json:"track,omitempty"`
	Rating         *int               `json:"rating,omitempty"`
	Deleted        *bool              `json:"deleted,omitempty"`
}

// UpdateFields applies a partial update.
func (s *Service) UpdateFields(ctx context.Context, id int64, patch Patch) (comic.Entry, error) {
	var updated comic.Entry
	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		next, err := applyPatch(current, patch)
		if err != nil {
			return err
		}
		if next.CurrentChapter > current.CurrentChapter {
			next.LastUpdate = s.Now()
		}
		if err := tx.Update(ctx, next); err != nil {
			return fmt.Errorf("%w: %v", comic.ErrStoreCommit, err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return comic.Entry{}, fmt.Errorf("update comic %d: %w", id, err)
	}
	s.mirrorUpsert(ctx, updated)
	return updated, nil
}

// Delete soft-deletes the entry, or removes it from both stores when hard is set.
func (s *Service) Delete(ctx context.Context, id int64, hard bool) error {
	if !hard {
		deleted := true
		_, err := s.UpdateFields(ctx, id, Patch{Deleted: &deleted})
		return err
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete comic %d: %w", id, err)
	}
	if err := s.mirror.Remove(ctx, id); err != nil {
		s.logger.Warn("mirror remove failed", zap.Int64("comic_id", id), zap.Error(err))
	}
	return nil
}

// Merge folds other into base and removes other from both stores.
func (s *Service) Merge(ctx context.Context, baseID, otherID int64) (comic.Entry, error) {
	if baseID == otherID {
		return comic.Entry{}, fmt.Errorf("%w: cannot merge comic %d into itself", comic.ErrInvalidEntry, baseID)
	}
	var merged comic.Entry
	err := s.store.InTx(ctx, func(tx Tx) error {
		base, other, err := getPair(ctx, tx, baseID, otherID)
		if err != nil {
			return err
		}
		merged, err = MergeEntries(base, other)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, merged); err != nil {
			return fmt.Errorf("%w: %v", comic.ErrStoreCommit, err)
		}
		if err := tx.Delete(ctx, otherID); err != nil {
			return fmt.Errorf("%w: %v", comic.ErrStoreCommit, err)
		}
		return nil
	})
	if err != nil {
		return comic.Entry{}, fmt.Errorf("merge comic %d into %d: %w", otherID, baseID, err)
	}
	s.mirrorUpsert(ctx, merged)
	if err := s.mirror.Remove(ctx, otherID); err != nil {
		s.logger.Warn("mirror remove failed", zap.Int64("comic_id", otherID), zap.Error(err))
	}
	s.logger.Info("comics merged", zap.Int64("base_id", baseID), zap.Int64("other_id", otherID))
	return merged, nil
}

// getPair reads both merge sides in ascending id order so concurrent merges lock rows consistently.
func getPair(ctx context.Context, tx Tx, baseID, otherID int64) (base, other comic.Entry, err error) {
	read := func(id int64, side string) (comic.Entry, error) {
		e, err := tx.Get(ctx, id)
		if err != nil {
			return comic.Entry{}, fmt.Errorf("%s: %w", side, err)
		}
		return e, nil
	}
	if baseID < otherID {
		if base, err = read(baseID, "base"); err != nil {
			return
		}
		other, err = read(otherID, "other")
		return
	}
	if other, err = read(otherID, "other"); err != nil {
		return
	}
	base, err = read(baseID, "base")
	return
}

// RepairMirror rebuilds the mirror from the catalog.
func (s *Service) RepairMirror(ctx context.Context) (mirror.RepairReport, error) {
	entries, err := s.store.All(ctx)
	if err != nil {
		return mirror.RepairReport{}, fmt.Errorf("read catalog: %w", err)
	}
	report, err := s.mirror.Sync(ctx, entries)
	if err != nil {
		return report, fmt.Errorf("sync mirror: %w", err)
	}
	metrics.ObserveMirrorRepair(len(report.Upserted), len(report.Removed))
	if len(report.Upserted) > 0 || len(report.Removed) > 0 {
		s.logger.Info("mirror repaired",
			zap.Int("upserted", len(report.Upserted)),
			zap.Int("removed", len(report.Removed)),
		)
	}
	return report, nil
}

// Ping checks the catalog backend.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping catalog: %w", err)
	}
	return nil
}

func (s *Service) mirrorUpsert(ctx context.Context, entry comic.Entry) {
	if err := s.mirror.Upsert(ctx, entry); err != nil {
		s.logger.Warn("mirror upsert failed; will be repaired on next sync",
			zap.Int64("comic_id", entry.ID),
			zap.Error(err),
		)
	}
}

// MergeEntries combines two entries. Types must match unless either is Unknown.
func MergeEntries(base, other comic.Entry) (comic.Entry, error) {
	if base.Type != other.Type && base.Type != comic.TypeUnknown && other.Type != comic.TypeUnknown {
		return comic.Entry{}, fmt.Errorf("%w: %s vs %s", comic.ErrTypeConflict, base.Type, other.Type)
	}
	out := base.Clone()
	out.Titles = comic.UnionTitles(base.Titles, other.Titles)
	out.Publishers = comic.Union(base.Publishers, other.Publishers)
	out.Genres = comic.Union(base.Genres, other.Genres)
	out.CurrentChapter = max(base.CurrentChapter, other.CurrentChapter)
	out.ViewedChapter = max(base.ViewedChapter, other.ViewedChapter)
	out.Track = base.Track || other.Track
	if out.Type == comic.TypeUnknown {
		out.Type = other.Type
	}
	if out.Status == comic.StatusUnknown {
		out.Status = other.Status
	}
	if out.Rating == 0 {
		out.Rating = other.Rating
	}
	if out.Author == "" {
		out.Author = other.Author
	}
	if out.Description == "" {
		out.Description = other.Description
	}
	if out.Cover == "" {
		out.Cover = other.Cover
	}
	if other.LastUpdate.After(out.LastUpdate) {
		out.LastUpdate = other.LastUpdate
	}
	return out, nil
}

func applyPatch(e comic.Entry, p Patch) (comic.Entry, error) {
	out := e.Clone()
	if p.Titles != nil {
		out.Titles = cleanTitles(*p.Titles)
	}
	if p.CurrentChapter != nil {
		if *p.CurrentChapter < e.CurrentChapter {
			return comic.Entry{}, fmt.Errorf("%w: current chapter cannot go from %d to %d",
				comic.ErrInvalidEntry, e.CurrentChapter, *p.CurrentChapter)
		}
		out.CurrentChapter = *p.CurrentChapter
	}
	if p.ViewedChapter != nil {
		out.ViewedChapter = *p.ViewedChapter
	}
	if p.Cover != nil {
		out.Cover = *p.Cover
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Publishers != nil {
		out.Publishers = comic.Union(nil, *p.Publishers)
	}
	if p.Genres != nil {
		out.Genres = comic.Union(nil, *p.Genres)
	}
	if p.Author != nil {
		out.Author = *p.Author
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Track != nil {
		out.Track = *p.Track
	}
	if p.Rating != nil {
		out.Rating = *p.Rating
	}
	if p.Deleted != nil {
		out.Deleted = *p.Deleted
	}
	if err := validate(out); err != nil {
		return comic.Entry{}, err
	}
	return out, nil
}

func validate(e comic.Entry) error {
	var errs []error
	if len(e.Titles) == 0 {
		errs = append(errs, errors.New("at least one title is required"))
	}
	if e.CurrentChapter < 0 || e.ViewedChapter < 0 {
		errs = append(errs, errors.New("chapters must not be negative"))
	}
	if e.Type < comic.TypeUnknown || e.Type > comic.TypeNovel {
		errs = append(errs, fmt.Errorf("unknown comic type %d", e.Type))
	}
	if e.Status < comic.StatusUnknown || e.Status > comic.StatusDropped {
		errs = append(errs, fmt.Errorf("unknown status %d", e.Status))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", comic.ErrInvalidEntry, errors.Join(errs...))
	}
	return nil
}

func cleanTitles(titles []string) []string {
	var out []string
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t != "" {
			out = comic.UnionTitles(out, []string{t})
		}
	}
	return out
}
