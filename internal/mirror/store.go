// Package mirror keeps the denormalized JSON snapshot of the catalog.
//
// The snapshot is a single object holding every entry sorted by id. It is
// rewritten in full on each save and has exactly one in-process writer.
package mirror

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/storage"
)

// DefaultObject is the snapshot object name.
const DefaultObject = "comics.json"

const contentType = "application/json"

// RepairReport lists the ids touched by Sync.
type RepairReport struct {
	Upserted []int64 `json:"upserted"`
	Removed  []int64 `json:"removed"`
	Saved    bool    `json:"saved"`
}

// Store holds the snapshot in memory and persists it through a BlobStore.
type Store struct {
	mu      sync.Mutex
	blobs   storage.BlobStore
	object  string
	entries map[int64]Entry
	dirty   bool
	logger  *zap.Logger
}

// New creates an empty Store. Call Load to read an existing snapshot.
func New(blobs storage.BlobStore, object string, logger *zap.Logger) *Store {
	if object == "" {
		object = DefaultObject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		blobs:   blobs,
		object:  object,
		entries: make(map[int64]Entry),
		logger:  logger,
	}
}

// Load replaces the in-memory snapshot with the persisted one. A missing object is an empty snapshot.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, err := s.blobs.GetObject(ctx, s.object)
	if errors.Is(err, storage.ErrObjectNotFound) {
		s.entries = make(map[int64]Entry)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open mirror snapshot: %w", err)
	}
	defer rc.Close() //nolint:errcheck // read-only

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read mirror snapshot: %w", err)
	}
	var list []Entry
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode mirror snapshot: %w", err)
		}
	}
	entries := make(map[int64]Entry, len(list))
	for _, e := range list {
		entries[e.ID] = e
	}
	s.entries = entries
	s.logger.Debug("mirror loaded", zap.Int("entries", len(entries)))
	return nil
}

// Upsert projects and stores the given catalog entries, then saves the snapshot.
func (s *Store) Upsert(ctx context.Context, entries ...comic.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = Project(e)
	}
	return s.save(ctx)
}

// Remove drops the given ids and saves the snapshot.
func (s *Store) Remove(ctx context.Context, ids ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return s.save(ctx)
}

// Get returns the snapshot entry for id.
func (s *Store) Get(id int64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns every snapshot entry sorted by id.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted()
}

// Sync makes the snapshot match catalog exactly: divergent or missing entries
// are rewritten and orphans are dropped. The snapshot is saved when anything
// changed or a previous save failed.
func (s *Store) Sync(ctx context.Context, catalog []comic.Entry) (RepairReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report RepairReport
	seen := make(map[int64]struct{}, len(catalog))
	for _, ce := range catalog {
		seen[ce.ID] = struct{}{}
		want := Project(ce)
		if have, ok := s.entries[ce.ID]; ok && have.Equal(want) {
			continue
		}
		s.entries[ce.ID] = want
		report.Upserted = append(report.Upserted, ce.ID)
	}
	for id := range s.entries {
		if _, ok := seen[id]; !ok {
			delete(s.entries, id)
			report.Removed = append(report.Removed, id)
		}
	}
	slices.Sort(report.Upserted)
	slices.Sort(report.Removed)

	if len(report.Upserted) == 0 && len(report.Removed) == 0 && !s.dirty {
		return report, nil
	}
	if err := s.save(ctx); err != nil {
		return report, err
	}
	report.Saved = true
	return report, nil
}

func (s *Store) sorted() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// save must be called with mu held.
func (s *Store) save(ctx context.Context) error {
	data, err := json.MarshalIndent(s.sorted(), "", "  ")
	if err != nil {
		s.dirty = true
		return fmt.Errorf("encode mirror snapshot: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, s.object, contentType, bytes.NewReader(data)); err != nil {
		s.dirty = true
		return fmt.Errorf("write mirror snapshot: %w", err)
	}
	s.dirty = false
	return nil
}
