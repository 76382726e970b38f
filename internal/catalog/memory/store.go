// Package memory provides an in-process catalog store for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/JakeFAU/comic-tracker/internal/catalog"
	"github.com/JakeFAU/comic-tracker/internal/comic"
)

var _ catalog.Store = (*Store)(nil)

// Store keeps entries in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	entries map[int64]comic.Entry
	nextID  int64
	failOn  map[string]error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entries: make(map[int64]comic.Entry),
		nextID:  1,
		failOn:  make(map[string]error),
	}
}

// FailOn makes the named operation ("insert", "update", "delete") return err. Nil clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

// Get implements catalog.Reader.
func (s *Store) Get(ctx context.Context, id int64) (comic.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s}.Get(ctx, id)
}

// FindByTitle implements catalog.Reader.
func (s *Store) FindByTitle(ctx context.Context, title string) ([]comic.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s}.FindByTitle(ctx, title)
}

// List implements catalog.Reader.
func (s *Store) List(ctx context.Context, offset, limit int) ([]comic.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s}.List(ctx, offset, limit)
}

// All implements catalog.Reader.
func (s *Store) All(ctx context.Context) ([]comic.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s}.All(ctx)
}

// Insert implements catalog.Writer.
func (s *Store) Insert(ctx context.Context, entry *comic.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s}.Insert(ctx, entry)
}

// Update implements catalog.Writer.
func (s *Store) Update(ctx context.Context, entry comic.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s}.Update(ctx, entry)
}

// Delete implements catalog.Writer.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s}.Delete(ctx, id)
}

// InTx runs fn under the store lock and restores the previous state if it fails.
func (s *Store) InTx(_ context.Context, fn func(catalog.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := maps.Clone(s.entries)
	nextID := s.nextID
	if err := fn(view{s}); err != nil {
		s.entries = snapshot
		s.nextID = nextID
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// view operates on the maps without locking; callers hold mu.
type view struct {
	s *Store
}

func (v view) Get(_ context.Context, id int64) (comic.Entry, error) {
	e, ok := v.s.entries[id]
	if !ok {
		return comic.Entry{}, fmt.Errorf("comic %d: %w", id, comic.ErrNotFound)
	}
	return e.Clone(), nil
}

func (v view) FindByTitle(_ context.Context, title string) ([]comic.Entry, error) {
	var out []comic.Entry
	for _, e := range v.sorted() {
		for _, t := range e.Titles {
			if comic.ContainsFold(t, title) {
				out = append(out, e.Clone())
				break
			}
		}
	}
	return out, nil
}

func (v view) List(_ context.Context, offset, limit int) ([]comic.Entry, error) {
	var live []comic.Entry
	for _, e := range v.sorted() {
		if !e.Deleted {
			live = append(live, e)
		}
	}
	if offset >= len(live) {
		return nil, nil
	}
	end := min(offset+limit, len(live))
	out := make([]comic.Entry, 0, end-offset)
	for _, e := range live[offset:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (v view) All(_ context.Context) ([]comic.Entry, error) {
	sorted := v.sorted()
	out := make([]comic.Entry, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (v view) Insert(_ context.Context, entry *comic.Entry) error {
	if err := v.s.failOn["insert"]; err != nil {
		return err
	}
	entry.ID = v.s.nextID
	v.s.nextID++
	v.s.entries[entry.ID] = entry.Clone()
	return nil
}

func (v view) Update(_ context.Context, entry comic.Entry) error {
	if err := v.s.failOn["update"]; err != nil {
		return err
	}
	if _, ok := v.s.entries[entry.ID]; !ok {
		return fmt.Errorf("comic %d: %w", entry.ID, comic.ErrNotFound)
	}
	v.s.entries[entry.ID] = entry.Clone()
	return nil
}

func (v view) Delete(_ context.Context, id int64) error {
	if err := v.s.failOn["delete"]; err != nil {
		return err
	}
	if _, ok := v.s.entries[id]; !ok {
		return fmt.Errorf("comic %d: %w", id, comic.ErrNotFound)
	}
	delete(v.s.entries, id)
	return nil
}

func (v view) sorted() []comic.Entry {
	out := slices.Collect(maps.Values(v.s.entries))
	slices.SortFunc(out, func(a, b comic.Entry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
