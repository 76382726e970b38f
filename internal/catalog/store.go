// Package catalog owns the authoritative comic catalog and keeps the mirror snapshot in step with it.
package catalog

import (
	"context"

	"github.com/JakeFAU/comic-tracker/internal/comic"
)

// Reader exposes catalog queries.
type Reader interface {
	// Get returns the entry with id, including soft-deleted ones.
	Get(ctx context.Context, id int64) (comic.Entry, error)
	// FindByTitle returns entries with an alias containing title, ignoring case.
	// Soft-deleted entries are included so they are never duplicated by ingestion.
	FindByTitle(ctx context.Context, title string) ([]comic.Entry, error)
	// List returns live entries ordered by id.
	List(ctx context.Context, offset, limit int) ([]comic.Entry, error)
	// All returns every entry ordered by id.
	All(ctx context.Context) ([]comic.Entry, error)
}

// Writer exposes catalog mutations.
type Writer interface {
	// Insert stores a new entry and assigns its id.
	Insert(ctx context.Context, entry *comic.Entry) error
	// Update replaces every mutable field of an existing entry.
	Update(ctx context.Context, entry comic.Entry) error
	// Delete removes the entry permanently.
	Delete(ctx context.Context, id int64) error
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	Reader
	Writer
}

// Store is a catalog backend.
type Store interface {
	Tx
	// InTx runs fn atomically. Any error returned by fn rolls every write back.
	InTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
