package comic

import "errors"

var (
	// ErrTransientFetch marks a page that could not be retrieved this pass.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrExtraction marks a malformed item on a fetched page.
	ErrExtraction = errors.New("extraction failed")
	// ErrAmbiguousMatch is returned when a title matches more than two catalog entries.
	ErrAmbiguousMatch = errors.New("ambiguous catalog match")
	// ErrTypeConflict is returned when merging entries of different known types.
	ErrTypeConflict = errors.New("comic type conflict")
	// ErrNotFound is returned when a catalog entry does not exist.
	ErrNotFound = errors.New("comic not found")
	// ErrStoreCommit wraps a failed catalog write.
	ErrStoreCommit = errors.New("store commit failed")
	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("invalid comic entry")
)
