// Package comic defines the domain types shared by the ingestion pipeline.
package comic

import (
	"slices"
	"strings"
	"time"
)

// Type is the medium of a comic.
type Type int

// Known comic types. Values match the integer codes persisted in both stores.
const (
	TypeUnknown Type = iota
	TypeManga
	TypeManhua
	TypeManhwa
	TypeNovel
)

var typeNames = [...]string{"Unknown", "Manga", "Manhua", "Manhwa", "Novel"}

// String returns the display name of the type.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[0]
	}
	return typeNames[t]
}

// Status is the publication status of a comic.
type Status int

// Known statuses.
const (
	StatusUnknown Status = iota
	StatusCompleted
	StatusOnAir
	StatusBreak
	StatusDropped
)

var statusNames = [...]string{"Unknown", "Completed", "OnAir", "Break", "Dropped"}

// String returns the display name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return statusNames[0]
	}
	return statusNames[s]
}

// Genre classifies a comic.
type Genre int

// Known genres.
const (
	GenreUnknown Genre = iota
	GenreAction
	GenreAdventure
	GenreFantasy
	GenreOverpowered
	GenreComedy
	GenreDrama
	GenreSchoolLife
	GenreSystem
	GenreSupernatural
	GenreMartialArts
	GenreRomance
	GenreShounen
	GenreReincarnation
)

// Record is one comic observed on a publisher page. It lives only for a single pass.
type Record struct {
	Title     string
	Chapter   int
	Cover     string
	Type      Type
	Status    Status
	Publisher Publisher
	Author    string
}

// Entry is the canonical catalog representation of a comic.
type Entry struct {
	ID             int64
	Titles         []string
	CurrentChapter int
	ViewedChapter  int
	Cover          string
	LastUpdate     time.Time
	Type           Type
	Status         Status
	Publishers     []Publisher
	Genres         []Genre
	Author         string
	Description    string
	Track          bool
	Rating         int
	Deleted        bool
}

// NewEntry builds an untracked entry from a freshly observed record.
func NewEntry(rec Record, title string, now time.Time) Entry {
	entry := Entry{
		Titles:         []string{title},
		CurrentChapter: rec.Chapter,
		Cover:          rec.Cover,
		LastUpdate:     now,
		Type:           rec.Type,
		Status:         rec.Status,
		Author:         rec.Author,
	}
	if rec.Publisher != PublisherUnknown {
		entry.Publishers = []Publisher{rec.Publisher}
	}
	return entry
}

// Title returns the primary alias.
func (e Entry) Title() string {
	if len(e.Titles) == 0 {
		return ""
	}
	return e.Titles[0]
}

// HasTitle reports whether title equals one of the aliases, ignoring case.
func (e Entry) HasTitle(title string) bool {
	for _, t := range e.Titles {
		if strings.EqualFold(t, title) {
			return true
		}
	}
	return false
}

// HasPublisher reports whether the entry is carried by p.
func (e Entry) HasPublisher(p Publisher) bool {
	return slices.Contains(e.Publishers, p)
}

// AddPublisher appends p when absent and reports whether the set changed.
func (e *Entry) AddPublisher(p Publisher) bool {
	if p == PublisherUnknown || e.HasPublisher(p) {
		return false
	}
	e.Publishers = append(e.Publishers, p)
	return true
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := e
	out.Titles = slices.Clone(e.Titles)
	out.Publishers = slices.Clone(e.Publishers)
	out.Genres = slices.Clone(e.Genres)
	return out
}

// UnionTitles appends the aliases of other missing from base, keeping base order first.
// Aliases equal under case folding collapse into one, spelled by whichever sorts first, so the
// resulting set does not depend on argument order.
func UnionTitles(base, other []string) []string {
	out := make([]string, 0, len(base)+len(other))
	for _, t := range slices.Concat(base, other) {
		i := slices.IndexFunc(out, func(existing string) bool { return strings.EqualFold(existing, t) })
		switch {
		case i < 0:
			out = append(out, t)
		case t < out[i]:
			out[i] = t
		}
	}
	return out
}

// Union returns base followed by the items of other that base lacks.
func Union[T comparable](base, other []T) []T {
	out := slices.Clone(base)
	for _, v := range other {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
