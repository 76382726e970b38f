package mirror

import (
	"slices"
	"time"

	"github.com/JakeFAU/comic-tracker/internal/comic"
)

// Entry is the snapshot form of a catalog entry.
type Entry struct {
	ID             int64             `json:"id"`
	Titles         []string          `json:"titles"`
	CurrentChapter int               `json:"current_chap"`
	ViewedChapter  int               `json:"viewed_chap"`
	Cover          string            `json:"cover"`
	LastUpdate     time.Time         `json:"last_update"`
	Type           comic.Type        `json:"com_type"`
	Status         comic.Status      `json:"status"`
	Publishers     []comic.Publisher `json:"published_in"`
	Genres         []comic.Genre     `json:"genres"`
	Author         string            `json:"author"`
	Description    string            `json:"description"`
	Track          bool              `json:"track"`
	Rating         int               `json:"rating"`
	Deleted        bool              `json:"deleted"`
}

// Project maps a catalog entry to its snapshot form. Timestamps are kept at
// second precision in UTC so that every catalog backend projects identically.
func Project(e comic.Entry) Entry {
	return Entry{
		ID:             e.ID,
		Titles:         nonNil(e.Titles),
		CurrentChapter: e.CurrentChapter,
		ViewedChapter:  e.ViewedChapter,
		Cover:          e.Cover,
		LastUpdate:     e.LastUpdate.UTC().Truncate(time.Second),
		Type:           e.Type,
		Status:         e.Status,
		Publishers:     nonNil(e.Publishers),
		Genres:         nonNil(e.Genres),
		Author:         e.Author,
		Description:    e.Description,
		Track:          e.Track,
		Rating:         e.Rating,
		Deleted:        e.Deleted,
	}
}

// Equal reports whether two snapshot entries carry the same values.
func (e Entry) Equal(other Entry) bool {
	return e.ID == other.ID &&
		slices.Equal(e.Titles, other.Titles) &&
		e.CurrentChapter == other.CurrentChapter &&
		e.ViewedChapter == other.ViewedChapter &&
		e.Cover == other.Cover &&
		e.LastUpdate.Equal(other.LastUpdate) &&
		e.Type == other.Type &&
		e.Status == other.Status &&
		slices.Equal(e.Publishers, other.Publishers) &&
		slices.Equal(e.Genres, other.Genres) &&
		e.Author == other.Author &&
		e.Description == other.Description &&
		e.Track == other.Track &&
		e.Rating == other.Rating &&
		e.Deleted == other.Deleted
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return slices.Clone(in)
}
