package extract

import (
	"errors"
	"fmt"

	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/comic-tracker/internal/comic"
)

// Selectors describes where a publisher's listing page keeps each field.
// All selectors except Item are evaluated relative to one listing item.
type Selectors struct {
	// Item matches one comic tile on the listing page.
	Item string `mapstructure:"item"`
	// Title matches the element whose text is the comic title.
	Title string `mapstructure:"title"`
	// StripTitle lists substrings removed from the title before normalization.
	StripTitle []string `mapstructure:"strip_title"`
	// Chapter matches the latest-chapter label. Items without it are skipped.
	Chapter string `mapstructure:"chapter"`
	// Cover matches the cover element; CoverAttr names the attribute holding its URL.
	Cover     string `mapstructure:"cover"`
	CoverAttr string `mapstructure:"cover_attr"`
	// Status, Type and Author are optional.
	Status string `mapstructure:"status"`
	Type   string `mapstructure:"type"`
	// TypeAttr reads the type from an attribute of the Type element (first token) instead of its text.
	TypeAttr string `mapstructure:"type_attr"`
	Author   string `mapstructure:"author"`
	// DefaultType and DefaultStatus apply when the page does not say.
	DefaultType   string `mapstructure:"default_type"`
	DefaultStatus string `mapstructure:"default_status"`
}

// Merge returns s with every non-empty field of override applied.
func (s Selectors) Merge(override Selectors) Selectors {
	pick := func(base, over string) string {
		if over != "" {
			return over
		}
		return base
	}
	out := Selectors{
		Item:          pick(s.Item, override.Item),
		Title:         pick(s.Title, override.Title),
		StripTitle:    s.StripTitle,
		Chapter:       pick(s.Chapter, override.Chapter),
		Cover:         pick(s.Cover, override.Cover),
		CoverAttr:     pick(s.CoverAttr, override.CoverAttr),
		Status:        pick(s.Status, override.Status),
		Type:          pick(s.Type, override.Type),
		TypeAttr:      pick(s.TypeAttr, override.TypeAttr),
		Author:        pick(s.Author, override.Author),
		DefaultType:   pick(s.DefaultType, override.DefaultType),
		DefaultStatus: pick(s.DefaultStatus, override.DefaultStatus),
	}
	if len(override.StripTitle) > 0 {
		out.StripTitle = override.StripTitle
	}
	return out
}

// IsZero reports whether no selector is set.
func (s Selectors) IsZero() bool {
	return s.Item == "" && s.Title == "" && s.Chapter == ""
}

// Validate checks the required selectors are present and compile.
func (s Selectors) Validate() error {
	var errs []error
	required := map[string]string{"item": s.Item, "title": s.Title, "chapter": s.Chapter}
	for name, sel := range required {
		if sel == "" {
			errs = append(errs, fmt.Errorf("%s selector is required", name))
		}
	}
	for name, sel := range map[string]string{
		"item": s.Item, "title": s.Title, "chapter": s.Chapter,
		"cover": s.Cover, "status": s.Status, "type": s.Type, "author": s.Author,
	} {
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			errs = append(errs, fmt.Errorf("%s selector %q: %w", name, sel, err))
		}
	}
	return errors.Join(errs...)
}

// DefaultSelectors returns the built-in selectors for publishers with a known layout.
func DefaultSelectors() map[comic.Publisher]Selectors {
	return map[comic.Publisher]Selectors{
		comic.PublisherAsura: {
			Item:          "div.grid.grid-rows-1.grid-cols-12.m-2",
			Title:         "div.col-span-9 > span > a",
			StripTitle:    []string{"..."},
			Chapter:       "div.col-span-9 span a span p",
			Cover:         "img",
			CoverAttr:     "src",
			DefaultType:   "manhwa",
			DefaultStatus: "ongoing",
		},
		comic.PublisherFlameScans: {
			Item:          ".bsx",
			Title:         "div.bigor div.tt",
			Chapter:       "div.bigor div.chapter-list a div div",
			Cover:         "a img",
			CoverAttr:     "src",
			DefaultType:   "manhwa",
			DefaultStatus: "ongoing",
		},
		comic.PublisherRealmScans: {
			Item:          ".uta",
			Title:         "div.luf a h4",
			Chapter:       "div.luf ul li a",
			Cover:         "a img",
			CoverAttr:     "src",
			Status:        "a div span",
			Type:          "div.luf ul",
			TypeAttr:      "class",
			DefaultType:   "manhwa",
			DefaultStatus: "ongoing",
		},
		comic.PublisherManhuaPlus: {
			Item:          "div.page-item-detail",
			Title:         "div.item-summary div.post-title h3 a",
			Chapter:       "div.item-summary div.chapter-item span a",
			Cover:         "a img",
			CoverAttr:     "data-src",
			DefaultType:   "manhua",
			DefaultStatus: "ongoing",
		},
		comic.PublisherDemonicScans: {
			Item:          "div.updates-element.border-box",
			Title:         "h2 a",
			Chapter:       "div.chap-date a",
			Cover:         "img",
			CoverAttr:     "src",
			DefaultType:   "manhwa",
			DefaultStatus: "ongoing",
		},
		comic.PublisherManganato: {
			Item:          "div.content-homepage-item",
			Title:         "div.content-homepage-item-right h3 a",
			Chapter:       "div.content-homepage-item-right p a",
			Cover:         "a img",
			CoverAttr:     "src",
			Author:        "div.content-homepage-item-right span",
			DefaultType:   "manhwa",
			DefaultStatus: "ongoing",
		},
	}
}
