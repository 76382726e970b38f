// Package extract turns fetched publisher listing pages into canonical records.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
)

// Skip records why one listing item produced no record.
type Skip struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Report summarizes one extraction.
type Report struct {
	Succeeded int    `json:"succeeded"`
	Skipped   []Skip `json:"skipped,omitempty"`
	// Pending is set by extractors that have no implementation for the publisher.
	Pending string `json:"pending,omitempty"`
}

// Extractor converts a listing page into records. It never fails as a whole:
// a broken item is skipped and reported while the rest are kept.
type Extractor interface {
	Publisher() comic.Publisher
	Extract(pageURL string, body []byte) ([]comic.Record, Report)
}

// HTML extracts records from an HTML listing with CSS selectors.
type HTML struct {
	publisher comic.Publisher
	sel       Selectors
	logger    *zap.Logger
}

// NewHTML builds an HTML extractor for publisher.
func NewHTML(publisher comic.Publisher, sel Selectors, logger *zap.Logger) (*HTML, error) {
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("selectors for %s: %w", publisher, err)
	}
	if sel.CoverAttr == "" {
		sel.CoverAttr = "src"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTML{
		publisher: publisher,
		sel:       sel,
		logger:    logger.With(zap.String("publisher", publisher.String())),
	}, nil
}

// Publisher implements Extractor.
func (h *HTML) Publisher() comic.Publisher {
	return h.publisher
}

// ItemSelector returns the selector matching one listing item.
func (h *HTML) ItemSelector() string {
	return h.sel.Item
}

// itemResult is the outcome of one listing item: a record or a skip.
type itemResult struct {
	record comic.Record
	skip   *Skip
}

// Extract implements Extractor.
func (h *HTML) Extract(pageURL string, body []byte) ([]comic.Record, Report) {
	var report Report
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, report
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		h.logger.Warn("parse listing page", zap.String("url", pageURL), zap.Error(err))
		return nil, report
	}

	items := doc.Find(h.sel.Item)
	if items.Length() == 0 {
		h.logger.Warn("no comics found on page", zap.String("url", pageURL))
		return nil, report
	}

	var records []comic.Record
	items.Each(func(_ int, item *goquery.Selection) {
		res := h.extractItem(pageURL, item)
		if res.skip != nil {
			report.Skipped = append(report.Skipped, *res.skip)
			return
		}
		records = append(records, res.record)
		report.Succeeded++
	})
	return records, report
}

func (h *HTML) extractItem(pageURL string, item *goquery.Selection) itemResult {
	rawTitle := strings.TrimSpace(item.Find(h.sel.Title).First().Text())
	for _, s := range h.sel.StripTitle {
		rawTitle = strings.ReplaceAll(rawTitle, s, "")
	}
	title := comic.NormalizeTitle(rawTitle)
	if title == "" {
		return itemResult{skip: &Skip{Title: "Unknown", Reason: "missing title"}}
	}

	chapterNode := item.Find(h.sel.Chapter).First()
	if chapterNode.Length() == 0 {
		h.logger.Debug("skipping recommended comic", zap.String("title", title))
		return itemResult{skip: &Skip{Title: title, Reason: "no chapter element"}}
	}
	chapter, err := comic.ParseChapter(chapterNode.Text())
	if err != nil {
		h.logger.Warn("failed to extract comic", zap.String("title", title), zap.Error(err))
		return itemResult{skip: &Skip{Title: title, Reason: err.Error()}}
	}

	rec := comic.Record{
		Title:     title,
		Chapter:   chapter,
		Type:      comic.ParseType(h.sel.DefaultType),
		Status:    comic.ParseStatus(h.sel.DefaultStatus),
		Publisher: h.publisher,
	}

	if h.sel.Cover != "" {
		raw, _ := item.Find(h.sel.Cover).First().Attr(h.sel.CoverAttr)
		if cover, ok := comic.NormalizeCover(raw, pageURL); ok {
			rec.Cover = cover
		} else {
			h.logger.Warn("invalid cover", zap.String("title", title), zap.String("cover", raw))
		}
	}
	if h.sel.Status != "" {
		if st := comic.ParseStatus(item.Find(h.sel.Status).First().Text()); st != comic.StatusUnknown {
			rec.Status = st
		}
	}
	if h.sel.Type != "" {
		if t := comic.ParseType(h.typeLabel(item)); t != comic.TypeUnknown {
			rec.Type = t
		}
	}
	if h.sel.Author != "" {
		rec.Author = strings.TrimSpace(item.Find(h.sel.Author).First().Text())
	}
	return itemResult{record: rec}
}

func (h *HTML) typeLabel(item *goquery.Selection) string {
	node := item.Find(h.sel.Type).First()
	if h.sel.TypeAttr == "" {
		return node.Text()
	}
	value, _ := node.Attr(h.sel.TypeAttr)
	if fields := strings.Fields(value); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// Noop stands in for publishers without a working extractor.
type Noop struct {
	publisher comic.Publisher
	reason    string
}

// Noop reasons.
const (
	ReasonPending    = "pending"
	ReasonSiteClosed = "site closed"
)

// NewNoop returns a Noop extractor for publisher.
func NewNoop(publisher comic.Publisher, reason string) *Noop {
	return &Noop{publisher: publisher, reason: reason}
}

// Publisher implements Extractor.
func (n *Noop) Publisher() comic.Publisher {
	return n.publisher
}

// Extract returns nothing.
func (n *Noop) Extract(string, []byte) ([]comic.Record, Report) {
	return nil, Report{Pending: n.reason}
}
