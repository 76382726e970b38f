// Package dispatcher runs one scrape pass: every configured publisher URL is fetched,
// extracted and reconciled concurrently.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/extract"
	"github.com/JakeFAU/comic-tracker/internal/fetcher"
	"github.com/JakeFAU/comic-tracker/internal/metrics"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
	"github.com/JakeFAU/comic-tracker/internal/reconcile"
)

// ErrPassInProgress is returned when a pass is requested while another one runs.
var ErrPassInProgress = errors.New("scrape pass already in progress")

// Source outcomes recorded in a SourceReport.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomePending = "pending"
)

// Target is one listing page to scrape.
type Target struct {
	Publisher comic.Publisher
	URL       string
	Headless  bool
}

// Fetcher retrieves a page. It reports failures as an empty document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetcher.Document
}

// Extractors resolves the extractor of a publisher.
type Extractors interface {
	For(p comic.Publisher) extract.Extractor
}

// Reconciler applies one record to the catalog.
type Reconciler interface {
	Reconcile(ctx context.Context, rec comic.Record) (reconcile.Result, error)
}

// Promoter decides whether a plain fetch that yielded nothing should be retried headless.
// itemSelector is the listing item selector of the publisher, empty when unknown.
type Promoter interface {
	ShouldPromote(doc fetcher.Document, itemSelector string) bool
}

// itemSelectorer is implemented by extractors driven by CSS selectors.
type itemSelectorer interface {
	ItemSelector() string
}

// AlertFlusher sends pending alerts.
type AlertFlusher interface {
	Flush(ctx context.Context) (int, error)
}

// MirrorRepairer rebuilds the mirror from the catalog.
type MirrorRepairer interface {
	RepairMirror(ctx context.Context) (mirror.RepairReport, error)
}

// IDGenerator produces pass identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes a pass.
type Config struct {
	// MaxConcurrency caps in-flight targets. Zero means one goroutine per target with no cap.
	MaxConcurrency int
	// RepairMirror resynchronizes the mirror after every pass.
	RepairMirror bool
}

// Deps holds the collaborators of a Dispatcher. Headless, Promoter, Alerts and Mirror are optional.
type Deps struct {
	Fetcher    Fetcher
	Headless   Fetcher
	Promoter   Promoter
	Extractors Extractors
	Reconciler Reconciler
	Alerts     AlertFlusher
	Mirror     MirrorRepairer
	IDs        IDGenerator
	Logger     *zap.Logger
}

// SourceReport summarizes one target.
type SourceReport struct {
	Publisher string        `json:"publisher"`
	URL       string        `json:"url"`
	Outcome   string        `json:"outcome"`
	Promoted  bool          `json:"promoted,omitempty"`
	Records   int           `json:"records"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// PassReport summarizes a whole pass.
type PassReport struct {
	ID         string               `json:"id"`
	StartedAt  time.Time            `json:"started_at"`
	Duration   time.Duration        `json:"duration"`
	Sources    []SourceReport       `json:"sources"`
	Records    int                  `json:"records"`
	Created    int                  `json:"created"`
	Updated    int                  `json:"updated"`
	Skipped    int                  `json:"skipped"`
	Failed     int                  `json:"failed"`
	AlertsSent int                  `json:"alerts_sent"`
	Mirror     *mirror.RepairReport `json:"mirror,omitempty"`
}

// Dispatcher fans a pass out over its targets.
type Dispatcher struct {
	cfg     Config
	deps    Deps
	running sync.Mutex
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Dispatcher{cfg: cfg, deps: deps, logger: logger}
}

// Run scrapes every target and returns once all of them settled. A failing target never
// aborts the others. Pending alerts are flushed at the end of the pass.
func (d *Dispatcher) Run(ctx context.Context, targets []Target) (PassReport, error) {
	if !d.running.TryLock() {
		return PassReport{}, ErrPassInProgress
	}
	defer d.running.Unlock()

	id, err := d.deps.IDs.NewID()
	if err != nil {
		return PassReport{}, fmt.Errorf("new pass id: %w", err)
	}
	start := time.Now()
	logger := d.logger.With(zap.String("pass_id", id))
	logger.Info("pass started", zap.Int("targets", len(targets)))

	report := PassReport{
		ID:        id,
		StartedAt: start.UTC(),
		Sources:   make([]SourceReport, len(targets)),
	}

	var sem chan struct{}
	if d.cfg.MaxConcurrency > 0 {
		sem = make(chan struct{}, d.cfg.MaxConcurrency)
	}
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			report.Sources[i] = d.runTarget(ctx, target, logger)
		}()
	}
	wg.Wait()

	for _, src := range report.Sources {
		report.Records += src.Records
		report.Created += src.Created
		report.Updated += src.Updated
		report.Skipped += src.Skipped
		report.Failed += src.Failed
	}

	if d.deps.Alerts != nil {
		sent, err := d.deps.Alerts.Flush(ctx)
		if err != nil {
			logger.Warn("end of pass alert flush failed", zap.Error(err))
		}
		report.AlertsSent = sent
	}
	if d.cfg.RepairMirror && d.deps.Mirror != nil {
		repair, err := d.deps.Mirror.RepairMirror(ctx)
		if err != nil {
			logger.Error("mirror repair failed", zap.Error(err))
		} else {
			report.Mirror = &repair
		}
	}

	report.Duration = time.Since(start)
	metrics.ObservePass(report.Duration)
	logger.Info("pass finished",
		zap.Duration("duration", report.Duration),
		zap.Int("records", report.Records),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("alerts_sent", report.AlertsSent),
	)
	return report, nil
}

func (d *Dispatcher) runTarget(ctx context.Context, target Target, logger *zap.Logger) (src SourceReport) {
	start := time.Now()
	logger = logger.With(zap.String("publisher", target.Publisher.String()), zap.String("url", target.URL))
	src = SourceReport{Publisher: target.Publisher.String(), URL: target.URL}
	defer func() {
		src.Duration = time.Since(start)
		metrics.ObservePassSource(src.Publisher, src.Outcome)
	}()

	ex := d.deps.Extractors.For(target.Publisher)
	// Publishers without an implementation are not worth a network round trip.
	if _, pending := ex.(*extract.Noop); pending {
		_, rep := ex.Extract(target.URL, nil)
		src.Outcome = OutcomePending
		logger.Debug("publisher skipped", zap.String("reason", rep.Pending))
		return src
	}

	doc := d.fetcherFor(target).Fetch(ctx, target.URL)
	if doc.Empty {
		src.Outcome = OutcomeEmpty
		return src
	}

	records, rep := ex.Extract(doc.URL, doc.Body)
	if len(records) == 0 && d.promote(target, ex, doc) {
		logger.Info("promoting to headless fetch")
		if rendered := d.deps.Headless.Fetch(ctx, target.URL); !rendered.Empty {
			src.Promoted = true
			records, rep = ex.Extract(rendered.URL, rendered.Body)
		}
	}
	src.Records = len(records)
	src.Skipped = len(rep.Skipped)
	metrics.ObserveExtractionSkips(src.Publisher, src.Skipped)

	for _, rec := range records {
		res, err := d.deps.Reconciler.Reconcile(ctx, rec)
		if err != nil {
			src.Failed++
			continue
		}
		switch res.Outcome {
		case reconcile.OutcomeCreated:
			src.Created++
		case reconcile.OutcomeUpdated:
			src.Updated++
		default:
			src.Unchanged++
		}
	}
	src.Outcome = OutcomeOK
	logger.Info("source reconciled",
		zap.Int("records", src.Records),
		zap.Int("created", src.Created),
		zap.Int("updated", src.Updated),
		zap.Int("skipped", src.Skipped),
		zap.Int("failed", src.Failed),
	)
	return src
}

func (d *Dispatcher) promote(target Target, ex extract.Extractor, doc fetcher.Document) bool {
	if target.Headless || d.deps.Headless == nil || d.deps.Promoter == nil {
		return false
	}
	var item string
	if s, ok := ex.(itemSelectorer); ok {
		item = s.ItemSelector()
	}
	return d.deps.Promoter.ShouldPromote(doc, item)
}

func (d *Dispatcher) fetcherFor(target Target) Fetcher {
	if target.Headless && d.deps.Headless != nil {
		return d.deps.Headless
	}
	return d.deps.Fetcher
}
