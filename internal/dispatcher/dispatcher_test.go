package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/extract"
	"github.com/JakeFAU/comic-tracker/internal/fetcher"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
	"github.com/JakeFAU/comic-tracker/internal/reconcile"
)

type stubFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	calls    []string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *stubFetcher) Fetch(_ context.Context, url string) fetcher.Document {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return fetcher.EmptyDocument(url)
	}
	return fetcher.Document{URL: url, Status: http.StatusOK, Body: []byte(body)}
}

func (f *stubFetcher) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// lineExtractor turns each body byte into one record titled by that byte.
type lineExtractor struct {
	pub comic.Publisher
}

func (e lineExtractor) Publisher() comic.Publisher { return e.pub }
func (e lineExtractor) ItemSelector() string { return "li.line" }

func (e lineExtractor) Extract(_ string, body []byte) ([]comic.Record, extract.Report) {
	var (
		records []comic.Record
		rep     extract.Report
	)
	for _, b := range body {
		if b == '-' {
			rep.Skipped = append(rep.Skipped, extract.Skip{Reason: "no chapter element"})
			continue
		}
		records = append(records, comic.Record{Title: string(b), Chapter: 1, Publisher: e.pub})
	}
	rep.Succeeded = len(records)
	return records, rep
}

type stubExtractors struct{}

func (stubExtractors) For(p comic.Publisher) extract.Extractor {
	if p == comic.PublisherLeviatanScans {
		return extract.NewNoop(p, extract.ReasonSiteClosed)
	}
	return lineExtractor{pub: p}
}

type stubReconciler struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *stubReconciler) Reconcile(_ context.Context, rec comic.Record) (reconcile.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Title == "x" {
		return reconcile.Result{Outcome: reconcile.OutcomeFailed}, comic.ErrStoreCommit
	}
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[rec.Title] {
		return reconcile.Result{Outcome: reconcile.OutcomeUpdated}, nil
	}
	r.seen[rec.Title] = true
	return reconcile.Result{Outcome: reconcile.OutcomeCreated}, nil
}

type stubFlusher struct {
	calls int
	err   error
}

func (f *stubFlusher) Flush(context.Context) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

type stubRepairer struct{ calls int }

func (r *stubRepairer) RepairMirror(context.Context) (mirror.RepairReport, error) {
	r.calls++
	return mirror.RepairReport{Upserted: []int64{7}}, nil
}

type stubIDs struct{}

func (stubIDs) NewID() (string, error) { return "0190a2f4-0000-7000-8000-000000000001", nil }

func newDispatcher(cfg Config, f *stubFetcher, flusher *stubFlusher, repairer *stubRepairer) *Dispatcher {
	deps := Deps{
		Fetcher:    f,
		Extractors: stubExtractors{},
		Reconciler: &stubReconciler{},
		IDs:        stubIDs{},
		Logger:     zap.NewNop(),
	}
	if flusher != nil {
		deps.Alerts = flusher
	}
	if repairer != nil {
		deps.Mirror = repairer
	}
	return New(cfg, deps)
}

func TestRunAggregatesSources(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{pages: map[string]string{
		"https://asuracomic.net/":   "ab-",
		"https://flamecomics.xyz/":  "acx",
		"https://realmscans.com/p1": "",
	}}
	flusher := &stubFlusher{}
	repairer := &stubRepairer{}
	d := newDispatcher(Config{RepairMirror: true}, f, flusher, repairer)

	report, err := d.Run(context.Background(), []Target{
		{Publisher: comic.PublisherAsura, URL: "https://asuracomic.net/"},
		{Publisher: comic.PublisherFlameScans, URL: "https://flamecomics.xyz/"},
		{Publisher: comic.PublisherRealmScans, URL: "https://realmscans.com/p1"},
		{Publisher: comic.PublisherManganato, URL: "https://manganato.com/down"},
		{Publisher: comic.PublisherLeviatanScans, URL: "https://leviatanscans.com/"},
	})
	require.NoError(t, err)
	require.Equal(t, "0190a2f4-0000-7000-8000-000000000001", report.ID)
	require.Len(t, report.Sources, 5)

	require.Equal(t, 5, report.Records)
	require.Equal(t, 3, report.Created)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 2, report.AlertsSent)
	require.NotNil(t, report.Mirror)
	require.Equal(t, []int64{7}, report.Mirror.Upserted)

	require.Equal(t, OutcomeOK, report.Sources[0].Outcome)
	require.Equal(t, OutcomeOK, report.Sources[2].Outcome)
	require.Equal(t, OutcomeEmpty, report.Sources[3].Outcome)
	require.Equal(t, OutcomePending, report.Sources[4].Outcome)
	require.NotContains(t, f.called(), "https://leviatanscans.com/")

	require.Equal(t, 1, flusher.calls)
	require.Equal(t, 1, repairer.calls)
}

func TestRunToleratesFlushFailure(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{pages: map[string]string{"https://asuracomic.net/": "a"}}
	flusher := &stubFlusher{err: errors.New("webhook down")}
	d := newDispatcher(Config{}, f, flusher, nil)

	report, err := d.Run(context.Background(), []Target{{Publisher: comic.PublisherAsura, URL: "https://asuracomic.net/"}})
	require.NoError(t, err)
	require.Zero(t, report.AlertsSent)
	require.Nil(t, report.Mirror)
	require.Equal(t, 1, report.Created)
}

func TestRunHonorsConcurrencyCap(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{delay: 20 * time.Millisecond}
	d := newDispatcher(Config{MaxConcurrency: 2}, f, nil, nil)

	targets := make([]Target, 6)
	for i := range targets {
		targets[i] = Target{Publisher: comic.PublisherAsura, URL: "https://asuracomic.net/page/" + string(rune('a'+i))}
	}
	report, err := d.Run(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, report.Sources, 6)
	require.Len(t, f.called(), 6)
	require.LessOrEqual(t, f.peak.Load(), int32(2))
}

func TestRunRejectsOverlappingPass(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{delay: 100 * time.Millisecond}
	d := newDispatcher(Config{}, f, nil, nil)
	targets := []Target{{Publisher: comic.PublisherAsura, URL: "https://asuracomic.net/"}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Run(context.Background(), targets)
	}()
	require.Eventually(t, func() bool { return f.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := d.Run(context.Background(), targets)
	require.ErrorIs(t, err, ErrPassInProgress)
	<-done
}

func TestRunUsesHeadlessFetcher(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{}
	rendered := &stubFetcher{pages: map[string]string{"https://flamecomics.xyz/": "z"}}
	d := New(Config{}, Deps{
		Fetcher:    plain,
		Headless:   rendered,
		Extractors: stubExtractors{},
		Reconciler: &stubReconciler{},
		IDs:        stubIDs{},
	})

	report, err := d.Run(context.Background(), []Target{{Publisher: comic.PublisherFlameScans, URL: "https://flamecomics.xyz/", Headless: true}})
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.Empty(t, plain.called())
	require.Equal(t, []string{"https://flamecomics.xyz/"}, rendered.called())
}

type promoteAll struct {
	mu    sync.Mutex
	items []string
}

func (p *promoteAll) ShouldPromote(doc fetcher.Document, itemSelector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, itemSelector)
	return !doc.Headless
}

func TestRunPromotesEmptyListingToHeadless(t *testing.T) {
	t.Parallel()

	const url = "https://asuracomic.net/"
	plain := &stubFetcher{pages: map[string]string{url: "-"}}
	rendered := &stubFetcher{pages: map[string]string{url: "ab"}}
	promoter := &promoteAll{}
	d := New(Config{}, Deps{
		Fetcher:    plain,
		Headless:   rendered,
		Promoter:   promoter,
		Extractors: stubExtractors{},
		Reconciler: &stubReconciler{},
		IDs:        stubIDs{},
	})

	report, err := d.Run(context.Background(), []Target{{Publisher: comic.PublisherAsura, URL: url}})
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)
	require.True(t, report.Sources[0].Promoted)
	require.Equal(t, []string{url}, plain.called())
	require.Equal(t, []string{url}, rendered.called())
	require.Equal(t, []string{"li.line"}, promoter.items)
}

func TestRunDoesNotPromoteWithoutHeadless(t *testing.T) {
	t.Parallel()

	const url = "https://asuracomic.net/"
	plain := &stubFetcher{pages: map[string]string{url: "-"}}
	d := New(Config{}, Deps{
		Fetcher:    plain,
		Promoter:   &promoteAll{},
		Extractors: stubExtractors{},
		Reconciler: &stubReconciler{},
		IDs:        stubIDs{},
	})

	report, err := d.Run(context.Background(), []Target{{Publisher: comic.PublisherAsura, URL: url}})
	require.NoError(t, err)
	require.Zero(t, report.Records)
	require.False(t, report.Sources[0].Promoted)
	require.Equal(t, OutcomeOK, report.Sources[0].Outcome)
}
