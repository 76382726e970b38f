package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/alert"
	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/dispatcher"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
	"github.com/JakeFAU/comic-tracker/internal/transport/memory"
)

type fakePasses struct {
	report dispatcher.PassReport
	err    error
	calls  int
}

func (f *fakePasses) RunPass(context.Context) (dispatcher.PassReport, error) {
	f.calls++
	return f.report, f.err
}

type fakeCatalog struct {
	pingErr   error
	repairErr error
}

func (f *fakeCatalog) Ping(context.Context) error { return f.pingErr }

func (f *fakeCatalog) RepairMirror(context.Context) (mirror.RepairReport, error) {
	if f.repairErr != nil {
		return mirror.RepairReport{}, f.repairErr
	}
	return mirror.RepairReport{Upserted: []int64{3}, Removed: []int64{9}, Saved: true}, nil
}

type fixture struct {
	passes    *fakePasses
	catalog   *fakeCatalog
	transport *memory.Transport
	alerts    *alert.Aggregator
	server    *Server
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	tr := memory.New()
	f := fixture{
		passes:    &fakePasses{report: dispatcher.PassReport{ID: "pass-1", Created: 2}},
		catalog:   &fakeCatalog{},
		transport: tr,
		alerts:    alert.New(alert.Config{Threshold: 10}, zap.NewNop(), tr),
	}
	f.server = NewServer(f.passes, f.alerts, f.catalog, cfg, zap.NewNop())
	return f
}

func (f fixture) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthzAndRequestID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := f.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"abc"}})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsCatalog(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", nil).Code)

	f.catalog.pingErr = errors.New("connection refused")
	require.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.do(http.MethodGet, "/healthz", nil)
	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func TestRunPass(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := f.do(http.MethodPost, "/v1/passes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[dispatcher.PassReport](t, rec)
	require.Equal(t, "pass-1", report.ID)
	require.Equal(t, 2, report.Created)

	f.passes.err = dispatcher.ErrPassInProgress
	require.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/v1/passes", nil).Code)

	f.passes.err = errors.New("no id")
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/v1/passes", nil).Code)
}

func TestFlushAlerts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.alerts.Add(context.Background(), "Solo leveling", 201, []comic.Publisher{comic.PublisherAsura})

	f.transport.FailWith(errors.New("offline"))
	rec := f.do(http.MethodPost, "/v1/alerts/flush", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.EqualValues(t, 1, decode[map[string]any](t, rec)["pending"])

	f.transport.FailWith(nil)
	rec = f.do(http.MethodPost, "/v1/alerts/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]int{"sent": 1}, decode[map[string]int](t, rec))
	require.Len(t, f.transport.Sent(), 1)
}

func TestRepairMirror(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := f.do(http.MethodPost, "/v1/mirror/repair", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[mirror.RepairReport](t, rec)
	require.Equal(t, []int64{3}, report.Upserted)
	require.Equal(t, []int64{9}, report.Removed)

	f.catalog.repairErr = errors.New("bucket gone")
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/v1/mirror/repair", nil).Code)
}

func TestAPIKeyGuardsV1(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/v1/passes", nil).Code)
	require.Zero(t, f.passes.calls)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/passes", http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", nil).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
