package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/app"
	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/config"
)

const listingPage = `<html><body>
<div class="grid grid-rows-1 grid-cols-12 m-2">
  <div class="col-span-3"><a href="/series/1"><img src="/storage/covers/some-title.webp"></a></div>
  <div class="col-span-9">
    <span><a href="/series/1">   some   Title...  </a></span>
    <span><a href="/series/1/chapter/102"><span><p>Chapter 102</p></span></a></span>
  </div>
</div>
</body></html>`

func baseConfig(url string) config.Config {
	return config.Config{
		Server:     config.ServerConfig{Port: 8080},
		HTTP:       config.HTTPConfig{TimeoutSeconds: 5},
		Dispatcher: config.DispatcherConfig{RepairMirror: true},
		Catalog:    config.CatalogConfig{Driver: config.DriverMemory},
		Mirror:     config.MirrorConfig{Backend: config.BackendMemory, Object: "comics.json"},
		Alert:      config.AlertConfig{Threshold: 4, ReadAheadWindow: 4, Transports: []string{config.TransportLog}},
		Publishers: map[string]config.PublisherConfig{
			"asura":         {URLs: []string{url}},
			"leviatanscans": {URLs: []string{url + "/closed"}},
		},
	}
}

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingPage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunPassEndToEnd(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	ctx := context.Background()
	a, err := app.NewApp(ctx, baseConfig(srv.URL), zap.NewNop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.Len(t, a.Targets(), 2)

	report, err := a.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.NotNil(t, report.Mirror)

	entries, err := a.Catalog().SearchByTitle(ctx, "some title")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Some title", entries[0].Title())
	require.Equal(t, 102, entries[0].CurrentChapter)
	require.Equal(t, []comic.Publisher{comic.PublisherAsura}, entries[0].Publishers)

	report, err = a.RunPass(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Created)
	require.Zero(t, report.Updated)

	all, err := a.Catalog().List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestServerServesPasses(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	a, err := app.NewApp(context.Background(), baseConfig(srv.URL), zap.NewNop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/passes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewAppMigratesSQLite(t *testing.T) {
	t.Parallel()

	cfg := baseConfig("http://127.0.0.1:0")
	cfg.Publishers = nil
	cfg.Catalog = config.CatalogConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "comics.db")}
	cfg.Mirror = config.MirrorConfig{Backend: config.BackendLocal, Path: t.TempDir(), Object: "comics.json"}

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), app.Options{ForceMigrate: true})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Catalog().Ping(context.Background()))

	created, err := a.Catalog().Create(context.Background(), comic.Entry{
		Titles:     []string{"Solo leveling"},
		Publishers: []comic.Publisher{comic.PublisherAsura},
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
}

func TestNewAppRejectsBadBackends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{name: "driver", mutate: func(c *config.Config) { c.Catalog.Driver = "mysql" }, want: "unknown catalog driver"},
		{name: "backend", mutate: func(c *config.Config) { c.Mirror.Backend = "s3" }, want: "unknown mirror backend"},
		{name: "transport", mutate: func(c *config.Config) { c.Alert.Transports = []string{"smtp"} }, want: "unknown alert transport"},
		{name: "webhook", mutate: func(c *config.Config) { c.Alert.Transports = []string{config.TransportWebhook} }, want: "webhook url"},
		{name: "publisher", mutate: func(c *config.Config) {
			c.Publishers = map[string]config.PublisherConfig{"mangadex": {URLs: []string{"https://mangadex.org"}}}
		}, want: "publishers.mangadex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig("http://127.0.0.1:0")
			tt.mutate(&cfg)
			a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), app.Options{})
			require.Nil(t, a)
			require.ErrorContains(t, err, tt.want)
		})
	}
}
