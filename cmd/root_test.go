package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/app"
	"github.com/JakeFAU/comic-tracker/internal/config"
	"github.com/JakeFAU/comic-tracker/internal/dispatcher"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
)

type fakeApp struct {
	passes  int
	repairs int
	closed  bool
}

func (f *fakeApp) RunPass(context.Context) (dispatcher.PassReport, error) {
	f.passes++
	return dispatcher.PassReport{ID: "pass-1", Created: 3}, nil
}

func (f *fakeApp) RepairMirror(context.Context) (mirror.RepairReport, error) {
	f.repairs++
	return mirror.RepairReport{Upserted: []int64{1, 2}}, nil
}

func (f *fakeApp) Handler() http.Handler { return http.NotFoundHandler() }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Close() { f.closed = true }

// withFakeApp swaps the application factory. Tests using it must not run in parallel.
func withFakeApp(t *testing.T, fake *fakeApp, gotOpts *app.Options) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, _ config.Config, _ *zap.Logger, opts app.Options) (App, error) {
		if gotOpts != nil {
			*gotOpts = opts
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScrapePrintsReport(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, nil)

	out, err := run(t, "scrape")
	require.NoError(t, err)
	require.Equal(t, 1, fake.passes)
	require.True(t, fake.closed)

	var report dispatcher.PassReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "pass-1", report.ID)
	require.Equal(t, 3, report.Created)
}

func TestMirrorRepair(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, nil)

	out, err := run(t, "mirror", "repair")
	require.NoError(t, err)
	require.Equal(t, 1, fake.repairs)
	require.Contains(t, out, "upserted 2, removed 0")
}

func TestMigrateForcesSchema(t *testing.T) {
	fake := &fakeApp{}
	var opts app.Options
	withFakeApp(t, fake, &opts)

	_, err := run(t, "migrate")
	require.NoError(t, err)
	require.True(t, opts.ForceMigrate)

	_, err = run(t, "scrape")
	require.NoError(t, err)
	require.False(t, opts.ForceMigrate)
}

func TestAppInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger, app.Options) (App, error) {
		return nil, errors.New("catalog unreachable")
	}
	t.Cleanup(func() { newApp = orig })

	_, err := run(t, "scrape")
	require.ErrorContains(t, err, "catalog unreachable")
}
