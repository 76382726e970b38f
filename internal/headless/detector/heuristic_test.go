package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comic-tracker/internal/fetcher"
)

func ok(body string) fetcher.Document {
	return fetcher.Document{Status: http.StatusOK, Body: []byte(body)}
}

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	listing := "<html><body>" + strings.Repeat(`<div class="bs"><a>Title</a><span>Chapter 12</span></div>`, 60) + "</body></html>"
	hydrated := `<div id="__next">` + strings.Repeat(`<div class="bs"><a>Title</a></div>`, 3) + `</div>`
	tests := []struct {
		name string
		doc  fetcher.Document
		item string
		want bool
	}{
		{name: "empty body", doc: ok(""), item: "div.bs", want: true},
		{name: "next mount point", doc: ok(`<div id="__next"></div>`), item: "div.bs", want: true},
		{name: "nuxt mount point", doc: ok(`<div id="__nuxt"></div>`), item: "div.bs", want: true},
		{name: "angular root", doc: ok(`<app-root ng-version="17.0.0"></app-root>`), item: "div.bs", want: true},
		{name: "script heavy shell", doc: ok(`<html><script>var a=1;</script><p>t</p></html>`), item: "div.bs", want: true},
		{name: "server rendered listing", doc: ok(listing), item: "div.bs", want: false},
		{name: "mount point with rendered items", doc: ok(hydrated), item: "div.bs", want: false},
		{name: "mount point without item selector", doc: ok(hydrated), want: true},
		{name: "invalid item selector", doc: ok(`<div id="app"></div>`), item: "div[", want: true},
		{name: "plain page without items", doc: ok(listing), item: "li.series", want: false},
		{name: "not found", doc: fetcher.Document{Status: http.StatusNotFound, Body: []byte("not found")}, want: false},
		{name: "already headless", doc: fetcher.Document{Status: http.StatusOK, Headless: true}, want: false},
		{name: "failed fetch", doc: fetcher.EmptyDocument("https://asuracomic.net/"), want: false},
	}
	h := NewHeuristic(100)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldPromote(tt.doc, tt.item))
		})
	}
}

func TestNewHeuristicDefaultSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2048, NewHeuristic(0).ShellBytes)
}
