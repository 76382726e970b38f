package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comic-tracker/internal/comic"
)

func TestParseFieldRule(t *testing.T) {
	t.Parallel()

	rule, err := ParseFieldRule(" Fill_If_Empty ")
	require.NoError(t, err)
	require.Equal(t, FillIfEmpty, rule)

	_, err = ParseFieldRule("sometimes")
	require.Error(t, err)
}

func TestApplyFieldRule(t *testing.T) {
	t.Parallel()

	got, changed := apply(FillIfEmpty, "", "Chugong")
	require.True(t, changed)
	require.Equal(t, "Chugong", got)

	got, changed = apply(FillIfEmpty, "Chugong", "Someone")
	require.False(t, changed)
	require.Equal(t, "Chugong", got)

	status, changed := apply(OverwriteIfKnown, comic.StatusOnAir, comic.StatusUnknown)
	require.False(t, changed)
	require.Equal(t, comic.StatusOnAir, status)

	status, changed = apply(OverwriteIfKnown, comic.StatusOnAir, comic.StatusBreak)
	require.True(t, changed)
	require.Equal(t, comic.StatusBreak, status)

	_, changed = apply(Keep, comic.TypeUnknown, comic.TypeManga)
	require.False(t, changed)
}

func TestCoverPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultCoverPolicy()
	entry := func(cover string, pubs ...comic.Publisher) comic.Entry {
		return comic.Entry{Cover: cover, Publishers: pubs}
	}
	cases := []struct {
		name  string
		entry comic.Entry
		cover string
		pub   comic.Publisher
		want  bool
	}{
		{name: "empty incoming", entry: entry(""), cover: "", pub: comic.PublisherAsura, want: false},
		{name: "unchanged", entry: entry("a.jpg", comic.PublisherAsura), cover: "a.jpg", pub: comic.PublisherAsura, want: false},
		{name: "no cover yet", entry: entry("", comic.PublisherNightScans), cover: "b.jpg", pub: comic.PublisherNightScans, want: true},
		{name: "degraded replaced by healthy", entry: entry("a.jpg", comic.PublisherManhuaPlus, comic.PublisherVoidScans), cover: "b.jpg", pub: comic.PublisherVoidScans, want: true},
		{name: "always refresh", entry: entry("a.jpg", comic.PublisherAsura), cover: "b.jpg", pub: comic.PublisherAsura, want: true},
		{name: "healthy publisher not on allow list", entry: entry("a.jpg", comic.PublisherNightScans, comic.PublisherVoidScans), cover: "b.jpg", pub: comic.PublisherVoidScans, want: false},
		{name: "degraded never on allow list", entry: entry("a.jpg", comic.PublisherAsura, comic.PublisherManganato), cover: "b.jpg", pub: comic.PublisherManganato, want: false},
		{name: "degraded only", entry: entry("a.jpg", comic.PublisherManhuaPlus, comic.PublisherReaperScans), cover: "b.jpg", pub: comic.PublisherReaperScans, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.shouldReplace(tc.entry, tc.cover, tc.pub))
		})
	}
}
