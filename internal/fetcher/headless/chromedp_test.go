package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
	if fetcher.cfg.NavigationTimeout != defaultNavigationTimeout {
		t.Fatalf("expected default nav timeout, got %v", fetcher.cfg.NavigationTimeout)
	}
	if fetcher.cfg.WaitSelector != "body" {
		t.Fatalf("expected body wait selector, got %q", fetcher.cfg.WaitSelector)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	if err := f.acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail while the only slot is held")
	}
	f.release()
	if err := f.acquire(context.Background()); err != nil {
		t.Fatalf("slot was not released: %v", err)
	}
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{"X-Test": {"a", "b"}, "Referer": {"https://asuracomic.net/"}})
	switch v := netHeaders["X-Test"].(type) {
	case []string:
		if len(v) != 2 {
			t.Fatalf("expected two entries, got %v", v)
		}
	default:
		t.Fatalf("expected []string, got %T", v)
	}
	if netHeaders["Referer"] != "https://asuracomic.net/" {
		t.Fatalf("expected single value, got %v", netHeaders["Referer"])
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 404,
			URL:    "https://cdn.example.com/cover.webp",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 203,
			URL:    "https://asuracomic.net/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 203 || url != "https://asuracomic.net/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d url=%s", status, url)
	}

	meta = &responseMeta{}
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}
