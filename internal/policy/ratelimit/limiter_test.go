package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "https://asuracomic.net/page/1"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "https://asuracomic.net/page/2"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example.com/1"); err != nil {
		t.Fatal(err)
	}

	// Host B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host B blocked unexpectedly")
	}
}

func TestLimiter_HostOverrideAndCancel(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   0,
		DefaultBurst: 1,
		HostRPS:      map[string]float64{"slow.example.com": 0.01},
	})
	ctx := context.Background()

	// Unlimited default.
	for range 5 {
		if err := l.Wait(ctx, "https://fast.example.com"); err != nil {
			t.Fatal(err)
		}
	}

	if err := l.Wait(ctx, "https://slow.example.com"); err != nil {
		t.Fatal(err)
	}
	canceled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(canceled, "https://slow.example.com"); err == nil {
		t.Fatal("expected wait to fail once the context expires")
	}
}

func TestHost(t *testing.T) {
	t.Parallel()

	if got := Host("https://Manganato.com/x"); got != "manganato.com" {
		t.Errorf("unexpected host %q", got)
	}
	if got := Host("::bad"); got != "unknown" {
		t.Errorf("expected unknown, got %q", got)
	}
}
