package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/JakeFAU/comic-tracker/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "mirror/comics.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://mirror/comics.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, _ := store.Bytes("mirror/comics.json")
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if store.Puts() != 1 {
		t.Fatalf("expected 1 put, got %d", store.Puts())
	}
}

func TestBlobStoreGetObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	if _, err := store.GetObject(ctx, "missing"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := store.PutObject(ctx, "a", "", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	rc, err := store.GetObject(ctx, "a")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected read %q err=%v", data, err)
	}
}

func TestBlobStoreFailWrites(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	boom := errors.New("disk full")
	store.FailWrites(boom)
	if _, err := store.PutObject(context.Background(), "a", "", bytes.NewReader(nil)); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	store.FailWrites(nil)
	if _, err := store.PutObject(context.Background(), "a", "", bytes.NewReader(nil)); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
}
