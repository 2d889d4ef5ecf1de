package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pinkfuwa/llumen-go/blob"
)

func TestInsertGetDelete(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	data := []byte("hello blob")
	if err := store.Insert(ctx, 1, int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetVectored(ctx, 1)
	if err != nil {
		t.Fatalf("get vectored: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("expected %q, got %q", data, got)
	}

	r, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	streamed, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !bytes.Equal(streamed, data) {
		t.Fatalf("expected %q, got %q", data, streamed)
	}

	if err := store.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetVectored(ctx, 1); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.GetVectored(context.Background(), 99); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
