package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type memRemote struct {
	mu    sync.Mutex
	files map[string][]byte
	sums  map[string]string
	saved chan string
}

func newMemRemote() *memRemote {
	return &memRemote{files: map[string][]byte{}, sums: map[string]string{}, saved: make(chan string, 8)}
}

func (m *memRemote) SaveChecked(_ context.Context, r io.Reader, filename string, _ int64, sum string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.files[filename] = data
	m.sums[filename] = sum
	m.mu.Unlock()
	m.saved <- filename
	return int64(len(data)), nil
}

func (m *memRemote) Checksum(_ context.Context, filename string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.sums[filename]
	return sum, ok, nil
}

func (m *memRemote) Open(_ context.Context, filename string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filename]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memRemote) Delete(_ context.Context, filename string) error {
	m.mu.Lock()
	delete(m.files, filename)
	m.mu.Unlock()
	return nil
}

func (m *memRemote) CleanupOlderThan(context.Context, time.Duration) error { return nil }

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	payload := []byte("jpeg bytes")
	written, hash, err := store.Save(ctx, bytes.NewReader(payload), "batch/item.jpg", int64(len(payload)))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if written != int64(len(payload)) || hash == "" {
		t.Fatalf("unexpected save result: written=%d hash=%q", written, hash)
	}

	rc, size, err := store.Open(ctx, "batch/item.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if size != int64(len(payload)) || !bytes.Equal(got, payload) {
		t.Fatalf("unexpected content %q (size %d)", got, size)
	}

	if err := store.Delete(ctx, "batch/item.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Open(ctx, "batch/item.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLocalStoreRejectsEscapingNames(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	for _, name := range []string{"", "   ", "../outside.jpg", "/etc/passwd"} {
		if _, _, err := store.Save(context.Background(), bytes.NewReader(nil), name, 0); err == nil {
			t.Fatalf("expected error for filename %q", name)
		}
	}
}

func TestLocalStoreCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"old.jpg", "new.jpg"} {
		if _, _, err := store.Save(ctx, bytes.NewReader([]byte(name)), name, 0); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "old.jpg"), past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := store.CleanupOlderThan(ctx, time.Hour); err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.jpg")); !os.IsNotExist(err) {
		t.Fatalf("expected old.jpg removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.jpg")); err != nil {
		t.Fatalf("expected new.jpg kept: %v", err)
	}
}

func TestAsyncStoreReplicatesToRemote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	remote := newMemRemote()
	store := NewAsyncStore(ctx, local, remote, 4, 1, 0)
	defer store.Close(context.Background())

	_, hash, err := store.Save(ctx, bytes.NewReader([]byte("finished")), "a.jpg", 8)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case name := <-remote.saved:
		if name != "a.jpg" {
			t.Fatalf("replicated %q, want a.jpg", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file was not replicated to remote")
	}
	if sum, ok, _ := remote.Checksum(ctx, "a.jpg"); !ok || sum != hash || hash == "" {
		t.Fatalf("remote checksum %q, want local hash %q", sum, hash)
	}

	if err := local.Delete(ctx, "a.jpg"); err != nil {
		t.Fatalf("local Delete: %v", err)
	}
	rc, _, err := store.Open(ctx, "a.jpg")
	if err != nil {
		t.Fatalf("expected remote fallback, got %v", err)
	}
	rc.Close()
}

func TestAsyncStoreWithoutRemote(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	store := NewAsyncStore(ctx, local, nil, 0, 0, 0)

	if _, _, err := store.Save(ctx, bytes.NewReader([]byte("x")), "b.jpg", 1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, _, err := store.Open(ctx, "missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.CleanupOlderThan(ctx, time.Hour); err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
