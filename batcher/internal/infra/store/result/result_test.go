package result

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
	filestore "github.com/you-humble/amazonmain/core/store/file"
)

func TestFilename(t *testing.T) {
	item := domain.QueueItem{ID: "0123456789abcdef", SourceRef: "/photos/Red Mug (1).png"}
	if got := Filename("batch-1", item); got != "batch-1/Red_Mug_1-01234567-amazon-main.jpg" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := Filename("", domain.QueueItem{ID: "ab", SourceRef: ""}); got != "image-ab-amazon-main.jpg" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}

func TestStoreWritesToLocalStore(t *testing.T) {
	dir := t.TempDir()
	local, err := filestore.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s := New(local, local, "b1")

	item := domain.QueueItem{ID: "item-0001", SourceRef: "shoe.jpg"}
	ref, err := s.Store(context.Background(), item, domain.FinishedImage{Data: []byte("jpeg")})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	want := filepath.Join(dir, "b1", "shoe-item-000-amazon-main.jpg")
	if abs, _ := filepath.Abs(want); ref != abs {
		t.Fatalf("ref %q, want %q", ref, abs)
	}
	data, err := os.ReadFile(ref)
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("unexpected file content %q %v", data, err)
	}
}

type failingFiles struct{}

func (failingFiles) Save(context.Context, io.Reader, string, int64) (int64, string, error) {
	return 0, "", os.ErrPermission
}

func TestStoreErrors(t *testing.T) {
	s := New(failingFiles{}, nil, "")
	if _, err := s.Store(context.Background(), domain.QueueItem{ID: "x"}, domain.FinishedImage{}); err == nil {
		t.Fatal("expected error for empty image")
	}
	if _, err := s.Store(context.Background(), domain.QueueItem{ID: "x", SourceRef: "a.jpg"}, domain.FinishedImage{Data: []byte("j")}); err == nil {
		t.Fatal("expected save error")
	}
}
