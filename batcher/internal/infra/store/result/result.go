// Package result saves finished images under the batch result directory.
package result

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
)

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
}

// Locator resolves a saved name to a path the user can open.
type Locator interface {
	Path(filename string) (string, error)
}

type store struct {
	files   FileStore
	locator Locator
	prefix  string
}

// New stores results under prefix (usually the batch id). locator may be nil,
// in which case the relative file name is used as the result ref.
func New(files FileStore, locator Locator, prefix string) *store {
	return &store{files: files, locator: locator, prefix: prefix}
}

func (s *store) Store(ctx context.Context, item domain.QueueItem, img domain.FinishedImage) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("empty result for item %s", item.ID)
	}

	name := Filename(s.prefix, item)
	if _, _, err := s.files.Save(ctx, bytes.NewReader(img.Data), name, int64(len(img.Data))); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}

	if s.locator == nil {
		return name, nil
	}
	path, err := s.locator.Path(name)
	if err != nil {
		return name, nil
	}
	return path, nil
}

// Filename derives "<prefix>/<source stem>-<id prefix>-amazon-main.jpg".
func Filename(prefix string, item domain.QueueItem) string {
	stem := strings.TrimSuffix(filepath.Base(item.SourceRef), filepath.Ext(item.SourceRef))
	stem = sanitize(stem)
	if stem == "" {
		stem = "image"
	}
	short := item.ID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s-%s-amazon-main.jpg", stem, short)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}
