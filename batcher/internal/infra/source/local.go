package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// MaxImageBytes matches the upload limit of the finishing server.
const MaxImageBytes = 10 << 20

type localLoader struct {
	maxBytes int64
}

func NewLocalLoader() *localLoader {
	return &localLoader{maxBytes: MaxImageBytes}
}

// Load reads a source photo from disk. ref is a file path.
func (l *localLoader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", ref, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat %s: %w", ref, err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("%s is a directory", ref)
	}
	if info.Size() > l.maxBytes {
		return nil, "", fmt.Errorf("%s is %s, limit is %s",
			filepath.Base(ref), humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(l.maxBytes)))
	}

	data, err := io.ReadAll(io.LimitReader(f, l.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%s is empty", ref)
	}

	return data, filepath.Base(ref), nil
}
