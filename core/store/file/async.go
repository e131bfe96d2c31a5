package filestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/you-humble/amazonmain/core/store/file/replicator"

	"golang.org/x/sync/errgroup"
)

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
	Close(ctx context.Context) error
}

// Remote is the replica side of an asyncStore. *minioReplica satisfies it.
type Remote interface {
	replicator.Target
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// asyncStore writes through to the local disk and replicates to the remote
// in the background. With a nil remote it degrades to a plain local store.
type asyncStore struct {
	local      *localStore
	remote     Remote
	replicator *replicator.Replicator
}

func NewAsyncStore(
	ctx context.Context,
	local *localStore,
	remote Remote,
	queueSize,
	workerNum,
	maxRetries int,
) *asyncStore {
	s := &asyncStore{local: local}
	if remote == nil {
		return s
	}

	repl := replicator.NewReplicator(local, remote, queueSize, workerNum, maxRetries)
	repl.Start(ctx)

	s.remote = remote
	s.replicator = repl
	return s
}

func (s *asyncStore) Close(ctx context.Context) error {
	if s.replicator == nil {
		return nil
	}
	return s.replicator.Stop(ctx)
}

func (s *asyncStore) Save(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (int64, string, error) {
	written, hash, err := s.local.Save(ctx, reader, filename, size)
	if err != nil {
		return 0, "", err
	}
	if s.replicator == nil {
		return written, hash, nil
	}

	ok := s.replicator.Enqueue(replicator.Job{
		Filename: filename,
		Size:     written,
		SHA256:   hash,
	})
	if !ok {
		slog.Error("asyncStore: replication queue full, file saved only locally",
			slog.String("filename", filename),
			slog.Int64("size", written),
		)
	}

	return written, hash, nil
}

func (s *asyncStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	rc, size, err := s.local.Open(ctx, filename)
	if err == nil {
		return rc, size, nil
	}

	if !errors.Is(err, ErrNotFound) || s.remote == nil {
		return nil, 0, err
	}

	return s.remote.Open(ctx, filename)
}

// Path resolves filename on the local side; the remote copy has no path.
func (s *asyncStore) Path(filename string) (string, error) {
	return s.local.Path(filename)
}

func (s *asyncStore) Delete(ctx context.Context, filename string) error {
	var firstErr error

	if err := s.local.Delete(ctx, filename); err != nil {
		firstErr = err
		slog.Warn("asyncStore: delete local failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}

	if s.remote == nil {
		return firstErr
	}

	if err := s.remote.Delete(ctx, filename); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		slog.Warn("asyncStore: delete remote failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}

	return firstErr
}

func (s *asyncStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.local.CleanupOlderThan(eCtx, maxAge)
	})
	if s.remote != nil {
		eg.Go(func() error {
			return s.remote.CleanupOlderThan(eCtx, maxAge)
		})
	}

	return eg.Wait()
}
