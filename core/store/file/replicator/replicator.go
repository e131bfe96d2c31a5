// Package replicator pushes finished images from the local results directory
// to a remote bucket on a fixed pool of workers.
package replicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Source is where finished images are read from.
type Source interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
}

// Target is the remote copy. SaveChecked stores the image together with its
// sha256 and fails when the bytes it received hash differently. Checksum
// returns the sha256 recorded for an existing object; ok is false when the
// object is missing or carries no checksum.
type Target interface {
	SaveChecked(ctx context.Context, r io.Reader, filename string, size int64, sha256 string) (int64, error)
	Checksum(ctx context.Context, filename string) (sum string, ok bool, err error)
}

// Job is one finished image waiting for its remote copy.
type Job struct {
	Filename string
	Size     int64
	SHA256   string
	Attempt  int
}

// Stats counts outcomes since the replicator was created.
type Stats struct {
	Copied  int64
	Skipped int64
	Dropped int64
}

// Replicator copies images whose remote copy is missing or stale. A failed
// copy is retried with a growing delay, up to maxRetries times.
type Replicator struct {
	source Source
	target Target

	queue      chan Job
	workerNum  int
	maxRetries int
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	copied  atomic.Int64
	skipped atomic.Int64
	dropped atomic.Int64
}

func NewReplicator(source Source, target Target, queueSize, workerNum, maxRetries int) *Replicator {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Replicator{
		source:     source,
		target:     target,
		queue:      make(chan Job, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
		retryDelay: 500 * time.Millisecond,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(r.workerNum)
	for i := 0; i < r.workerNum; i++ {
		go r.worker()
	}
}

// Stop drops queued jobs that have not started and counts them as dropped.
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	close(r.queue)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		r.wg.Wait()
		for range r.queue {
			r.dropped.Add(1)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
	}

	st := r.Stats()
	slog.Info("replicator: stopped",
		slog.Int64("copied", st.Copied),
		slog.Int64("skipped", st.Skipped),
		slog.Int64("dropped", st.Dropped),
	)
	return nil
}

func (r *Replicator) Stats() Stats {
	return Stats{
		Copied:  r.copied.Load(),
		Skipped: r.skipped.Load(),
		Dropped: r.dropped.Load(),
	}
}

// Enqueue is non-blocking; false means the job was not accepted.
func (r *Replicator) Enqueue(job Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}

	select {
	case r.queue <- job:
		return true
	default:
		return false
	}
}

func (r *Replicator) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case job, ok := <-r.queue:
			if !ok {
				return
			}

			r.handleJob(r.ctx, job)
		}
	}
}

func (r *Replicator) handleJob(ctx context.Context, job Job) {
	l := slog.With(
		slog.String("filename", job.Filename),
		slog.Int("attempt", job.Attempt),
	)

	err := r.copyOnce(ctx, job)
	if err == nil {
		return
	}

	if job.Attempt >= r.maxRetries {
		r.dropped.Add(1)
		l.Error("replication failed, max retries exceeded",
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case <-ctx.Done():
		r.dropped.Add(1)
		return
	case <-time.After(r.retryDelay * time.Duration(job.Attempt+1)):
	}

	job.Attempt++
	if r.Enqueue(job) {
		l.Warn("replication failed, job requeued",
			slog.String("error", err.Error()),
			slog.Int("next_attempt", job.Attempt),
		)
		return
	}
	r.dropped.Add(1)
	l.Error("replication failed and queue is full or closed, dropping job",
		slog.String("error", err.Error()),
	)
}

// copyOnce skips images whose remote copy already carries the same sha256,
// which covers a retry after an upload whose response was lost.
func (r *Replicator) copyOnce(ctx context.Context, job Job) error {
	if job.SHA256 != "" {
		sum, ok, err := r.target.Checksum(ctx, job.Filename)
		if err != nil {
			return fmt.Errorf("check remote copy: %w", err)
		}
		if ok && sum == job.SHA256 {
			r.skipped.Add(1)
			slog.Debug("replicator: remote copy up to date", slog.String("filename", job.Filename))
			return nil
		}
	}

	rc, size, err := r.source.Open(ctx, job.Filename)
	if err != nil {
		return fmt.Errorf("open finished image: %w", err)
	}
	defer rc.Close()

	if job.Size > 0 {
		size = job.Size
	}

	written, err := r.target.SaveChecked(ctx, rc, job.Filename, size, job.SHA256)
	if err != nil {
		return fmt.Errorf("save remote copy: %w", err)
	}
	if written <= 0 {
		return fmt.Errorf("remote copy is empty")
	}

	r.copied.Add(1)
	slog.Debug("replicator: image replicated",
		slog.String("filename", job.Filename),
		slog.Int64("size", written),
	)
	return nil
}
