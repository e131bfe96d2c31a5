// Package app wires the batch controller to the finishing server client, the
// result store and the optional redis and nats mirrors.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
	"github.com/you-humble/amazonmain/batcher/internal/infra/config"
	"github.com/you-humble/amazonmain/batcher/internal/queue"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

var ErrMirrorDisabled = errors.New("batch mirror is disabled: set redis.addr in the config")

const mirrorTimeout = 5 * time.Second

type RunOptions struct {
	// PauseAfter pauses the batch once that many items have finished.
	// Zero disables it.
	PauseAfter int
	// RetryFailed runs every failed item once more after the first pass.
	RetryFailed bool
	// Progress is called for every batch event, in order, with the snapshot
	// taken when the event fired.
	Progress func(ev queue.Event, snap queue.Snapshot)
}

type Report struct {
	Tally    queue.Tally
	Retried  int
	Snapshot queue.Snapshot
}

type app struct {
	di        *dependencyInjector
	runPrefix string
	ctrl      atomic.Pointer[queue.Controller]
}

func New(cfg *config.Config) *app {
	di := newDI(cfg)
	di.Logger()
	return &app{
		di:        di,
		runPrefix: time.Now().Format("20060102-150405"),
	}
}

// Run processes refs as one batch and blocks until the batch is done,
// cancelled or ctx ends.
func (a *app) Run(ctx context.Context, refs []string, opts RunOptions) (Report, error) {
	unlock, err := a.lockResults()
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	ctrl, err := a.di.Controller(ctx, a.runPrefix)
	if err != nil {
		return Report{}, err
	}
	a.ctrl.Store(ctrl)

	batches, err := a.di.Batches(ctx)
	if err != nil {
		return Report{}, err
	}
	pub, err := a.di.Publisher()
	if err != nil {
		return Report{}, err
	}
	a.pruneMirror(ctx, batches)

	obs := &observer{ctrl: ctrl, batches: batches, pub: pub, progress: opts.Progress}

	evs := make(chan queue.Event, 16)
	var g errgroup.Group
	g.Go(func() error {
		for ev := range evs {
			obs.observe(ctx, ev)
		}
		return nil
	})

	hooks := queue.StreamWithState(evs, ctrl.Snapshot)
	if opts.PauseAfter > 0 {
		hooks = queue.Fanout(hooks, queue.Hooks{
			OnProgress: func(done, total int) {
				if done == opts.PauseAfter && done < total {
					ctrl.Pause()
				}
			},
		})
	}

	tally, err := ctrl.ProcessQueue(ctx, refs, hooks)
	close(evs)
	_ = g.Wait()
	if err != nil {
		return Report{}, err
	}

	report := Report{Tally: tally}
	if opts.RetryFailed && !tally.Cancelled {
		report.Retried = a.retryFailed(ctx, ctrl, obs)
	}

	report.Snapshot = ctrl.Snapshot()
	obs.mirror(ctx, report.Snapshot)
	return report, nil
}

// lockResults keeps two processes from running batches into the same results
// directory.
func (a *app) lockResults() (func(), error) {
	path := filepath.Clean(a.di.Config().Results.BaseDir) + ".lock"
	lock := flock.New(path)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another batcher holds %s", domain.ErrBusy, path)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("release results lock", slog.String("error", err.Error()))
		}
	}, nil
}

func (a *app) retryFailed(ctx context.Context, ctrl *queue.Controller, obs *observer) int {
	retried := 0
	for i, it := range ctrl.Snapshot().Items {
		if it.Status != domain.StatusFailed {
			continue
		}

		final, err := ctrl.RetryItem(ctx, it.ID)
		if err != nil {
			slog.Warn("retry stopped", slog.String("item_id", it.ID), slog.String("error", err.Error()))
			break
		}
		retried++

		snap := ctrl.Snapshot()
		ev := queue.Event{Type: queue.EventItemDone, Index: i, Item: &final, State: &snap}
		if final.Status == domain.StatusFailed {
			ev.Type = queue.EventItemFailed
			ev.Err = final.Error
		}
		obs.observe(ctx, ev)
	}
	return retried
}

func (a *app) pruneMirror(ctx context.Context, batches BatchStore) {
	if batches == nil {
		return
	}
	n, err := batches.DeleteOlderThan(ctx, time.Now(), a.di.Config().Redis.BatchTTL)
	if err != nil {
		slog.Warn("prune batch mirror", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		slog.Debug("pruned expired batches", slog.Int("count", n))
	}
}

func (a *app) Pause() {
	if ctrl := a.ctrl.Load(); ctrl != nil {
		ctrl.Pause()
	}
}

func (a *app) Resume() {
	if ctrl := a.ctrl.Load(); ctrl != nil {
		ctrl.Resume()
	}
}

func (a *app) Cancel() {
	if ctrl := a.ctrl.Load(); ctrl != nil {
		ctrl.Cancel()
	}
}

// Status reads a batch from the redis mirror.
func (a *app) Status(ctx context.Context, id string) (queue.Snapshot, bool, error) {
	batches, err := a.di.Batches(ctx)
	if err != nil {
		return queue.Snapshot{}, false, err
	}
	if batches == nil {
		return queue.Snapshot{}, false, ErrMirrorDisabled
	}
	return batches.Snapshot(ctx, id)
}

// Recent returns the newest mirrored batches, newest first.
func (a *app) Recent(ctx context.Context, limit int) ([]queue.Snapshot, error) {
	batches, err := a.di.Batches(ctx)
	if err != nil {
		return nil, err
	}
	if batches == nil {
		return nil, ErrMirrorDisabled
	}

	ids, err := batches.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]queue.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, ok, err := batches.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Prune removes result files older than maxAge and expired mirror entries.
func (a *app) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	files, err := a.di.Results(ctx)
	if err != nil {
		return 0, err
	}
	if err := files.CleanupOlderThan(ctx, maxAge); err != nil {
		return 0, err
	}

	batches, err := a.di.Batches(ctx)
	if err != nil || batches == nil {
		return 0, err
	}
	return batches.DeleteOlderThan(ctx, time.Now(), maxAge)
}

func (a *app) Health(ctx context.Context) error {
	return a.di.Client().Health(ctx)
}

func (a *app) Close(ctx context.Context) error {
	return a.di.Close(ctx)
}

type observer struct {
	ctrl     *queue.Controller
	batches  BatchStore
	pub      Publisher
	progress func(queue.Event, queue.Snapshot)
}

func (o *observer) observe(ctx context.Context, ev queue.Event) {
	var snap queue.Snapshot
	if ev.State != nil {
		snap = *ev.State
	} else {
		snap = o.ctrl.Snapshot()
	}
	o.mirror(ctx, snap)

	if o.pub != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		if err := o.pub.Publish(pctx, snap.BatchID, ev); err != nil {
			slog.Warn("publish batch event", slog.String("error", err.Error()))
		}
		cancel()
	}

	if o.progress != nil {
		o.progress(ev, snap)
	}
}

// mirror keeps saving after ctx is cancelled so the final state of a
// cancelled batch still reaches redis.
func (o *observer) mirror(ctx context.Context, snap queue.Snapshot) {
	if o.batches == nil || snap.BatchID == "" {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := o.batches.Save(mctx, snap); err != nil {
		slog.Warn("mirror batch", slog.String("batch_id", snap.BatchID), slog.String("error", err.Error()))
	}
}
