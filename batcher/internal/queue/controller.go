// Package queue drives a batch of source images through the finishing server
// one at a time, with pause, resume, cancel and per-item retry.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/domain"

	"github.com/google/uuid"
)

type SourceLoader interface {
	Load(ctx context.Context, ref string) (data []byte, filename string, err error)
}

type Transformer interface {
	Transform(ctx context.Context, image []byte, filename string) (domain.FinishedImage, error)
}

// ResultStore persists a finished image and returns the reference recorded on
// the item.
type ResultStore interface {
	Store(ctx context.Context, item domain.QueueItem, img domain.FinishedImage) (string, error)
}

type Tally struct {
	Success   int
	Failure   int
	Cancelled bool
}

type Controller struct {
	state       *State
	loader      SourceLoader
	transformer Transformer
	results     ResultStore
	newID       func() string

	// slot is the single worker: whoever holds it may have an item processing.
	slot chan struct{}

	mu        sync.Mutex
	running   bool
	paused    bool
	cancelled bool
	wake      chan struct{}
	stop      chan struct{}
	abort     context.CancelFunc
}

type Option func(*Controller)

// WithIDFunc replaces uuid generation for item and batch ids.
func WithIDFunc(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func NewController(loader SourceLoader, transformer Transformer, results ResultStore, opts ...Option) *Controller {
	c := &Controller{
		state:       NewState(),
		loader:      loader,
		transformer: transformer,
		results:     results,
		newID:       uuid.NewString,
		slot:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessQueue creates a batch from refs and processes it in order. It
// returns once every item was visited or the batch was cancelled; per-item
// failures are recorded on the items and counted in the tally.
func (c *Controller) ProcessQueue(ctx context.Context, refs []string, hooks Hooks) (Tally, error) {
	if len(refs) == 0 {
		return Tally{}, domain.ErrEmptyBatch
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return Tally{}, domain.ErrBusy
	}
	c.running = true
	c.paused = false
	c.cancelled = false
	c.wake = make(chan struct{})
	c.stop = make(chan struct{})
	c.abort = abort
	c.mu.Unlock()

	// a retry of the previous batch may still hold the slot; its item must
	// not be swapped out underneath it
	if !c.acquire(runCtx) {
		c.mu.Lock()
		c.running = false
		c.abort = nil
		c.mu.Unlock()
		c.state.setRun(false, false, PhaseDone)
		return Tally{Cancelled: true}, ctx.Err()
	}
	batchID := c.newID()
	ids := make([]string, len(refs))
	for i := range ids {
		ids[i] = c.newID()
	}
	c.state.Init(batchID, refs, ids)
	c.state.setRun(true, false, PhaseRunning)
	c.release()

	logger := slog.With(slog.String("batch_id", batchID))
	logger.Info("batch started", slog.Int("items", len(refs)))
	start := time.Now()

	var tally Tally
	total := len(refs)
	for i := 0; i < total; i++ {
		if c.stopRequested(runCtx) || !c.waitWhilePaused(runCtx) || !c.acquire(runCtx) {
			break
		}

		pending, ok := c.state.ItemAt(i)
		if !ok {
			c.release()
			break
		}
		c.state.setCursor(i)
		started, err := c.state.UpdateItemStatus(pending.ID, domain.StatusProcessing, "", domain.KindNone, "")
		if err != nil {
			c.release()
			logger.Error("mark processing", slog.Int("index", i), slog.String("error", err.Error()))
			break
		}
		hooks.itemStart(i)

		final, aborted, itemErr := c.execute(runCtx, started)
		c.release()
		if aborted {
			c.state.Restore(pending)
			logger.Info("in-flight item abandoned", slog.Int("index", i), slog.String("item_id", pending.ID))
			break
		}

		if itemErr == nil {
			tally.Success++
			hooks.itemDone(i, final)
		} else {
			tally.Failure++
			logger.Warn("item failed",
				slog.Int("index", i),
				slog.String("item_id", final.ID),
				slog.String("kind", string(final.ErrorKind)),
				slog.String("error", itemErr.Error()),
			)
			hooks.itemFailed(i, final, itemErr)
		}
		hooks.progress(tally.Success+tally.Failure, total)
	}

	c.mu.Lock()
	tally.Cancelled = c.cancelled || ctx.Err() != nil
	c.running = false
	c.paused = false
	c.abort = nil
	c.mu.Unlock()

	c.state.setCursor(-1)
	c.state.setRun(false, false, PhaseDone)

	logger.Info("batch finished",
		slog.Int("success", tally.Success),
		slog.Int("failure", tally.Failure),
		slog.Bool("cancelled", tally.Cancelled),
		slog.String("duration", time.Since(start).Round(time.Millisecond).String()),
	)
	hooks.queueDone(tally.Success, tally.Failure)
	return tally, nil
}

// Pause holds the loop before the next item. The item in flight finishes.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.paused || c.cancelled {
		return
	}
	c.paused = true
	c.wake = make(chan struct{})
	c.state.setRun(true, true, PhasePaused)
}

func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.wake)
	c.state.setRun(true, false, PhaseRunning)
}

// Cancel stops the batch: a paused loop wakes up and exits, and the item in
// flight is abandoned and returned to pending.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.cancelled {
		return
	}
	c.cancelled = true
	close(c.stop)
	if c.paused {
		c.paused = false
		close(c.wake)
	}
	c.state.setRun(true, false, PhaseCancelling)
	if c.abort != nil {
		c.abort()
	}
}

// RetryItem drives one completed or failed item through the pipeline again.
// The returned item carries the new outcome; the error is reserved for items
// that cannot be retried or a ctx that ends first.
func (c *Controller) RetryItem(ctx context.Context, id string) (domain.QueueItem, error) {
	if err := c.retryable(id); err != nil {
		return domain.QueueItem{}, err
	}
	if !c.acquire(ctx) {
		return domain.QueueItem{}, ctx.Err()
	}
	defer c.release()

	// the item may have moved while waiting for the slot
	if err := c.retryable(id); err != nil {
		return domain.QueueItem{}, err
	}
	prev, _ := c.state.Item(id)

	started, err := c.state.UpdateItemStatus(id, domain.StatusProcessing, "", domain.KindNone, "")
	if err != nil {
		return domain.QueueItem{}, err
	}
	final, aborted, itemErr := c.execute(ctx, started)
	if aborted {
		c.state.Restore(prev)
		return prev, ctx.Err()
	}

	logger := slog.With(slog.String("item_id", id), slog.Int("attempts", final.Attempts))
	if itemErr != nil {
		logger.Warn("retry failed", slog.String("error", itemErr.Error()))
	} else {
		logger.Info("retry completed", slog.String("result", final.ResultRef))
	}
	return final, nil
}

func (c *Controller) Snapshot() Snapshot {
	return c.state.Snapshot()
}

func (c *Controller) Item(id string) (domain.QueueItem, bool) {
	return c.state.Item(id)
}

// RemoveItem drops an item from an idle batch.
func (c *Controller) RemoveItem(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return domain.ErrBusy
	}
	return c.state.Remove(id)
}

// Reset discards the batch. Rejected while a batch is running.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return domain.ErrBusy
	}
	c.state.Reset()
	return nil
}

func (c *Controller) retryable(id string) error {
	item, ok := c.state.Item(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	if !item.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrNotRetryable, id, item.Status)
	}
	return nil
}

// execute runs load, transform and store for an item already marked
// processing. aborted is true when ctx ended mid-way; the item is then left
// for the caller to restore.
func (c *Controller) execute(ctx context.Context, item domain.QueueItem) (domain.QueueItem, bool, error) {
	err := c.run(ctx, item)
	if err == nil {
		return c.lastState(item.ID), false, nil
	}
	if ctx.Err() != nil {
		return item, true, ctx.Err()
	}

	failed, uerr := c.state.UpdateItemStatus(item.ID, domain.StatusFailed, "", domain.Classify(err), domain.Message(err))
	if uerr != nil {
		slog.Error("mark failed", slog.String("item_id", item.ID), slog.String("error", uerr.Error()))
		return item, false, err
	}
	return failed, false, err
}

func (c *Controller) run(ctx context.Context, item domain.QueueItem) error {
	data, filename, err := c.loader.Load(ctx, item.SourceRef)
	if err != nil {
		return wrapKind(domain.ErrSource, err)
	}

	img, err := c.transformer.Transform(ctx, data, filename)
	if err != nil {
		return err
	}

	ref, err := c.results.Store(ctx, item, img)
	if err != nil {
		return wrapKind(domain.ErrStorage, err)
	}

	if _, err := c.state.UpdateItemStatus(item.ID, domain.StatusCompleted, ref, domain.KindNone, ""); err != nil {
		return wrapKind(domain.ErrStorage, err)
	}
	return nil
}

func (c *Controller) lastState(id string) domain.QueueItem {
	item, _ := c.state.Item(id)
	return item
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled || ctx.Err() != nil
}

// waitWhilePaused blocks until the batch is resumed. It reports false when
// the batch was cancelled instead.
func (c *Controller) waitWhilePaused(ctx context.Context) bool {
	for {
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return false
		}
		if !c.paused {
			c.mu.Unlock()
			return ctx.Err() == nil
		}
		wake, stop := c.wake, c.stop
		c.mu.Unlock()

		select {
		case <-wake:
		case <-stop:
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Controller) acquire(ctx context.Context) bool {
	select {
	case c.slot <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) release() {
	<-c.slot
}

func wrapKind(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
