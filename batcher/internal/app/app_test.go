package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
	"github.com/you-humble/amazonmain/batcher/internal/infra/config"
	"github.com/you-humble/amazonmain/batcher/internal/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/flock"
)

// flakyServer fails the first upload of every file named in failOnce.
func flakyServer(t *testing.T, failOnce ...string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	pending := map[string]bool{}
	for _, name := range failOnce {
		pending[name] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/amazon-main", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}

		mu.Lock()
		fail := pending[header.Filename]
		delete(pending, header.Filename)
		mu.Unlock()

		if fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"AI did not return an image. Please try again."}`))
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg:" + header.Filename))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, serverURL, redisAddr string) *config.Config {
	t.Helper()
	return &config.Config{
		ServerURL:      serverURL,
		RequestTimeout: 5 * time.Second,
		LogLevel:       "error",
		Results: config.Results{
			BaseDir:       filepath.Join(t.TempDir(), "results"),
			QueueCapacity: 4,
			PoolSize:      1,
		},
		Redis: config.Redis{Addr: redisAddr, BatchTTL: time.Hour},
	}
}

func writeSources(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	refs := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("photo"), 0o644); err != nil {
			t.Fatalf("write source: %v", err)
		}
		refs = append(refs, path)
	}
	return refs
}

func TestRunMirrorsBatchAndRetriesFailures(t *testing.T) {
	srv := flakyServer(t, "b.jpg")
	mr := miniredis.RunT(t)
	a := New(testConfig(t, srv.URL, mr.Addr()))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	var seen []queue.EventType
	report, err := a.Run(context.Background(), writeSources(t, "a.jpg", "b.jpg", "c.jpg"), RunOptions{
		RetryFailed: true,
		Progress: func(ev queue.Event, _ queue.Snapshot) {
			seen = append(seen, ev.Type)
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Tally.Success != 2 || report.Tally.Failure != 1 || report.Retried != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, it := range report.Snapshot.Items {
		if it.Status != domain.StatusCompleted {
			t.Fatalf("item %s ended %s", it.SourceRef, it.Status)
		}
		data, err := os.ReadFile(it.ResultRef)
		if err != nil {
			t.Fatalf("read result: %v", err)
		}
		if want := "jpeg:" + filepath.Base(it.SourceRef); string(data) != want {
			t.Fatalf("result %q, want %q", data, want)
		}
	}
	if report.Snapshot.Items[1].Attempts != 2 {
		t.Fatalf("retried item attempts %d", report.Snapshot.Items[1].Attempts)
	}

	if len(seen) == 0 || seen[len(seen)-1] != queue.EventItemDone {
		t.Fatalf("unexpected event order %v", seen)
	}

	snap, ok, err := a.Status(context.Background(), report.Snapshot.BatchID)
	if err != nil || !ok {
		t.Fatalf("Status: ok=%v err=%v", ok, err)
	}
	if snap.Running || snap.Phase != queue.PhaseDone || snap.Counts()[domain.StatusCompleted] != 3 {
		t.Fatalf("unexpected mirrored snapshot %+v", snap)
	}

	recent, err := a.Recent(context.Background(), 5)
	if err != nil || len(recent) != 1 || recent[0].BatchID != report.Snapshot.BatchID {
		t.Fatalf("Recent: %v %+v", err, recent)
	}
}

func TestProgressSeesStateOfEachEvent(t *testing.T) {
	srv := flakyServer(t)
	a := New(testConfig(t, srv.URL, ""))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	checked := 0
	_, err := a.Run(context.Background(), writeSources(t, "a.jpg", "b.jpg", "c.jpg", "d.jpg"), RunOptions{
		Progress: func(ev queue.Event, snap queue.Snapshot) {
			// a slow reader lets the batch run ahead of the events
			time.Sleep(20 * time.Millisecond)
			if ev.Type != queue.EventItemDone {
				return
			}
			checked++
			for j, it := range snap.Items {
				want := domain.StatusPending
				if j <= ev.Index {
					want = domain.StatusCompleted
				}
				if it.Status != want {
					t.Errorf("item_done %d: item %d is %s, want %s", ev.Index, j, it.Status, want)
				}
			}
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if checked != 4 {
		t.Fatalf("saw %d item_done events, want 4", checked)
	}
}

func TestRunWithoutMirror(t *testing.T) {
	srv := flakyServer(t)
	a := New(testConfig(t, srv.URL, ""))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	report, err := a.Run(context.Background(), writeSources(t, "a.jpg"), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Tally.Success != 1 {
		t.Fatalf("unexpected tally %+v", report.Tally)
	}

	if _, _, err := a.Status(context.Background(), report.Snapshot.BatchID); !errors.Is(err, ErrMirrorDisabled) {
		t.Fatalf("expected ErrMirrorDisabled, got %v", err)
	}
	if err := a.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestRunRejectsEmptyBatch(t *testing.T) {
	srv := flakyServer(t)
	a := New(testConfig(t, srv.URL, ""))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if _, err := a.Run(context.Background(), nil, RunOptions{}); !errors.Is(err, domain.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestPruneRemovesOldResults(t *testing.T) {
	srv := flakyServer(t)
	a := New(testConfig(t, srv.URL, ""))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	report, err := a.Run(context.Background(), writeSources(t, "a.jpg"), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	path := report.Snapshot.Items[0].ResultRef
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if _, err := a.Prune(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("old result must be removed, stat err %v", err)
	}
}

func TestRunPauseAfter(t *testing.T) {
	srv := flakyServer(t)
	a := New(testConfig(t, srv.URL, ""))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	type result struct {
		report Report
		err    error
	}
	refs := writeSources(t, "a.jpg", "b.jpg", "c.jpg")
	done := make(chan result, 1)
	go func() {
		r, err := a.Run(context.Background(), refs, RunOptions{PauseAfter: 1})
		done <- result{r, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		if ctrl := a.ctrl.Load(); ctrl != nil {
			snap := ctrl.Snapshot()
			if snap.Paused && snap.Counts()[domain.StatusCompleted] == 1 {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatal("batch never paused")
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case <-done:
		t.Fatal("run finished while paused")
	case <-time.After(50 * time.Millisecond):
	}

	a.Resume()
	select {
	case r := <-done:
		if r.err != nil || r.report.Tally.Success != 3 {
			t.Fatalf("unexpected result %+v %v", r.report, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func TestRunRejectsLockedResults(t *testing.T) {
	srv := flakyServer(t)
	cfg := testConfig(t, srv.URL, "")
	a := New(cfg)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	held := flock.New(filepath.Clean(cfg.Results.BaseDir) + ".lock")
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	if _, err := a.Run(context.Background(), writeSources(t, "a.jpg"), RunOptions{}); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}
