package queue

import (
	"errors"
	"testing"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
)

func newTestState() *State {
	s := NewState()
	s.Init("batch", []string{"a", "b"}, []string{"i1", "i2"})
	return s
}

func TestStateEnforcesItemInvariants(t *testing.T) {
	s := newTestState()

	if _, err := s.UpdateItemStatus("i1", domain.StatusCompleted, "", domain.KindNone, ""); err == nil {
		t.Fatal("completed without result ref must fail")
	}
	if _, err := s.UpdateItemStatus("i1", domain.StatusFailed, "", domain.KindService, ""); err == nil {
		t.Fatal("failed without message must fail")
	}
	if _, err := s.UpdateItemStatus("zz", domain.StatusProcessing, "", domain.KindNone, ""); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	if _, err := s.UpdateItemStatus("i1", domain.StatusProcessing, "", domain.KindNone, ""); err != nil {
		t.Fatalf("processing i1: %v", err)
	}
	if _, err := s.UpdateItemStatus("i2", domain.StatusProcessing, "", domain.KindNone, ""); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("second processing item must be rejected, got %v", err)
	}

	failed, err := s.UpdateItemStatus("i1", domain.StatusFailed, "", domain.KindTimeout, "Request timed out. Please try again.")
	if err != nil {
		t.Fatalf("fail i1: %v", err)
	}
	if failed.ResultRef != "" || failed.Error == "" || failed.Attempts != 1 {
		t.Fatalf("unexpected failed item %+v", failed)
	}

	again, err := s.UpdateItemStatus("i1", domain.StatusProcessing, "", domain.KindNone, "")
	if err != nil {
		t.Fatalf("reprocess i1: %v", err)
	}
	if again.Error != "" || again.ErrorKind != domain.KindNone || again.Attempts != 2 {
		t.Fatalf("processing must clear the old error: %+v", again)
	}

	done, err := s.UpdateItemStatus("i1", domain.StatusCompleted, "file://out.jpg", domain.KindNone, "")
	if err != nil {
		t.Fatalf("complete i1: %v", err)
	}
	if done.ResultRef != "file://out.jpg" || done.Error != "" {
		t.Fatalf("unexpected completed item %+v", done)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestState()
	snap := s.Snapshot()
	snap.Items[0].Status = domain.StatusFailed
	snap.Items[0].Error = "mutated"

	if it, _ := s.Item("i1"); it.Status != domain.StatusPending || it.Error != "" {
		t.Fatalf("snapshot aliases state: %+v", it)
	}
	if c := s.Snapshot().Counts(); c[domain.StatusPending] != 2 {
		t.Fatalf("unexpected counts %v", c)
	}
}

func TestStateRemoveKeepsOrder(t *testing.T) {
	s := NewState()
	s.Init("batch", []string{"a", "b", "c"}, []string{"i1", "i2", "i3"})

	if err := s.Remove("i1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if it, ok := s.ItemAt(0); !ok || it.ID != "i2" {
		t.Fatalf("unexpected first item %+v", it)
	}
	if it, ok := s.Item("i3"); !ok || it.SourceRef != "c" {
		t.Fatalf("index not rebuilt: %+v", it)
	}

	if _, err := s.UpdateItemStatus("i2", domain.StatusProcessing, "", domain.KindNone, ""); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := s.Remove("i2"); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected processing item to be protected, got %v", err)
	}
}
