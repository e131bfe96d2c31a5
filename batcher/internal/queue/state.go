package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhasePaused     Phase = "paused"
	PhaseCancelling Phase = "cancelling"
	PhaseDone       Phase = "done"
)

// Snapshot is a deep copy of the queue state. Nothing in it aliases the
// controller's data.
type Snapshot struct {
	BatchID string             `json:"batch_id"`
	Items   []domain.QueueItem `json:"items"`
	Cursor  int                `json:"cursor"`
	Running bool               `json:"running"`
	Paused  bool               `json:"paused"`
	Phase   Phase              `json:"phase"`
}

// Counts returns how many items sit in each status.
func (s Snapshot) Counts() map[domain.Status]int {
	out := make(map[domain.Status]int, 4)
	for _, it := range s.Items {
		out[it.Status]++
	}
	return out
}

// State is the mutex-guarded batch aggregate. Only the Controller holds a
// *State; everyone else reads Snapshots.
type State struct {
	mu sync.RWMutex

	batchID string
	items   []domain.QueueItem
	pos     map[string]int
	cursor  int
	running bool
	paused  bool
	phase   Phase

	now func() time.Time
}

func NewState() *State {
	return &State{
		pos:    map[string]int{},
		cursor: -1,
		phase:  PhaseIdle,
		now:    time.Now,
	}
}

// Init replaces the batch with one pending item per ref. ids must match refs
// one to one.
func (s *State) Init(batchID string, refs, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.batchID = batchID
	s.items = make([]domain.QueueItem, len(refs))
	s.pos = make(map[string]int, len(refs))
	for i, ref := range refs {
		s.items[i] = domain.QueueItem{
			ID:         ids[i],
			SourceRef:  ref,
			Status:     domain.StatusPending,
			EnqueuedAt: now,
			UpdatedAt:  now,
		}
		s.pos[ids[i]] = i
	}
	s.cursor = -1
	s.paused = false
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.QueueItem, len(s.items))
	copy(items, s.items)
	return Snapshot{
		BatchID: s.batchID,
		Items:   items,
		Cursor:  s.cursor,
		Running: s.running,
		Paused:  s.paused,
		Phase:   s.phase,
	}
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *State) Item(id string) (domain.QueueItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.pos[id]
	if !ok {
		return domain.QueueItem{}, false
	}
	return s.items[i], true
}

func (s *State) ItemAt(index int) (domain.QueueItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.items) {
		return domain.QueueItem{}, false
	}
	return s.items[index], true
}

// UpdateItemStatus moves one item and keeps the per-item invariants:
// ResultRef is set only on completed items, Error only on failed ones, and at
// most one item is processing.
func (s *State) UpdateItemStatus(
	id string,
	status domain.Status,
	resultRef string,
	kind domain.ErrorKind,
	errMsg string,
) (domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.pos[id]
	if !ok {
		return domain.QueueItem{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	item := s.items[i]

	switch status {
	case domain.StatusPending:
		item.ResultRef, item.Error, item.ErrorKind = "", "", domain.KindNone
	case domain.StatusProcessing:
		for j := range s.items {
			if j != i && s.items[j].Status == domain.StatusProcessing {
				return domain.QueueItem{}, fmt.Errorf("%w: item %s is processing", domain.ErrBusy, s.items[j].ID)
			}
		}
		item.ResultRef, item.Error, item.ErrorKind = "", "", domain.KindNone
		item.Attempts++
	case domain.StatusCompleted:
		if resultRef == "" {
			return domain.QueueItem{}, fmt.Errorf("completed item %s needs a result ref", id)
		}
		item.ResultRef, item.Error, item.ErrorKind = resultRef, "", domain.KindNone
	case domain.StatusFailed:
		if errMsg == "" {
			return domain.QueueItem{}, fmt.Errorf("failed item %s needs an error message", id)
		}
		item.ResultRef, item.Error, item.ErrorKind = "", errMsg, kind
	default:
		return domain.QueueItem{}, fmt.Errorf("unknown status %q", status)
	}

	item.Status = status
	item.UpdatedAt = s.now()
	s.items[i] = item
	return item, nil
}

// Restore puts back a previously read copy of an item, used when an
// in-flight call is abandoned.
func (s *State) Restore(item domain.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.pos[item.ID]; ok {
		s.items[i] = item
	}
}

func (s *State) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.pos[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	if s.items[i].Status == domain.StatusProcessing {
		return fmt.Errorf("%w: item %s is processing", domain.ErrBusy, id)
	}

	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.pos, id)
	for j := i; j < len(s.items); j++ {
		s.pos[s.items[j].ID] = j
	}
	return nil
}

func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batchID = ""
	s.items = nil
	s.pos = map[string]int{}
	s.cursor = -1
	s.running = false
	s.paused = false
	s.phase = PhaseIdle
}

func (s *State) setCursor(i int) {
	s.mu.Lock()
	s.cursor = i
	s.mu.Unlock()
}

func (s *State) setRun(running, paused bool, phase Phase) {
	s.mu.Lock()
	s.running = running
	s.paused = paused
	s.phase = phase
	s.mu.Unlock()
}
