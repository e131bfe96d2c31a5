package queue

import "github.com/you-humble/amazonmain/batcher/internal/domain"

// Hooks are called on the processing goroutine, in input order, after the
// matching state change is visible through Snapshot. Any field may be nil.
type Hooks struct {
	OnItemStart  func(index int)
	OnItemDone   func(index int, item domain.QueueItem)
	OnItemFailed func(index int, item domain.QueueItem, err error)
	OnProgress   func(done, total int)
	OnQueueDone  func(success, failure int)
}

func (h Hooks) itemStart(i int) {
	if h.OnItemStart != nil {
		h.OnItemStart(i)
	}
}

func (h Hooks) itemDone(i int, item domain.QueueItem) {
	if h.OnItemDone != nil {
		h.OnItemDone(i, item)
	}
}

func (h Hooks) itemFailed(i int, item domain.QueueItem, err error) {
	if h.OnItemFailed != nil {
		h.OnItemFailed(i, item, err)
	}
}

func (h Hooks) progress(done, total int) {
	if h.OnProgress != nil {
		h.OnProgress(done, total)
	}
}

func (h Hooks) queueDone(success, failure int) {
	if h.OnQueueDone != nil {
		h.OnQueueDone(success, failure)
	}
}

// Fanout calls every set of hooks in argument order.
func Fanout(all ...Hooks) Hooks {
	return Hooks{
		OnItemStart: func(i int) {
			for _, h := range all {
				h.itemStart(i)
			}
		},
		OnItemDone: func(i int, item domain.QueueItem) {
			for _, h := range all {
				h.itemDone(i, item)
			}
		},
		OnItemFailed: func(i int, item domain.QueueItem, err error) {
			for _, h := range all {
				h.itemFailed(i, item, err)
			}
		},
		OnProgress: func(done, total int) {
			for _, h := range all {
				h.progress(done, total)
			}
		},
		OnQueueDone: func(success, failure int) {
			for _, h := range all {
				h.queueDone(success, failure)
			}
		},
	}
}

type EventType string

const (
	EventItemStarted EventType = "item_started"
	EventItemDone    EventType = "item_done"
	EventItemFailed  EventType = "item_failed"
	EventProgress    EventType = "progress"
	EventQueueDone   EventType = "queue_done"
)

type Event struct {
	Type    EventType         `json:"type"`
	Index   int               `json:"index"`
	Item    *domain.QueueItem `json:"item,omitempty"`
	Done    int               `json:"done,omitempty"`
	Total   int               `json:"total,omitempty"`
	Success int               `json:"success,omitempty"`
	Failure int               `json:"failure,omitempty"`
	Err     string            `json:"error,omitempty"`
	// State is the batch as it stood when the event fired. Set only by
	// StreamWithState.
	State *Snapshot `json:"-"`
}

// Stream turns hook calls into events on ch. Sends block, so events keep the
// hook order and none are dropped. The caller closes ch once ProcessQueue
// returns.
func Stream(ch chan<- Event) Hooks {
	return StreamWithState(ch, nil)
}

// StreamWithState is Stream with every event carrying snapshot(), taken
// inside the hook before the send. A slow reader of ch still sees the state
// that belongs to each event.
func StreamWithState(ch chan<- Event, snapshot func() Snapshot) Hooks {
	send := func(ev Event) {
		if snapshot != nil {
			snap := snapshot()
			ev.State = &snap
		}
		ch <- ev
	}
	return Hooks{
		OnItemStart: func(i int) {
			send(Event{Type: EventItemStarted, Index: i})
		},
		OnItemDone: func(i int, item domain.QueueItem) {
			send(Event{Type: EventItemDone, Index: i, Item: &item})
		},
		OnItemFailed: func(i int, item domain.QueueItem, err error) {
			ev := Event{Type: EventItemFailed, Index: i, Item: &item}
			if err != nil {
				ev.Err = err.Error()
			}
			send(ev)
		},
		OnProgress: func(done, total int) {
			send(Event{Type: EventProgress, Index: done - 1, Done: done, Total: total})
		},
		OnQueueDone: func(success, failure int) {
			send(Event{Type: EventQueueDone, Index: -1, Success: success, Failure: failure})
		},
	}
}
