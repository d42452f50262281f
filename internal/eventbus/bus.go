// Package eventbus fans dispatch run events out to in-process observers
// (notifier, control API streams) without letting a slow observer stall a run.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"sheetmail/internal/dispatch"
)

type Type string

const (
	RunStarted  Type = "run.started"
	RunOutcome  Type = "run.outcome"
	RunFinished Type = "run.finished"
)

// Event is one run lifecycle signal.
//
// Publish never blocks. A subscriber whose buffer is full misses the event
// and the bus counts it in Dropped.
type Event struct {
	Type    Type              `json:"type"`
	Time    time.Time         `json:"time"`
	GroupID string            `json:"group_id"`
	RunID   string            `json:"run_id"`
	Outcome *dispatch.Outcome `json:"outcome,omitempty"`
	Status  *dispatch.Status  `json:"status,omitempty"`
}

type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

type sub struct {
	ch     chan Event
	filter func(Event) bool
}

func New() *Bus {
	return &Bus{subs: map[uint64]*sub{}}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered receiver. filter may be nil to receive everything.
// The channel is closed by unsubscribe.
func (b *Bus) Subscribe(buffer int, filter func(Event) bool) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &sub{ch: make(chan Event, buffer), filter: filter}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Hooks adapts the bus to registry lifecycle hooks.
func (b *Bus) Hooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnStart: func(st dispatch.Status) {
			b.Publish(Event{Type: RunStarted, GroupID: st.GroupID, RunID: st.RunID, Status: &st})
		},
		OnOutcome: func(groupID, runID string, o dispatch.Outcome) {
			b.Publish(Event{Type: RunOutcome, GroupID: groupID, RunID: runID, Outcome: &o})
		},
		OnFinish: func(st dispatch.Status) {
			b.Publish(Event{Type: RunFinished, GroupID: st.GroupID, RunID: st.RunID, Status: &st})
		},
	}
}

// ForGroup filters events of a single group.
func ForGroup(id string) func(Event) bool {
	return func(e Event) bool { return e.GroupID == id }
}
