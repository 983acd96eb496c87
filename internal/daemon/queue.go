package daemon

import (
	"context"
	"sync"
	"time"
)

// Source is what produced a trigger.
type Source string

const (
	SourceManual   Source = "manual"
	SourceMonitor  Source = "monitor"
	SourceSchedule Source = "schedule"
)

// Trigger is a request for one snapshot.
type Trigger struct {
	Source Source    `json:"source"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
	// Message and Tags come from manual triggers only.
	Message string   `json:"message,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Queue serializes triggers. A trigger offered while another is pending or
// in flight is coalesced: it is dropped and counted, since the snapshot
// already scheduled or running covers its changes.
type Queue struct {
	mu       sync.Mutex
	pending  *Trigger
	inFlight *Trigger
	dropped  int
	ready    chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Offer enqueues t unless a trigger is already pending or in flight. It
// reports whether t was accepted.
func (q *Queue) Offer(t Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending != nil || q.inFlight != nil {
		q.dropped++
		return false
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	q.pending = &t
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a trigger is pending and marks it in flight. Only one
// consumer may call Next, and it must call Done before calling Next again.
func (q *Queue) Next(ctx context.Context) (Trigger, error) {
	for {
		q.mu.Lock()
		if q.pending != nil {
			t := q.pending
			q.pending = nil
			q.inFlight = t
			q.mu.Unlock()
			return *t, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Trigger{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Done clears the in-flight trigger.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight = nil
}

// QueueState is a point-in-time view of the queue.
type QueueState struct {
	InFlight *Trigger
	Pending  *Trigger
	Dropped  int
}

// State returns copies of the in-flight and pending triggers.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueState{Dropped: q.dropped}
	if q.inFlight != nil {
		t := *q.inFlight
		st.InFlight = &t
	}
	if q.pending != nil {
		t := *q.pending
		st.Pending = &t
	}
	return st
}
