package daemon

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_CoalescesPending(t *testing.T) {
	q := NewQueue()
	if !q.Offer(Trigger{Source: SourceMonitor, Reason: "first"}) {
		t.Fatal("first offer should be accepted")
	}
	if q.Offer(Trigger{Source: SourceSchedule}) {
		t.Fatal("second offer should be dropped while one is pending")
	}

	got, err := q.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Reason != "first" {
		t.Errorf("Next returned %q, want the first trigger", got.Reason)
	}
	if got.At.IsZero() {
		t.Error("At should be stamped on offer")
	}

	st := q.State()
	if st.InFlight == nil || st.InFlight.Reason != "first" {
		t.Errorf("InFlight = %+v", st.InFlight)
	}
	if st.Pending != nil {
		t.Errorf("Pending = %+v, want none", st.Pending)
	}
	if st.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", st.Dropped)
	}
}

func TestQueue_DropsWhileInFlight(t *testing.T) {
	q := NewQueue()
	q.Offer(Trigger{Source: SourceMonitor, Reason: "first"})
	if _, err := q.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}

	if q.Offer(Trigger{Source: SourceManual}) {
		t.Fatal("offer should be dropped while a snapshot is in flight")
	}
	st := q.State()
	if st.Pending != nil {
		t.Errorf("Pending = %+v, want none", st.Pending)
	}
	if st.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", st.Dropped)
	}

	q.Done()
	if q.State().InFlight != nil {
		t.Error("Done should clear the in-flight trigger")
	}
	if !q.Offer(Trigger{Source: SourceManual, Reason: "after"}) {
		t.Fatal("offer should be accepted once the queue is idle")
	}
	got, err := q.Next(context.Background())
	if err != nil || got.Reason != "after" {
		t.Errorf("Next = %+v, %v", got, err)
	}
}

func TestQueue_NextWaits(t *testing.T) {
	q := NewQueue()
	got := make(chan Trigger, 1)
	go func() {
		tr, err := q.Next(context.Background())
		if err == nil {
			got <- tr
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Offer(Trigger{Source: SourceManual, Message: "hello"})

	select {
	case tr := <-got:
		if tr.Message != "hello" {
			t.Errorf("Message = %q", tr.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Offer")
	}
}

func TestQueue_NextCancelled(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next error = %v, want context.Canceled", err)
	}
}
