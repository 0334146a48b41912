package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/matching"
	"github.com/stockexchange/matchd/internal/model"
	"github.com/stockexchange/matchd/internal/store"
)

type noopPersister struct{}

func (noopPersister) ApplyFill(ctx context.Context, p store.ApplyFillParams) error { return nil }

type fakeLog struct {
	mu       sync.Mutex
	messages []model.Message
}

func (f *fakeLog) AppendMessage(ctx context.Context, m model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestControllerRunsThroughAllPhasesToClosed(t *testing.T) {
	engine := matching.New(noopPersister{}, clock.NewAllocator(1), clock.NewAllocator(1), clock.Now)
	fl := &fakeLog{}
	d := Durations{
		PreOpen:    5 * time.Millisecond,
		Open:       0,
		Continuous: 10 * time.Millisecond,
		Loop:       0,
		PreClose:   5 * time.Millisecond,
	}
	c := New(engine, fl, clock.NewAllocator(1), d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("controller did not reach Closed in time")
	}

	if c.Phase() != Closed {
		t.Fatalf("phase = %v, want Closed", c.Phase())
	}
	// PreOpen, OpenFixing, Continuous, PreClose, CloseFixing = 5 phase logs.
	if fl.count() != 5 {
		t.Fatalf("logged %d phase transitions, want 5", fl.count())
	}
}

func TestContinuousActiveOnlyDuringContinuousPhase(t *testing.T) {
	engine := matching.New(noopPersister{}, clock.NewAllocator(1), clock.NewAllocator(1), clock.Now)
	fl := &fakeLog{}
	d := Durations{
		PreOpen:    5 * time.Millisecond,
		Continuous: 20 * time.Millisecond,
		PreClose:   5 * time.Millisecond,
	}
	c := New(engine, fl, clock.NewAllocator(1), d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if c.Phase() == Continuous {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if c.Phase() != Continuous {
		t.Fatal("never observed Continuous phase")
	}
	if !c.IsContinuousActive() {
		t.Fatal("continuous should be active during the Continuous phase")
	}

	for time.Now().Before(deadline) {
		if c.Phase() == PreClose {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if c.IsContinuousActive() {
		t.Fatal("continuous should be inactive once PreClose begins")
	}
}
