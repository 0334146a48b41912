// Package session implements the trading-day state machine: the controller
// that steps through PreOpen, OpenFixing, Continuous, PreClose, CloseFixing,
// and Closed, invoking the matcher at the right points. Grounded in the
// reference deployment's StressController phase-timer loop (engine/stress.go)
// and the retention job's ticker-driven background loop (persist/retention.go),
// re-targeted from a market-data tick generator to a market session clock.
package session

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/stockexchange/matchd/internal/matching"
	"github.com/stockexchange/matchd/internal/model"
)

// Phase is one state of the trading-day state machine.
type Phase int

const (
	PreOpen Phase = iota
	OpenFixing
	Continuous
	PreClose
	CloseFixing
	Closed
)

func (p Phase) String() string {
	switch p {
	case PreOpen:
		return "PreOpen"
	case OpenFixing:
		return "OpenFixing"
	case Continuous:
		return "Continuous"
	case PreClose:
		return "PreClose"
	case CloseFixing:
		return "CloseFixing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Durations configures how long each timed phase lasts and how often the
// Continuous phase polls. OpenFixing runs the fixing procedure once and then
// waits Open before advancing; CloseFixing runs it once and advances
// immediately. Neither has a poll loop.
type Durations struct {
	PreOpen    time.Duration
	Open       time.Duration
	Continuous time.Duration
	Loop       time.Duration
	PreClose   time.Duration
}

// MessageLog is the narrow persistence capability the controller needs:
// appending phase-transition audit entries.
type MessageLog interface {
	AppendMessage(ctx context.Context, m model.Message) error
}

// Controller runs the session state machine on its own goroutine. It is the
// only writer of the active-phase and continuous-active flags; readers
// (the dispatcher, deciding whether to attempt a continuous match) use
// Phase() and IsContinuousActive(), both safe for concurrent use.
type Controller struct {
	engine *matching.Engine
	log    MessageLog
	msgIDs IDAllocator
	d      Durations

	phase      atomic.Int32
	continuous atomic.Bool
}

// IDAllocator is the narrow slice of clock.Allocator the controller needs to
// stamp its own audit messages.
type IDAllocator interface {
	Next() uint64
}

// New creates a session controller starting in PreOpen.
func New(engine *matching.Engine, log MessageLog, msgIDs IDAllocator, d Durations) *Controller {
	c := &Controller{engine: engine, log: log, msgIDs: msgIDs, d: d}
	c.phase.Store(int32(PreOpen))
	return c
}

// Phase returns the current phase. Safe for concurrent use.
func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// IsContinuousActive reports whether the dispatcher may attempt a
// single-flight continuous match right now.
func (c *Controller) IsContinuousActive() bool { return c.continuous.Load() }

// Run drives the state machine to completion (Closed) or until ctx is
// cancelled. It blocks; callers run it on its own goroutine.
func (c *Controller) Run(ctx context.Context) {
	phases := []struct {
		phase    Phase
		duration time.Duration
		enter    func(context.Context)
	}{
		{PreOpen, c.d.PreOpen, c.enterPreOpen},
		{OpenFixing, c.d.Open, c.enterOpenFixing},
		{Continuous, c.d.Continuous, c.enterContinuous},
		{PreClose, c.d.PreClose, c.enterPreClose},
		{CloseFixing, 0, c.enterCloseFixing},
	}

	for _, p := range phases {
		if ctx.Err() != nil {
			return
		}
		c.phase.Store(int32(p.phase))
		p.enter(ctx)
		if p.duration > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.duration):
			}
		}
	}

	c.phase.Store(int32(Closed))
	log.Printf("session: reached Closed")
}

func (c *Controller) enterPreOpen(ctx context.Context) {
	log.Printf("session: entering PreOpen")
	c.logPhase(ctx, model.MsgPreOpenPhase)
}

func (c *Controller) enterOpenFixing(ctx context.Context) {
	log.Printf("session: entering OpenFixing")
	c.logPhase(ctx, model.MsgOpenPhase)
	if err := c.engine.RunFixingAll(ctx); err != nil {
		log.Printf("session: open fixing error: %v", err)
	}
}

func (c *Controller) enterContinuous(ctx context.Context) {
	log.Printf("session: entering Continuous")
	c.logPhase(ctx, model.MsgContinuousTradingPhase)
	c.continuous.Store(true)
	if c.d.Loop <= 0 {
		return
	}
	go c.pollContinuous(ctx)
}

// pollContinuous is a safety net: it re-triggers a single-flight continuous
// pass for every security on a fixed interval for the life of the
// Continuous phase, so a security with no fresh MARKET arrivals near phase
// end still gets a final opportunistic match attempt. Arrivals during the
// phase trigger their own opportunistic passes via the dispatcher; this
// loop never races with those because TriggerContinuous collapses
// concurrent callers onto one in-flight pass per security.
func (c *Controller) pollContinuous(ctx context.Context) {
	ticker := time.NewTicker(c.d.Loop)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Phase() != Continuous {
				return
			}
			for _, actionID := range c.engine.Securities() {
				if _, err := c.engine.TriggerContinuous(ctx, actionID); err != nil {
					log.Printf("session: continuous poll error for action %d: %v", actionID, err)
				}
			}
		}
	}
}

func (c *Controller) enterPreClose(ctx context.Context) {
	log.Printf("session: entering PreClose")
	c.continuous.Store(false)
	c.logPhase(ctx, model.MsgPreClosePhase)
}

func (c *Controller) enterCloseFixing(ctx context.Context) {
	log.Printf("session: entering CloseFixing")
	c.logPhase(ctx, model.MsgClosePhase)
	if err := c.engine.RunFixingAll(ctx); err != nil {
		log.Printf("session: close fixing error: %v", err)
	}
}

func (c *Controller) logPhase(ctx context.Context, t model.MessageType) {
	if c.log == nil {
		return
	}
	msg := model.Message{ID: c.msgIDs.Next(), Sender: model.SenderServer, Type: t, Payload: string(t)}
	if err := c.log.AppendMessage(ctx, msg); err != nil {
		log.Printf("session: failed to log phase transition %s: %v", t, err)
	}
}
