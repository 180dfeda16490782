// Package autosave coalesces bursts of edits to a long-lived document into
// debounced full-document saves, with at most one save in flight and an
// exit guard against losing unsaved edits.
//
// The controller is a small state machine:
//
//	idle --edit--> armed --timer--> in_flight --complete/fail--> idle
//	armed --edit--> armed (timer reset)
//	in_flight --edit--> in_flight (one follow-up save after completion)
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/logger"
)

const DefaultDelay = 1500 * time.Millisecond

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseArmed    Phase = "armed"
	PhaseInFlight Phase = "in_flight"
)

var ErrClosed = errors.New("autosave: controller closed")

// Snapshot serializes the entire current document.
type Snapshot func() ([]byte, error)

// Persister replaces the stored document with payload.
type Persister interface {
	Persist(ctx context.Context, payload []byte) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(ctx context.Context, payload []byte) error

func (f PersistFunc) Persist(ctx context.Context, payload []byte) error { return f(ctx, payload) }

type Options struct {
	// Name identifies the document in logs and errors.
	Name  string
	Delay time.Duration
	// RetryDelay schedules another attempt after a failed save when no new
	// edit arrives. Zero waits for the next edit or exit attempt.
	RetryDelay time.Duration
	// SaveTimeout bounds one persistence call. Zero means no timeout.
	SaveTimeout time.Duration
	Clock       Clock
	// OnChange is called outside the lock after every state transition.
	OnChange func(State)
}

// State is a snapshot of the controller.
type State struct {
	Phase       Phase     `json:"phase"`
	Dirty       bool      `json:"dirty"`
	InFlight    bool      `json:"in_flight"`
	LastSavedAt time.Time `json:"last_saved_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Saves       int       `json:"saves"`
}

// ExitDecision tells the caller whether leaving the document is safe.
type ExitDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type Controller struct {
	mu        sync.Mutex
	snapshot  Snapshot
	persister Persister
	opts      Options

	phase Phase
	dirty bool
	// editSeq counts edits; a save covers every edit up to the seq it started with.
	editSeq uint64

	timer    Timer
	timerGen uint64
	// idle is closed when the in-flight save resolves.
	idle chan struct{}

	lastSavedAt time.Time
	lastErr     error
	saves       int
	intentional bool
	closed      bool
}

func New(snapshot Snapshot, persister Persister, opts Options) *Controller {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	return &Controller{
		snapshot:  snapshot,
		persister: persister,
		opts:      opts,
		phase:     PhaseIdle,
	}
}

// MarkDirty records an edit and (re)arms the debounce timer. During an
// in-flight save it only schedules the follow-up save.
func (c *Controller) MarkDirty() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.dirty = true
	c.editSeq++
	c.intentional = false
	if c.phase != PhaseInFlight {
		c.arm(c.opts.Delay)
	}
	st := c.stateLocked()
	c.mu.Unlock()
	c.notify(st)
}

// Flush saves immediately if the document is dirty, waiting for an
// in-flight save first.
func (c *Controller) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.phase == PhaseInFlight {
			idle := c.idle
			c.mu.Unlock()
			select {
			case <-idle:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !c.dirty {
			c.mu.Unlock()
			return nil
		}
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		c.disarm()
		seq := c.beginSave()
		st := c.stateLocked()
		c.mu.Unlock()
		c.notify(st)
		return c.save(ctx, seq)
	}
}

// CheckExit blocks leaving while edits are not saved, unless the exit was
// marked intentional.
func (c *Controller) CheckExit() ExitDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.intentional || !c.dirty:
		return ExitDecision{Allowed: true}
	case c.phase == PhaseInFlight:
		return ExitDecision{Reason: "changes are still being saved"}
	case c.lastErr != nil:
		return ExitDecision{Reason: "last save failed: " + c.lastErr.Error()}
	default:
		return ExitDecision{Reason: "there are unsaved changes"}
	}
}

// MarkIntentionalExit lets the next exit through even with unsaved changes.
// A later edit revokes it.
func (c *Controller) MarkIntentionalExit() {
	c.mu.Lock()
	c.intentional = true
	c.mu.Unlock()
}

// SaveAndLeave flushes and then marks the exit intentional.
func (c *Controller) SaveAndLeave(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	c.MarkIntentionalExit()
	return nil
}

// Close flushes pending edits and stops the controller. Completions of
// saves started before Close are ignored afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	skip := c.intentional
	c.mu.Unlock()

	var err error
	if !skip {
		err = c.Flush(ctx)
	}

	c.mu.Lock()
	c.closed = true
	c.disarm()
	if c.phase == PhaseArmed {
		c.phase = PhaseIdle
	}
	c.mu.Unlock()
	return err
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// arm must be called with c.mu held.
func (c *Controller) arm(d time.Duration) {
	c.disarm()
	gen := c.timerGen
	c.timer = c.opts.Clock.AfterFunc(d, func() { c.fire(gen) })
	c.phase = PhaseArmed
}

// disarm must be called with c.mu held. Bumping the generation makes a
// timer that already fired but has not taken the lock yet a no-op.
func (c *Controller) disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen || c.phase != PhaseArmed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	seq := c.beginSave()
	st := c.stateLocked()
	c.mu.Unlock()
	c.notify(st)

	if err := c.save(context.Background(), seq); err != nil {
		logger.Warn("autosave failed", "document", c.opts.Name, "err", err)
	}
}

// beginSave must be called with c.mu held.
func (c *Controller) beginSave() uint64 {
	c.phase = PhaseInFlight
	c.idle = make(chan struct{})
	return c.editSeq
}

func (c *Controller) save(ctx context.Context, seq uint64) error {
	payload, err := c.snapshot()
	if err == nil {
		if c.opts.SaveTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.SaveTimeout)
			defer cancel()
		}
		err = c.persister.Persist(ctx, payload)
	}
	if err != nil {
		err = apperrors.New(apperrors.KindPersist, "persist", c.opts.Name, err)
	}
	c.finish(seq, err)
	return err
}

func (c *Controller) finish(seq uint64, err error) {
	c.mu.Lock()
	close(c.idle)
	if c.closed {
		c.phase = PhaseIdle
		c.mu.Unlock()
		logger.Debug("ignoring save completion of closed document", "document", c.opts.Name)
		return
	}

	if err == nil {
		c.saves++
		c.lastSavedAt = c.opts.Clock.Now()
		c.lastErr = nil
		if c.editSeq == seq {
			c.dirty = false
		}
	} else {
		c.lastErr = err
	}

	switch {
	case c.editSeq != seq:
		// edits arrived while saving: exactly one follow-up save
		c.arm(c.opts.Delay)
	case err != nil && c.opts.RetryDelay > 0:
		c.arm(c.opts.RetryDelay)
	default:
		c.phase = PhaseIdle
	}
	st := c.stateLocked()
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) stateLocked() State {
	st := State{
		Phase:       c.phase,
		Dirty:       c.dirty,
		InFlight:    c.phase == PhaseInFlight,
		LastSavedAt: c.lastSavedAt,
		Saves:       c.saves,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Controller) notify(st State) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(st)
	}
}
