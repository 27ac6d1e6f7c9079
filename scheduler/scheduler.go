// Package scheduler is the Timer/scheduler facade the engine uses for every
// delayed action: subscribe/unsubscribe ACK watchdogs, connect-retry
// backoff, and reattach backoff. It wraps a github.com/juju/clock.Clock so
// production code runs on the wall clock while tests substitute
// github.com/juju/clock/testclock and drive time deterministically instead
// of sleeping.
package scheduler

import (
	"time"

	"github.com/juju/clock"
)

// Timer is a cancelable, one-shot delayed action.
type Timer interface {
	// Cancel stops the timer. Returns false if it already fired or was
	// already canceled.
	Cancel() bool
}

type timer struct {
	inner  clock.Timer
	cancel chan struct{}
	fired  chan struct{} // closed once the timer has fired or been canceled
}

func (t *timer) Cancel() bool {
	select {
	case <-t.fired:
		return false
	default:
	}
	select {
	case t.cancel <- struct{}{}:
		t.inner.Stop()
		return true
	case <-t.fired:
		return false
	}
}

// Scheduler schedules delayed callbacks on top of a clock.Clock.
type Scheduler struct {
	clock clock.Clock
}

// New constructs a Scheduler backed by the given clock. Production callers
// pass clock.WallClock; tests pass a *testclock.Clock and drive it with
// Advance.
func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.WallClock
	}
	return &Scheduler{clock: c}
}

// Now returns the scheduler's notion of the current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Clock exposes the underlying clock.Clock, so callers that need to hand
// it to another clock-aware library (github.com/juju/retry, notably) share
// exactly the same notion of time as this scheduler's watchdogs.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// After arms fn to run, on its own goroutine, once delay has elapsed. The
// returned Timer can cancel the action before it fires; canceling after it
// has already fired is a harmless no-op.
func (s *Scheduler) After(delay time.Duration, fn func()) Timer {
	t := &timer{
		inner:  s.clock.NewTimer(delay),
		cancel: make(chan struct{}),
		fired:  make(chan struct{}),
	}
	go func() {
		select {
		case <-t.inner.Chan():
			close(t.fired)
			fn()
		case <-t.cancel:
			close(t.fired)
		}
	}()
	return t
}
