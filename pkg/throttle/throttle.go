// Package throttle bounds how often a callback runs while never losing the
// most recent value of a burst.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle delivers values to fn at most once per interval. Values submitted
// while a delivery is pending replace the pending value, so the trailing call
// always carries the latest one.
type Throttle[T any] struct {
	fn       func(T)
	interval time.Duration
	limiter  *rate.Limiter

	mu        sync.Mutex
	pending   T
	timer     *time.Timer
	stopped   bool
	coalesced int64
}

// New builds a throttle. A non-positive interval makes Submit call fn inline.
func New[T any](interval time.Duration, fn func(T)) *Throttle[T] {
	t := &Throttle[T]{
		fn:       fn,
		interval: interval,
	}
	if interval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return t
}

// Submit hands v to the throttle.
func (t *Throttle[T]) Submit(v T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	if t.limiter == nil {
		t.mu.Unlock()
		t.fn(v)
		return
	}

	if t.timer != nil {
		t.pending = v
		t.coalesced++
		t.mu.Unlock()
		return
	}

	delay := t.limiter.Reserve().Delay()
	if delay == 0 {
		t.mu.Unlock()
		t.fn(v)
		return
	}

	t.pending = v
	t.timer = time.AfterFunc(delay, t.fire)
	t.mu.Unlock()
}

func (t *Throttle[T]) fire() {
	t.mu.Lock()
	if t.stopped || t.timer == nil {
		t.mu.Unlock()
		return
	}
	v := t.pending
	var zero T
	t.pending = zero
	t.timer = nil
	t.mu.Unlock()

	t.fn(v)
}

// Flush delivers the pending value immediately, if any.
func (t *Throttle[T]) Flush() {
	t.mu.Lock()
	if t.timer == nil || !t.timer.Stop() {
		t.mu.Unlock()
		return
	}
	v := t.pending
	var zero T
	t.pending = zero
	t.timer = nil
	stopped := t.stopped
	t.mu.Unlock()

	if !stopped {
		t.fn(v)
	}
}

// Stop discards any pending value; later submissions are ignored.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	var zero T
	t.pending = zero
}

// Coalesced returns how many submissions were superseded by a later value.
func (t *Throttle[T]) Coalesced() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.coalesced
}
