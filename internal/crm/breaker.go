package crm

import (
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen            // one trial call in flight
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker trips after a run of failed CRM calls. Once the cool-down has
// passed it admits exactly one trial call; its outcome closes or reopens it.
type Breaker struct {
	threshold int
	coolDown  time.Duration
	now       func() time.Time
	onChange  func(BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	retryAt  time.Time
}

func NewBreaker(threshold int, coolDown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if coolDown <= 0 {
		coolDown = 15 * time.Second
	}
	return &Breaker{threshold: threshold, coolDown: coolDown, now: time.Now}
}

// OnChange registers fn to observe every state transition. Call before use.
func (b *Breaker) OnChange(fn func(BreakerState)) { b.onChange = fn }

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TryAcquire reports whether a call may proceed.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Before(b.retryAt) {
			return false
		}
		b.set(BreakerHalfOpen)
		return true
	default:
		return false
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.set(BreakerClosed)
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.retryAt = b.now().Add(b.coolDown)
		b.set(BreakerOpen)
	}
}

// set must be called with mu held.
func (b *Breaker) set(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}
