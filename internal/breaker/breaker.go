// Package breaker implements a per-name circuit breaker over a
// count-based sliding window of recent call outcomes.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neuragate/gateway/internal/config"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, short-circuit every call
	StateHalfOpen              // Trial permits probing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow while calls are short-circuited.
var ErrOpen = errors.New("circuit breaker is open")

// TransitionFunc observes state transitions.
type TransitionFunc func(name string, from, to State)

// Breaker is one named circuit breaker. Transitions are serialized
// under the mutex; the current state is also mirrored into an atomic
// for lock-free reads.
type Breaker struct {
	name string

	threshold  float64 // failure rate percent that opens the circuit
	wait       time.Duration
	windowSize int
	minCalls   int
	permits    int

	mu               sync.Mutex
	state            State
	window           []bool // ring of outcomes, true = failure
	recorded         int    // outcomes held, <= windowSize
	next             int    // ring write index
	openedAt         time.Time
	permitsIssued    int
	permitsSucceeded int

	stateAtomic  atomic.Int32
	onTransition TransitionFunc
	now          func() time.Time
}

// New creates a breaker from settings, filling zero-valued fields
// with the dynamicRoute defaults.
func New(name string, s config.BreakerSettings, onTransition TransitionFunc) *Breaker {
	if s.FailureRateThreshold <= 0 {
		s.FailureRateThreshold = 60
	}
	if s.WaitDurationInOpen <= 0 {
		s.WaitDurationInOpen = 15 * time.Second
	}
	if s.SlidingWindowSize <= 0 {
		s.SlidingWindowSize = 15
	}
	if s.MinimumCalls <= 0 {
		s.MinimumCalls = 5
	}
	if s.HalfOpenPermits <= 0 {
		s.HalfOpenPermits = 3
	}

	return &Breaker{
		name:         name,
		threshold:    s.FailureRateThreshold,
		wait:         s.WaitDurationInOpen,
		windowSize:   s.SlidingWindowSize,
		minCalls:     s.MinimumCalls,
		permits:      s.HalfOpenPermits,
		window:       make([]bool, s.SlidingWindowSize),
		onTransition: onTransition,
		now:          time.Now,
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state without taking the lock. The value
// may lag a concurrent transition by one load.
func (b *Breaker) State() State {
	return State(b.stateAtomic.Load())
}

// Allow decides whether a call may proceed. On admission it returns a
// done callback the caller must invoke exactly once with the outcome.
// While short-circuiting it returns ErrOpen.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.recordClosed, nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.wait {
			return nil, ErrOpen
		}
		b.transition(StateHalfOpen)
		b.permitsIssued = 1
		b.permitsSucceeded = 0
		return b.recordHalfOpen, nil

	case StateHalfOpen:
		if b.permitsIssued >= b.permits {
			return nil, ErrOpen
		}
		b.permitsIssued++
		return b.recordHalfOpen, nil
	}

	return nil, ErrOpen
}

// recordClosed records one outcome in the ring and opens the circuit
// once the window holds enough calls at or above the threshold rate.
func (b *Breaker) recordClosed(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		// A transition raced this outcome; late results from a previous
		// generation do not count.
		return
	}

	b.window[b.next] = !success
	b.next = (b.next + 1) % b.windowSize
	if b.recorded < b.windowSize {
		b.recorded++
	}

	if b.recorded < b.minCalls {
		return
	}

	failures := 0
	for i := 0; i < b.recorded; i++ {
		if b.window[i] {
			failures++
		}
	}
	rate := float64(failures) / float64(b.recorded) * 100
	if rate >= b.threshold {
		b.openLocked()
	}
}

// recordHalfOpen settles one trial permit. Any failure reopens the
// circuit; the circuit closes only when every issued permit succeeds.
func (b *Breaker) recordHalfOpen(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}

	if !success {
		b.openLocked()
		return
	}

	b.permitsSucceeded++
	if b.permitsSucceeded >= b.permits {
		b.transition(StateClosed)
		b.resetWindowLocked()
	}
}

func (b *Breaker) openLocked() {
	b.transition(StateOpen)
	b.openedAt = b.now()
	b.permitsIssued = 0
	b.permitsSucceeded = 0
}

func (b *Breaker) resetWindowLocked() {
	for i := range b.window {
		b.window[i] = false
	}
	b.recorded = 0
	b.next = 0
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.stateAtomic.Store(int32(to))
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Recorded    int     `json:"recorded_calls"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
	WindowSize  int     `json:"sliding_window_size"`
	MinCalls    int     `json:"minimum_calls"`
	Threshold   float64 `json:"failure_rate_threshold"`
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	failures := 0
	for i := 0; i < b.recorded; i++ {
		if b.window[i] {
			failures++
		}
	}
	rate := 0.0
	if b.recorded > 0 {
		rate = float64(failures) / float64(b.recorded) * 100
	}

	return Snapshot{
		Name:        b.name,
		State:       b.state.String(),
		Recorded:    b.recorded,
		Failures:    failures,
		FailureRate: rate,
		WindowSize:  b.windowSize,
		MinCalls:    b.minCalls,
		Threshold:   b.threshold,
	}
}
