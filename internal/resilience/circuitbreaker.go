// Package resilience keeps a failing backend from dragging every request
// down with it.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] tries a list of interchangeable providers in order, each
// behind its own breaker, and [GatewayBreaker] puts a single breaker in front
// of a persistence gateway. Nothing in this package retries a failed call.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. A failed
	// probe re-opens the breaker; HalfOpenMax successes close it.
	StateHalfOpen
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds the tuning knobs of a [CircuitBreaker]. Zero
// values select the defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures consecutive failures open the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every non-nil error.
	IsFailure func(error) bool

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu             sync.Mutex
	state          State
	failures       int
	openedAt       time.Time
	probes         int
	probeSuccesses int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the breaker is open or out of probes, in which
// case it returns [ErrCircuitOpen] without calling fn. fn's error is
// returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(probe, err != nil && cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, false
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, false
		}
		cb.probes++
		return true, true
	}
	return false, true
}

func (cb *CircuitBreaker) record(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case failed && probe:
		cb.open()
	case failed:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.open()
		}
	case probe:
		cb.probeSuccesses++
		if cb.state == StateHalfOpen && cb.probeSuccesses >= cb.cfg.HalfOpenMax {
			cb.transition(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.cfg.Now()
	cb.transition(StateOpen)
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.probes = 0
	cb.probeSuccesses = 0
	if from == to {
		return
	}
	lvl := slog.LevelInfo
	if to == StateOpen {
		lvl = slog.LevelWarn
	}
	slog.Log(context.Background(), lvl, "circuit breaker state change", "name", cb.cfg.Name, "from", from, "to", to)
}

// State returns the current state. An open breaker whose timeout has
// passed reports [StateHalfOpen]; the switch itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
