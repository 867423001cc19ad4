package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// StateChangeListener receives circuit breaker state changes. Listeners are
// called after the breaker lock is released, on the goroutine that caused the
// transition.
type StateChangeListener interface {
	OnStateChange(name string, from, to State, reason string)
}

// StateChangeFunc adapts a function to StateChangeListener
type StateChangeFunc func(name string, from, to State, reason string)

// OnStateChange implements StateChangeListener
func (f StateChangeFunc) OnStateChange(name string, from, to State, reason string) {
	f(name, from, to, reason)
}

// CircuitBreaker stops handler calls towards a failing host system. While open,
// telegrams are answered with an EBREAKER error instead of waiting on the host.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	halfOpenActive  int
	lastFailureTime time.Time
	totalRequests   int64
	totalFailures   int64
	totalRejected   int64

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	halfOpenRequests int
	name             string
	isFailure        func(error) bool
	now              func() time.Time
	logger           *slog.Logger

	listeners []StateChangeListener
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithOpenTimeout sets how long the circuit stays open before probing
func WithOpenTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.openTimeout = timeout
	}
}

// WithHalfOpenRequests sets the max concurrent probes in half-open state
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithName sets the breaker name used in errors, logs and metrics
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithFailurePredicate decides which errors count against the host. By default
// every error counts.
func WithFailurePredicate(isFailure func(error) bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.isFailure = isFailure
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithBreakerLogger sets the logger
func WithBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithListener registers a state change listener
func WithListener(listener StateChangeListener) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listeners = append(cb.listeners, listener)
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
		halfOpenRequests: 1,
		name:             "host",
		isFailure:        func(err error) bool { return err != nil },
		now:              time.Now,
		logger:           slog.Default(),
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

type transition struct {
	from, to State
	reason   string
}

// Execute runs fn unless the circuit rejects it
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	admitted, change, err := cb.admit()
	cb.notify(change)
	if err != nil {
		return err
	}

	err = fn()
	cb.notify(cb.record(admitted, err))
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the circuit and clears the counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenActive = 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(&transition{from: from, to: StateClosed, reason: "reset"})
	}
}

// admit decides whether a call may run. It reports the state the call was
// admitted in so the result is accounted against the right phase.
func (cb *CircuitBreaker) admit() (State, *transition, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	var change *transition
	if cb.state == StateOpen {
		nextRetry := cb.lastFailureTime.Add(cb.openTimeout)
		if cb.now().Before(nextRetry) {
			cb.totalRejected++
			return cb.state, nil, cb.rejection(nextRetry)
		}
		change = cb.moveTo(StateHalfOpen, "open timeout expired")
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenActive >= cb.halfOpenRequests {
			cb.totalRejected++
			return cb.state, change, cb.rejection(cb.now().Add(cb.openTimeout))
		}
		cb.halfOpenActive++
	}

	return cb.state, change, nil
}

func (cb *CircuitBreaker) record(admitted State, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if admitted == StateHalfOpen && cb.halfOpenActive > 0 {
		cb.halfOpenActive--
	}

	if cb.isFailure(err) {
		cb.failures++
		cb.totalFailures++
		cb.lastFailureTime = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				return cb.moveTo(StateOpen, fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold))
			}
		case StateHalfOpen:
			return cb.moveTo(StateOpen, "probe failed")
		}
		return nil
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			return cb.moveTo(StateClosed, fmt.Sprintf("success threshold reached (%d/%d)", cb.successes, cb.successThreshold))
		}
	}
	return nil
}

// moveTo must be called with the lock held
func (cb *CircuitBreaker) moveTo(to State, reason string) *transition {
	from := cb.state
	cb.state = to
	cb.successes = 0
	cb.halfOpenActive = 0
	if to == StateClosed {
		cb.failures = 0
	}
	return &transition{from: from, to: to, reason: reason}
}

func (cb *CircuitBreaker) rejection(nextRetry time.Time) error {
	return &CircuitBreakerError{
		Name:             cb.name,
		State:            cb.state,
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		LastFailure:      cb.lastFailureTime,
		NextRetry:        nextRetry,
	}
}

func (cb *CircuitBreaker) notify(change *transition) {
	if change == nil {
		return
	}

	level := slog.LevelInfo
	if change.to == StateOpen {
		level = slog.LevelWarn
	}
	cb.logger.Log(context.Background(), level, "circuit breaker state changed",
		"breaker", cb.name,
		"from", change.from.String(),
		"to", change.to.String(),
		"reason", change.reason,
	)

	for _, listener := range cb.listeners {
		listener.OnStateChange(cb.name, change.from, change.to, change.reason)
	}
}

// Stats returns a snapshot of the breaker counters
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitBreakerStats is a snapshot of breaker counters
type CircuitBreakerStats struct {
	Name            string
	State           State
	TotalRequests   int64
	TotalFailures   int64
	TotalRejected   int64
	CurrentFailures int
	LastFailureTime time.Time
}
