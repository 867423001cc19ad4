package reliability

import (
	"errors"
	"fmt"
	"time"
)

// CodeCircuitOpen is the wire error code for telegrams rejected by an open breaker
const CodeCircuitOpen = "EBREAKER"

var (
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")
)

// CircuitBreakerError is returned when the breaker rejects a call
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		return fmt.Sprintf("circuit breaker %s open: failures=%d/%d, retry after %s",
			e.Name, e.Failures, e.FailureThreshold, e.NextRetry.UTC().Format(time.RFC3339))
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: probe limit reached", e.Name)
	default:
		return fmt.Sprintf("circuit breaker %s rejected call in state %v", e.Name, e.State)
	}
}

// Unwrap returns the sentinel matching the rejecting state
func (e *CircuitBreakerError) Unwrap() error {
	if e.State == StateHalfOpen {
		return ErrCircuitHalfOpenLimit
	}
	return ErrCircuitOpen
}

// Code implements contracts.CodedError so the error telegram tells the peer
// the host side is unavailable.
func (e *CircuitBreakerError) Code() string {
	return CodeCircuitOpen
}
