package messaging

import (
	"context"
	"time"
)

// Processor is the transport-facing side of the dispatcher
type Processor interface {
	// HandleInbound processes one raw telegram and returns the reply payload, if any
	HandleInbound(ctx context.Context, payload []byte) ([]byte, error)

	// CorrelationKey returns the ordering key of a raw telegram, empty when it has none
	CorrelationKey(payload []byte) string
}

// MetricsCollector collects dispatch metrics
type MetricsCollector interface {
	// RecordTelegram records a telegram reaching a terminal state
	RecordTelegram(telegramType string, state State, errorCode string, duration time.Duration)

	// RecordLockWait records the time spent waiting for a correlation key
	RecordLockWait(duration time.Duration)

	// RecordReplyCache records a reply cache lookup
	RecordReplyCache(hit bool)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordTelegram does nothing
func (n *NoOpMetricsCollector) RecordTelegram(telegramType string, state State, errorCode string, duration time.Duration) {
}

// RecordLockWait does nothing
func (n *NoOpMetricsCollector) RecordLockWait(duration time.Duration) {}

// RecordReplyCache does nothing
func (n *NoOpMetricsCollector) RecordReplyCache(hit bool) {}

// ReplyCache remembers the reply sent for a payload so a redelivered telegram is
// answered without running its handler again.
type ReplyCache interface {
	// Get returns the cached reply for a payload fingerprint
	Get(ctx context.Context, fingerprint string) ([]byte, bool, error)

	// Set stores the reply for a payload fingerprint
	Set(ctx context.Context, fingerprint string, reply []byte) error
}
