package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/osip-go/internal/reliability"
	"github.com/glimte/osip-go/messaging"
	"github.com/redis/go-redis/v9"
)

// Pinger is implemented by the AMQP connection manager
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports unhealthy while Ping fails
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a checker around pinger
func NewPingChecker(name string, pinger Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: pinger}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.name, Timestamp: start, Status: StatusHealthy, Message: "reachable"}

	if err := c.pinger.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "unreachable"
		result.Error = err.Error()
	}

	result.Duration = time.Since(start)
	return result
}

// RedisPinger is the part of *redis.Client the Redis checker needs
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

type redisPing struct {
	client RedisPinger
}

func (p redisPing) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// NewRedisChecker checks the shared reply cache
func NewRedisChecker(client RedisPinger) *PingChecker {
	return NewPingChecker("redis", redisPing{client: client})
}

// PoolStatser is implemented by messaging.Pool
type PoolStatser interface {
	Stats() messaging.PoolStats
}

// PoolChecker reports how full the worker pool lanes are
type PoolChecker struct {
	pool     PoolStatser
	degraded float64
}

// NewPoolChecker creates a pool checker that turns degraded once the queued
// share of the lane capacity reaches degraded, and unhealthy when it is full.
func NewPoolChecker(pool PoolStatser, degraded float64) *PoolChecker {
	return &PoolChecker{pool: pool, degraded: degraded}
}

func (c *PoolChecker) Name() string {
	return "worker_pool"
}

func (c *PoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	stats := c.pool.Stats()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   "lanes have room",
		Details: map[string]interface{}{
			"lanes":     stats.Lanes,
			"queued":    stats.Queued,
			"capacity":  stats.Capacity,
			"busy":      stats.Busy,
			"processed": stats.Processed,
		},
	}

	if stats.Capacity > 0 {
		usage := float64(stats.Queued) / float64(stats.Capacity)
		result.Details["usage"] = usage
		switch {
		case stats.Queued >= stats.Capacity:
			result.Status = StatusUnhealthy
			result.Message = "all lanes are full"
		case usage >= c.degraded:
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("lanes %.0f%% full", usage*100)
		}
	}

	result.Duration = time.Since(start)
	return result
}

// BreakerStatser is implemented by reliability.CircuitBreaker
type BreakerStatser interface {
	Stats() reliability.CircuitBreakerStats
}

// BreakerChecker reports degraded while the host circuit is not closed. The
// service still answers telegrams, with error replies.
type BreakerChecker struct {
	breaker BreakerStatser
}

// NewBreakerChecker creates a breaker checker
func NewBreakerChecker(breaker BreakerStatser) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

func (c *BreakerChecker) Name() string {
	return "circuit_" + c.breaker.Stats().Name
}

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	stats := c.breaker.Stats()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   "circuit " + stats.State.String(),
		Details: map[string]interface{}{
			"state":            stats.State.String(),
			"current_failures": stats.CurrentFailures,
			"total_rejected":   stats.TotalRejected,
		},
	}
	if stats.State != reliability.StateClosed {
		result.Status = StatusDegraded
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, error)) *ComponentChecker {
	return &ComponentChecker{name: name, checker: checker}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.checker(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
