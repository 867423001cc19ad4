package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glimte/osip-go/internal/reliability"
	"github.com/glimte/osip-go/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeRedis struct {
	err error
}

func (r fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", r.err)
}

type fixedPool messaging.PoolStats

func (p fixedPool) Stats() messaging.PoolStats { return messaging.PoolStats(p) }

func static(name string, status Status) Checker {
	return NewComponentChecker(name, func(context.Context) (Status, string, error) {
		return status, string(status), nil
	})
}

func TestRegistry(t *testing.T) {
	t.Run("worst status wins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(static("a", StatusHealthy))
		r.Register(static("b", StatusDegraded))
		assert.Equal(t, StatusDegraded, r.Check(context.Background()).Status)

		r.Register(static("c", StatusUnhealthy))
		assert.Equal(t, StatusUnhealthy, r.Check(context.Background()).Status)

		r.Unregister("c")
		health := r.Check(context.Background())
		assert.Equal(t, StatusDegraded, health.Status)
		assert.Len(t, health.Checks, 2)
	})

	t.Run("slow check times out", func(t *testing.T) {
		r := NewRegistry()
		r.Register(NewComponentChecker("slow", func(ctx context.Context) (Status, string, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return StatusHealthy, "", nil
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		health := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, "check timed out", health.Checks["slow"].Message)
	})

	t.Run("metadata is reported", func(t *testing.T) {
		r := NewRegistry()
		r.SetMetadata("instance", "osipd-1")
		assert.Equal(t, "osipd-1", r.Check(context.Background()).Metadata["instance"])
	})
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		ok := NewPingChecker("rabbitmq", pingFunc(func(context.Context) error { return nil }))
		assert.Equal(t, StatusHealthy, ok.Check(ctx).Status)

		down := NewPingChecker("rabbitmq", pingFunc(func(context.Context) error { return errors.New("connection not ready") }))
		result := down.Check(ctx)
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "connection not ready", result.Error)
	})

	t.Run("redis", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewRedisChecker(fakeRedis{}).Check(ctx).Status)
		assert.Equal(t, StatusUnhealthy, NewRedisChecker(fakeRedis{err: errors.New("i/o timeout")}).Check(ctx).Status)
	})

	t.Run("pool saturation", func(t *testing.T) {
		tests := []struct {
			queued int
			want   Status
		}{
			{queued: 10, want: StatusHealthy},
			{queued: 80, want: StatusDegraded},
			{queued: 100, want: StatusUnhealthy},
		}
		for _, tt := range tests {
			checker := NewPoolChecker(fixedPool{Lanes: 4, Capacity: 100, Queued: tt.queued}, 0.75)
			assert.Equal(t, tt.want, checker.Check(ctx).Status, "queued=%d", tt.queued)
		}
	})

	t.Run("breaker", func(t *testing.T) {
		cb := reliability.NewCircuitBreaker(reliability.WithName("wms"), reliability.WithFailureThreshold(1))
		checker := NewBreakerChecker(cb)
		assert.Equal(t, "circuit_wms", checker.Name())
		assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

		_ = cb.Execute(ctx, func() error { return errors.New("host down") })
		result := checker.Check(ctx)
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Equal(t, "open", result.Details["state"])
	})
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "osip_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	registry := NewRegistry()
	registry.Register(static("broker", StatusHealthy))
	server := httptest.NewServer(NewRouter(registry, reg, time.Second))
	defer server.Close()

	t.Run("health report", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var health OverallHealth
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, StatusHealthy, health.Status)
		assert.Contains(t, health.Checks, "broker")
	})

	t.Run("liveness", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health/live")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "osip_test_total 1")
	})

	t.Run("unhealthy is 503", func(t *testing.T) {
		registry.Register(static("redis", StatusUnhealthy))
		defer registry.Unregister("redis")

		for _, path := range []string{"/health", "/health/ready"} {
			resp, err := http.Get(server.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		}
	})
}
