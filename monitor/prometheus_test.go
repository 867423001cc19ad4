package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glimte/osip-go/internal/reliability"
	"github.com/glimte/osip-go/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPool struct {
	stats messaging.PoolStats
}

func (p fixedPool) Stats() messaging.PoolStats {
	return p.stats
}

func TestPrometheusCollector(t *testing.T) {
	t.Run("counts telegrams by type state and code", func(t *testing.T) {
		c := NewPrometheusCollector(prometheus.NewRegistry())

		c.RecordTelegram("UPD_", messaging.StateReplied, "", 5*time.Millisecond)
		c.RecordTelegram("UPD_", messaging.StateReplied, "", 7*time.Millisecond)
		c.RecordTelegram("REQ_", messaging.StateFailed, "ETIMEOUT", time.Second)

		assert.Equal(t, 2.0, testutil.ToFloat64(c.telegrams.WithLabelValues("UPD_", "REPLIED", "")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.telegrams.WithLabelValues("REQ_", "FAILED", "ETIMEOUT")))
		assert.Equal(t, 2, testutil.CollectAndCount(c.duration))
	})

	t.Run("undecodable header is labelled unknown", func(t *testing.T) {
		c := NewPrometheusCollector(prometheus.NewRegistry())
		c.RecordTelegram("", messaging.StateFailed, "EHEADER", time.Millisecond)

		assert.Equal(t, 1.0, testutil.ToFloat64(c.telegrams.WithLabelValues("unknown", "FAILED", "EHEADER")))
	})

	t.Run("reply cache and lock wait", func(t *testing.T) {
		c := NewPrometheusCollector(prometheus.NewRegistry())
		c.RecordReplyCache(true)
		c.RecordReplyCache(false)
		c.RecordReplyCache(false)
		c.RecordLockWait(time.Millisecond)

		assert.Equal(t, 1.0, testutil.ToFloat64(c.replyCache.WithLabelValues("hit")))
		assert.Equal(t, 2.0, testutil.ToFloat64(c.replyCache.WithLabelValues("miss")))
		assert.Equal(t, 1, testutil.CollectAndCount(c.lockWait))
	})

	t.Run("breaker transitions", func(t *testing.T) {
		c := NewPrometheusCollector(prometheus.NewRegistry())
		cb := reliability.NewCircuitBreaker(
			reliability.WithName("wms"),
			reliability.WithFailureThreshold(1),
			reliability.WithListener(c),
		)

		_ = cb.Execute(context.Background(), func() error { return assert.AnError })

		assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("wms")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerChanges.WithLabelValues("wms", "open")))
	})

	t.Run("pool gauges read stats at scrape time", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		c := NewPrometheusCollector(reg)
		c.WatchPool("inbound", fixedPool{stats: messaging.PoolStats{Queued: 3, Busy: 2, Processed: 40}})

		expected := `
# HELP osip_pool_queued Telegrams waiting in the worker pool lanes
# TYPE osip_pool_queued gauge
osip_pool_queued{pool="inbound"} 3
`
		require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "osip_pool_queued"))

		count, err := testutil.GatherAndCount(reg, "osip_pool_busy_workers", "osip_pool_processed_total")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}
