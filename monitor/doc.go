// Package monitor exports dispatcher, worker pool and circuit breaker metrics
// to Prometheus.
//
// PrometheusCollector implements messaging.MetricsCollector:
//
//	collector := monitor.NewPrometheusCollector(prometheus.DefaultRegisterer)
//	dispatcher := messaging.NewDispatcher(codec, messaging.WithMetrics(collector))
//	collector.WatchPool("inbound", pool)
package monitor
