// Package health reports whether the telegram service can do its work: broker
// and Redis reachability, worker pool saturation and the host circuit breaker.
// NewRouter serves the report next to the Prometheus metrics.
package health
