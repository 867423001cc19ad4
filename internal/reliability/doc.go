// Package reliability protects handlers that call out to a host system.
//
// The CircuitBreaker counts consecutive host failures and, once open, rejects
// calls immediately with a CircuitBreakerError. That error carries the wire code
// EBREAKER, so when the breaker is wired in through
// interceptors.CircuitBreakerInterceptor the peer gets an ERR_ telegram right
// away instead of waiting for a processing timeout.
//
//	cb := reliability.NewCircuitBreaker(
//	    reliability.WithName("wms"),
//	    reliability.WithFailureThreshold(5),
//	    reliability.WithOpenTimeout(30*time.Second),
//	)
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//	    WithCircuitBreaker(cb).
//	    Build()
package reliability
