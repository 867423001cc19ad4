// Package interceptors provides reusable middleware for telegram handlers.
//
// Built-in interceptors:
//   - LoggingInterceptor: logs handler invocations with timing information
//   - ValidationInterceptor: rejects telegrams failing application checks (EBODY)
//   - CircuitBreakerInterceptor: fails fast while a handler dependency is down
//   - FilteringInterceptor: restricts handling by type or sender
//
// Example usage:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithLogging().
//		WithCircuitBreaker(reliability.NewCircuitBreaker()).
//		Build()
//
//	dispatcher := messaging.NewDispatcher(codec, messaging.WithMiddleware(chain.Middleware()...))
//
// Interceptors run in the order they are added, the handler last.
package interceptors
