package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/messaging"
)

// Interceptor processes telegrams before they reach the final handler
type Interceptor interface {
	// Intercept processes a telegram and calls the next handler in the chain
	Intercept(ctx context.Context, t *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   messaging.MiddlewareFunc
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn messaging.MiddlewareFunc) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, t *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error) {
	return i.fn(ctx, t, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Names lists the interceptors in execution order
func (c *InterceptorChain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		names[i] = interceptor.Name()
	}
	return names
}

// Execute runs the chain in front of finalHandler
func (c *InterceptorChain) Execute(ctx context.Context, t *contracts.Telegram, finalHandler messaging.Handler) (*contracts.Telegram, error) {
	return messaging.Chain(finalHandler, c.Middleware()...).Handle(ctx, t)
}

// Middleware converts the chain for messaging.WithMiddleware
func (c *InterceptorChain) Middleware() []messaging.MiddlewareFunc {
	middleware := make([]messaging.MiddlewareFunc, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		middleware[i] = interceptor.Intercept
	}
	return middleware
}

// LoggingInterceptor logs telegram handling
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, t *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error) {
	start := time.Now()

	i.logger.Debug("handling telegram",
		"telegramId", t.ID(),
		"telegramType", t.Type(),
		"sequence", t.Sequence(),
	)

	reply, err := next.Handle(ctx, t)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("telegram handler failed",
			"telegramId", t.ID(),
			"telegramType", t.Type(),
			"duration", duration,
			"error", err,
		)
		return reply, err
	}

	attrs := []any{
		"telegramId", t.ID(),
		"telegramType", t.Type(),
		"duration", duration,
	}
	if reply != nil {
		attrs = append(attrs, "replyType", reply.Type())
	}
	i.logger.Info("telegram handled", attrs...)

	return reply, nil
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// TelegramValidator checks a decoded telegram beyond its wire format
type TelegramValidator interface {
	Validate(ctx context.Context, t *contracts.Telegram) error
}

// TelegramValidatorFunc is a function adapter for TelegramValidator
type TelegramValidatorFunc func(ctx context.Context, t *contracts.Telegram) error

// Validate implements TelegramValidator
func (f TelegramValidatorFunc) Validate(ctx context.Context, t *contracts.Telegram) error {
	return f(ctx, t)
}

// ValidationError is returned when a telegram fails validation. It travels as
// a body error so the sender learns its telegram was rejected.
type ValidationError struct {
	Type string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("telegram %s failed validation: %v", e.Type, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Code implements contracts.CodedError
func (e *ValidationError) Code() string {
	return contracts.CodeMalformedBody
}

// ValidationInterceptor validates telegrams before they reach the handler
type ValidationInterceptor struct {
	validator TelegramValidator
}

// NewValidationInterceptor creates a new validation interceptor
func NewValidationInterceptor(validator TelegramValidator) *ValidationInterceptor {
	return &ValidationInterceptor{validator: validator}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor) Intercept(ctx context.Context, t *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error) {
	if err := i.validator.Validate(ctx, t); err != nil {
		return nil, &ValidationError{Type: t.Type(), Err: err}
	}

	return next.Handle(ctx, t)
}

// Name implements Interceptor
func (i *ValidationInterceptor) Name() string {
	return "ValidationInterceptor"
}

// CircuitBreaker guards a call to a failing dependency
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
}

// CircuitBreakerInterceptor fails fast while the handler's dependency is down
type CircuitBreakerInterceptor struct {
	circuitBreaker CircuitBreaker
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(circuitBreaker CircuitBreaker) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{circuitBreaker: circuitBreaker}
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(ctx context.Context, t *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error) {
	var reply *contracts.Telegram
	err := i.circuitBreaker.Execute(ctx, func() error {
		var err error
		reply, err = next.Handle(ctx, t)
		return err
	})
	return reply, err
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "CircuitBreakerInterceptor"
}

// DefaultInterceptorChainBuilder builds a common interceptor chain
type DefaultInterceptorChainBuilder struct {
	chain  *InterceptorChain
	logger *slog.Logger
}

// NewDefaultInterceptorChainBuilder creates a new builder
func NewDefaultInterceptorChainBuilder(logger *slog.Logger) *DefaultInterceptorChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultInterceptorChainBuilder{
		chain:  NewInterceptorChain(logger),
		logger: logger,
	}
}

// WithLogging adds logging interceptor
func (b *DefaultInterceptorChainBuilder) WithLogging() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithValidation adds validation interceptor
func (b *DefaultInterceptorChainBuilder) WithValidation(validator TelegramValidator) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewValidationInterceptor(validator))
	return b
}

// WithCircuitBreaker adds circuit breaker interceptor
func (b *DefaultInterceptorChainBuilder) WithCircuitBreaker(circuitBreaker CircuitBreaker) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewCircuitBreakerInterceptor(circuitBreaker))
	return b
}

// WithTypeFilter restricts handling to the given telegram types
func (b *DefaultInterceptorChainBuilder) WithTypeFilter(types ...string) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewFilteringInterceptor(NewTypeFilter(types...), SkipWithError))
	return b
}

// WithCustom adds a custom interceptor
func (b *DefaultInterceptorChainBuilder) WithCustom(interceptor Interceptor) *DefaultInterceptorChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built interceptor chain
func (b *DefaultInterceptorChainBuilder) Build() *InterceptorChain {
	return b.chain
}
