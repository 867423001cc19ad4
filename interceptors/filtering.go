package interceptors

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/messaging"
)

// ErrFiltered is wrapped by the error of a telegram rejected by a filter
var ErrFiltered = errors.New("telegram filtered")

// TelegramFilter decides whether a telegram reaches the handler
type TelegramFilter interface {
	// ShouldProcess returns true if the telegram should be processed
	ShouldProcess(ctx context.Context, t *contracts.Telegram) (bool, error)
}

// TelegramFilterFunc is a function adapter for TelegramFilter
type TelegramFilterFunc func(ctx context.Context, t *contracts.Telegram) (bool, error)

// ShouldProcess implements TelegramFilter
func (f TelegramFilterFunc) ShouldProcess(ctx context.Context, t *contracts.Telegram) (bool, error) {
	return f(ctx, t)
}

// SkipBehavior defines what happens when a telegram is filtered out
type SkipBehavior int

const (
	// SkipSilently skips the handler; the dispatcher acknowledges as usual
	SkipSilently SkipBehavior = iota
	// SkipWithError fails the telegram with ErrFiltered
	SkipWithError
)

// FilteringInterceptor filters telegrams based on conditions
type FilteringInterceptor struct {
	filter       TelegramFilter
	skipBehavior SkipBehavior
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter TelegramFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, t *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error) {
	shouldProcess, err := i.filter.ShouldProcess(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		if i.skipBehavior == SkipWithError {
			return nil, fmt.Errorf("%w: type=%s sequence=%q", ErrFiltered, t.Type(), t.Sequence())
		}
		return nil, nil
	}

	return next.Handle(ctx, t)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []TelegramFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...TelegramFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements TelegramFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, t *contracts.Telegram) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, t)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// TypeFilter allows only specific telegram types
type TypeFilter struct {
	allowedTypes map[string]bool
}

// NewTypeFilter creates a filter that only allows the given types
func NewTypeFilter(allowedTypes ...string) *TypeFilter {
	typeMap := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		typeMap[t] = true
	}
	return &TypeFilter{allowedTypes: typeMap}
}

// ShouldProcess implements TelegramFilter
func (f *TypeFilter) ShouldProcess(ctx context.Context, t *contracts.Telegram) (bool, error) {
	return f.allowedTypes[t.Type()], nil
}

// SenderFilter allows only telegrams from known subsystems
type SenderFilter struct {
	senders map[string]bool
}

// NewSenderFilter creates a filter on the header sender field
func NewSenderFilter(senders ...string) *SenderFilter {
	m := make(map[string]bool, len(senders))
	for _, s := range senders {
		m[s] = true
	}
	return &SenderFilter{senders: m}
}

// ShouldProcess implements TelegramFilter
func (f *SenderFilter) ShouldProcess(ctx context.Context, t *contracts.Telegram) (bool, error) {
	return f.senders[t.Header().Sender], nil
}

// ConditionalInterceptor executes an interceptor only if a condition is met
type ConditionalInterceptor struct {
	condition   TelegramFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition TelegramFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, t *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error) {
	shouldExecute, err := i.condition.ShouldProcess(ctx, t)
	if err != nil {
		return nil, err
	}

	if shouldExecute {
		return i.interceptor.Intercept(ctx, t, next)
	}

	return next.Handle(ctx, t)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}
