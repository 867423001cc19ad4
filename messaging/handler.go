package messaging

import (
	"context"

	"github.com/glimte/osip-go/contracts"
)

// Handler processes one decoded telegram. It returns the reply telegram, or nil
// to let the dispatcher acknowledge the request on its own.
type Handler interface {
	Handle(ctx context.Context, t *contracts.Telegram) (*contracts.Telegram, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, t *contracts.Telegram) (*contracts.Telegram, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, t *contracts.Telegram) (*contracts.Telegram, error) {
	return f(ctx, t)
}

// MiddlewareFunc wraps a handler invocation
type MiddlewareFunc func(ctx context.Context, t *contracts.Telegram, next Handler) (*contracts.Telegram, error)

// Chain wraps handler with middleware; the first middleware runs outermost.
func Chain(handler Handler, middleware ...MiddlewareFunc) Handler {
	result := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := result
		result = HandlerFunc(func(ctx context.Context, t *contracts.Telegram) (*contracts.Telegram, error) {
			return mw(ctx, t, next)
		})
	}
	return result
}

// Reply is a helper for handlers answering with a body
func Reply(request *contracts.Telegram, body contracts.Body) (*contracts.Telegram, error) {
	return contracts.NewReply(request, body), nil
}
