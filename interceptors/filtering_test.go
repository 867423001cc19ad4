package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/messaging"
	"github.com/glimte/osip-go/telegrams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFilteringInterceptor(t *testing.T) {
	t.Run("allowed type reaches handler", func(t *testing.T) {
		tg := newTelegram()
		handler := new(mockHandler)
		handler.On("Handle", mock.Anything, tg).Return(nil, nil)

		interceptor := NewFilteringInterceptor(NewTypeFilter(telegrams.UpdateType), SkipWithError)
		_, err := interceptor.Intercept(context.Background(), tg, handler)
		assert.NoError(t, err)
		handler.AssertExpectations(t)
	})

	t.Run("filtered with error", func(t *testing.T) {
		handler := new(mockHandler)
		interceptor := NewFilteringInterceptor(NewTypeFilter(telegrams.RequestType), SkipWithError)

		_, err := interceptor.Intercept(context.Background(), newTelegram(), handler)
		assert.ErrorIs(t, err, ErrFiltered)
		handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("filtered silently", func(t *testing.T) {
		handler := new(mockHandler)
		interceptor := NewFilteringInterceptor(NewTypeFilter(), SkipSilently)

		reply, err := interceptor.Intercept(context.Background(), newTelegram(), handler)
		assert.NoError(t, err)
		assert.Nil(t, reply)
	})

	t.Run("filter error", func(t *testing.T) {
		failing := TelegramFilterFunc(func(context.Context, *contracts.Telegram) (bool, error) {
			return false, errors.New("lookup failed")
		})
		interceptor := NewFilteringInterceptor(failing, SkipSilently)

		_, err := interceptor.Intercept(context.Background(), newTelegram(), new(mockHandler))
		assert.ErrorContains(t, err, "lookup failed")
	})
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	fromPLC := contracts.New(telegrams.Update{}, contracts.WithSender("PLC01"))

	t.Run("sender filter", func(t *testing.T) {
		ok, err := NewSenderFilter("PLC01", "PLC02").ShouldProcess(ctx, fromPLC)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, _ = NewSenderFilter("ERP").ShouldProcess(ctx, fromPLC)
		assert.False(t, ok)
	})

	t.Run("composite filter requires all", func(t *testing.T) {
		both := NewCompositeFilter(NewSenderFilter("PLC01"), NewTypeFilter(telegrams.UpdateType))
		ok, err := both.ShouldProcess(ctx, fromPLC)
		require.NoError(t, err)
		assert.True(t, ok)

		mismatch := NewCompositeFilter(NewSenderFilter("PLC01"), NewTypeFilter(telegrams.RequestType))
		ok, _ = mismatch.ShouldProcess(ctx, fromPLC)
		assert.False(t, ok)
	})

	t.Run("conditional interceptor", func(t *testing.T) {
		calls := 0
		counting := NewInterceptorFunc("counting", func(ctx context.Context, tg *contracts.Telegram, next messaging.Handler) (*contracts.Telegram, error) {
			calls++
			return next.Handle(ctx, tg)
		})
		conditional := NewConditionalInterceptor(NewSenderFilter("PLC01"), counting)
		assert.Equal(t, "ConditionalInterceptor[counting]", conditional.Name())

		handler := new(mockHandler)
		handler.On("Handle", mock.Anything, mock.Anything).Return(nil, nil)

		_, err := conditional.Intercept(ctx, fromPLC, handler)
		require.NoError(t, err)
		_, err = conditional.Intercept(ctx, contracts.New(telegrams.Update{}, contracts.WithSender("ERP")), handler)
		require.NoError(t, err)

		assert.Equal(t, 1, calls)
		handler.AssertNumberOfCalls(t, "Handle", 2)
	})
}
