package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex(t *testing.T) {
	t.Run("excludes same key", func(t *testing.T) {
		m := NewKeyedMutex()

		unlock, err := m.Lock(context.Background(), "A")
		require.NoError(t, err)

		acquired := make(chan struct{})
		go func() {
			second, err := m.Lock(context.Background(), "A")
			if err == nil {
				close(acquired)
				second()
			}
		}()

		select {
		case <-acquired:
			t.Fatal("second lock acquired while first held")
		case <-time.After(30 * time.Millisecond):
		}

		unlock()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("second lock never acquired")
		}
	})

	t.Run("different keys are independent", func(t *testing.T) {
		m := NewKeyedMutex()

		unlockA, err := m.Lock(context.Background(), "A")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		unlockB, err := m.Lock(ctx, "B")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("context bounds the wait", func(t *testing.T) {
		m := NewKeyedMutex()

		unlock, err := m.Lock(context.Background(), "A")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = m.Lock(ctx, "A")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, m.Len())

		unlock()
		assert.Equal(t, 0, m.Len())
	})

	t.Run("unlock is idempotent", func(t *testing.T) {
		m := NewKeyedMutex()

		unlock, err := m.Lock(context.Background(), "A")
		require.NoError(t, err)
		unlock()
		unlock()

		again, err := m.Lock(context.Background(), "A")
		require.NoError(t, err)
		again()
		assert.Equal(t, 0, m.Len())
	})

	t.Run("serializes critical sections", func(t *testing.T) {
		m := NewKeyedMutex()
		var wg sync.WaitGroup
		counter := 0

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := m.Lock(context.Background(), "shared")
				if err != nil {
					return
				}
				defer unlock()
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
			}()
		}

		wg.Wait()
		assert.Equal(t, 50, counter)
		assert.Equal(t, 0, m.Len())
	})
}
