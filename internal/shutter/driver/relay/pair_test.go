package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairedRelayEnableFor(t *testing.T) {
	first, second := NewRelayPair(&Dumb{}, &Dumb{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	t.Run("second relay will be not enabled until first gets released", func(t *testing.T) {
		start := time.Now()
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			_ = first.EnableFor(ctx, time.Millisecond*5)
			wg.Done()
		}()

		wg.Add(1)
		go func() {
			_ = second.EnableFor(ctx, time.Millisecond*5)
			wg.Done()
		}()

		wg.Wait()
		assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*10)
	})

	t.Run("waiting relay gives up when its context is done", func(t *testing.T) {
		busy, cancelBusy := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			_ = first.EnableFor(busy, time.Minute)
			close(done)
		}()
		assert.Eventually(t, first.IsEnabled, time.Second, time.Millisecond)

		waiting, cancelWaiting := context.WithTimeout(ctx, time.Millisecond*5)
		defer cancelWaiting()
		assert.ErrorIs(t, second.EnableFor(waiting, time.Minute), context.DeadlineExceeded)
		assert.False(t, second.IsEnabled())

		cancelBusy()
		<-done
	})
}
