package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolEnableFor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pool := make(chan struct{}, 4)

	t.Run("4 relays will run at once on a pool of 4", func(t *testing.T) {
		start := time.Now()
		enableProxiedRelaysFor(ctx, pool, 4, time.Millisecond*5)
		assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*5)
	})

	t.Run("6 relays will run in two batches on a pool of 4", func(t *testing.T) {
		start := time.Now()
		enableProxiedRelaysFor(ctx, pool, 6, time.Millisecond*5)
		assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*10)
	})

	t.Run("9 relays will run in three batches on a pool of 4", func(t *testing.T) {
		start := time.Now()
		enableProxiedRelaysFor(ctx, pool, 9, time.Millisecond*5)
		assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*15)
	})
}

func TestPoolEnableForCanceledWhileWaiting(t *testing.T) {
	pool := make(chan struct{}, 1)
	pool <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*5)
	defer cancel()

	dumb := &Dumb{}
	err := NewPoolProxy(dumb, pool).EnableFor(ctx, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, dumb.Enables())
}

func enableProxiedRelaysFor(ctx context.Context, pool chan struct{}, num int, duration time.Duration) {
	var wg sync.WaitGroup

	for i := 0; i < num; i++ {
		relay := NewPoolProxy(&Dumb{}, pool)
		wg.Add(1)
		go func() {
			_ = relay.EnableFor(ctx, duration)
			wg.Done()
		}()
	}

	wg.Wait()
}

func TestDumbEnableFor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	relay := &Dumb{Name: "test"}

	t.Run("relay enabled for 5ms will be executed at least 5ms", func(t *testing.T) {
		expectedDuration := time.Millisecond * 5
		start := time.Now()
		assert.NoError(t, relay.EnableFor(ctx, expectedDuration))
		assert.GreaterOrEqual(t, time.Since(start), expectedDuration)
		assert.False(t, relay.IsEnabled())
		assert.Equal(t, 1, relay.Enables())
	})

	t.Run("relay interrupted returns context error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(time.Millisecond * 5)
			cancel()
		}()

		err := relay.EnableFor(ctx, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, relay.IsEnabled())
	})
}

type fakePin struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePin) High() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "high")
	return nil
}

func (p *fakePin) Low() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "low")
	return nil
}

func TestWiredEnableFor(t *testing.T) {
	ctx := context.Background()

	t.Run("active low relay", func(t *testing.T) {
		pin := &fakePin{}
		w := &Wired{Name: "up", Pin: pin}
		assert.NoError(t, w.EnableFor(ctx, time.Millisecond))
		assert.Equal(t, []string{"low", "high"}, pin.calls)
		assert.False(t, w.IsEnabled())
	})

	t.Run("normal closed relay", func(t *testing.T) {
		pin := &fakePin{}
		w := &Wired{Name: "down", Pin: pin, NormalClosed: true}
		assert.NoError(t, w.EnableFor(ctx, time.Millisecond))
		assert.Equal(t, []string{"high", "low"}, pin.calls)
	})
}
