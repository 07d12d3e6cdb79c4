package relay

import (
	"context"
	"testing"
	"time"

	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type travelTimes map[shutter.Direction]time.Duration

func (t travelTimes) TravelTime(_ string, direction shutter.Direction) time.Duration {
	return t[direction]
}

func newTestShutter(travel travelTimes) (*RelaysShutter, *Dumb, *Dumb) {
	up, down := &Dumb{Name: "up"}, &Dumb{Name: "down"}
	pUp, pDown := NewRelayPair(up, down)
	s := NewRelaysShutter(shutter.Ref{ID: "kitchen"}, pUp, pDown, 100, 0, travel)

	return s, up, down
}

func TestRelaysShutterRef(t *testing.T) {
	s, _, _ := newTestShutter(travelTimes{})

	assert.Equal(t, shutter.Ref{ID: "kitchen", Name: "kitchen"}, s.Ref())
	assert.Equal(t, "kitchen", s.Name())
	assert.Equal(t, shutter.ShutterClosedState, s.State())
	assert.Equal(t, 0, s.Position())
}

func TestRelaysShutterMotion(t *testing.T) {
	ctx := context.Background()

	t.Run("stop after open motion ends fully open", func(t *testing.T) {
		s, up, down := newTestShutter(travelTimes{})

		require.NoError(t, s.StartMotion(ctx, shutter.DirectionOpen))
		assert.Eventually(t, up.IsEnabled, time.Second, time.Millisecond)
		assert.False(t, down.IsEnabled())

		status, err := s.Status(ctx)
		require.NoError(t, err)
		assert.True(t, status.Moving)
		assert.Equal(t, shutter.ShutterOpeningState, status.State)

		require.NoError(t, s.StopMotion(ctx))
		assert.Eventually(t, func() bool { return !up.IsEnabled() }, time.Second, time.Millisecond)

		status, err = s.Status(ctx)
		require.NoError(t, err)
		assert.False(t, status.Moving)
		assert.Equal(t, shutter.Status{State: shutter.ShutterOpenState, Position: 100}, status)
	})

	t.Run("stop after close motion ends fully closed", func(t *testing.T) {
		s, _, down := newTestShutter(travelTimes{})
		require.NoError(t, s.ResetPosition(60))

		require.NoError(t, s.StartMotion(ctx, shutter.DirectionClose))
		assert.Eventually(t, down.IsEnabled, time.Second, time.Millisecond)
		require.NoError(t, s.StopMotion(ctx))

		assert.Equal(t, 0, s.Position())
		assert.Equal(t, shutter.ShutterClosedState, s.State())
	})

	t.Run("motion is bounded", func(t *testing.T) {
		s, up, _ := newTestShutter(travelTimes{})
		s.MaxMotion = time.Millisecond * 5

		require.NoError(t, s.StartMotion(ctx, shutter.DirectionOpen))
		assert.Eventually(t, func() bool { return s.State() == shutter.ShutterOpenState }, time.Second, time.Millisecond)
		assert.False(t, up.IsEnabled())
		assert.Equal(t, 100, s.Position())
	})

	t.Run("invalid direction", func(t *testing.T) {
		s, _, _ := newTestShutter(travelTimes{})

		err := s.StartMotion(ctx, shutter.Direction("sideways"))
		assert.ErrorIs(t, err, shutter.ErrInvalidDirection)
	})
}

func TestRelaysShutterSetPosition(t *testing.T) {
	ctx := context.Background()

	t.Run("out of range", func(t *testing.T) {
		s, _, _ := newTestShutter(travelTimes{})
		assert.Error(t, s.SetPosition(ctx, 101))
		assert.Error(t, s.SetPosition(ctx, -1))
	})

	t.Run("small movement updates position without relay", func(t *testing.T) {
		s, up, _ := newTestShutter(travelTimes{shutter.DirectionOpen: 10 * time.Second})

		var updates []int
		s.OnUpdate(func(_ string, position int) { updates = append(updates, position) })

		require.NoError(t, s.SetPosition(ctx, 4))
		assert.Equal(t, 4, s.Position())
		assert.Equal(t, shutter.ShutterOpenState, s.State())
		assert.Equal(t, 0, up.Enables())
		assert.Equal(t, []int{4}, updates)
	})

	t.Run("travel time depends on direction", func(t *testing.T) {
		s, up, down := newTestShutter(travelTimes{
			shutter.DirectionOpen:  time.Millisecond * 50,
			shutter.DirectionClose: time.Minute,
		})
		s.minMove = 0

		require.NoError(t, s.Open(ctx))
		assert.Eventually(t, func() bool { return s.Position() == 100 && s.State() == shutter.ShutterOpenState }, time.Second, time.Millisecond)
		assert.Equal(t, 1, up.Enables())

		require.NoError(t, s.Close(ctx))
		assert.Eventually(t, down.IsEnabled, time.Second, time.Millisecond)
		time.Sleep(time.Millisecond * 50)
		assert.Equal(t, shutter.ShutterClosingState, s.State())
		assert.Greater(t, s.Position(), 90)

		require.NoError(t, s.Stop(ctx))
		assert.Eventually(t, func() bool { return !down.IsEnabled() }, time.Second, time.Millisecond)
		assert.Equal(t, shutter.ShutterOpenState, s.State())
	})
}
