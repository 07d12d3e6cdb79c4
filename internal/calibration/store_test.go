package calibration

import (
	"sync"
	"testing"
	"time"

	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPersister struct {
	data  Data
	fail  bool
	saves int
}

func (p *failingPersister) Load() (Data, error) {
	return p.data, nil
}

func (p *failingPersister) Save(data Data) error {
	p.saves++
	if p.fail {
		return errors.New("disk full")
	}
	p.data = data
	return nil
}

func TestValidateTravelTime(t *testing.T) {
	for _, v := range []int{5, 6, 42, 120, 299, 300} {
		assert.NoError(t, ValidateTravelTime(v), "%d should be accepted", v)
	}
	for _, v := range []int{-1, 0, 4, 301, 400} {
		err := ValidateTravelTime(v)
		assert.Error(t, err, "%d should be rejected", v)
		assert.Equal(t, ErrInvalidRange, errors.Cause(err))
	}
}

func TestStorePutGet(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	t.Run("uncalibrated cover has no record", func(t *testing.T) {
		_, ok := s.Get("kitchen_blind", shutter.DirectionOpen)
		assert.False(t, ok)
		assert.Empty(t, s.List("kitchen_blind"))
	})

	t.Run("last put wins", func(t *testing.T) {
		for _, v := range []int{10, 20, 42} {
			require.NoError(t, s.Put("kitchen_blind", shutter.DirectionOpen, Record{TravelTime: v, Source: SourceTimed}))
		}

		r, ok := s.Get("kitchen_blind", shutter.DirectionOpen)
		require.True(t, ok)
		assert.Equal(t, 42, r.TravelTime)
		assert.Equal(t, SourceTimed, r.Source)
		assert.False(t, r.LastUpdated.IsZero())
		assert.Len(t, s.List("kitchen_blind"), 1)
	})

	t.Run("invalid record is rejected", func(t *testing.T) {
		err := s.Put("kitchen_blind", shutter.DirectionClose, Record{TravelTime: 400, Source: SourceManual})
		assert.Equal(t, ErrInvalidRange, errors.Cause(err))
		_, ok := s.Get("kitchen_blind", shutter.DirectionClose)
		assert.False(t, ok)
	})

	t.Run("list is ordered open then close", func(t *testing.T) {
		require.NoError(t, s.Put("kitchen_blind", shutter.DirectionClose, Record{TravelTime: 30, Source: SourceManual}))

		entries := s.List("kitchen_blind")
		require.Len(t, entries, 2)
		assert.Equal(t, shutter.DirectionOpen, entries[0].Direction)
		assert.Equal(t, shutter.DirectionClose, entries[1].Direction)
		assert.True(t, s.IsCalibrated("kitchen_blind"))
	})
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	require.NoError(t, s.Put("salon", shutter.DirectionOpen, Record{TravelTime: 30, Source: SourceManual}))

	assert.NoError(t, s.Delete("salon", shutter.DirectionOpen))
	assert.NoError(t, s.Delete("salon", shutter.DirectionOpen))
	assert.NoError(t, s.Delete("nowhere", shutter.DirectionClose))

	_, ok := s.Get("salon", shutter.DirectionOpen)
	assert.False(t, ok)
	assert.Empty(t, s.Covers())
}

func TestStorePutAllIsAtomic(t *testing.T) {
	p := &failingPersister{}
	s, err := NewStore(p)
	require.NoError(t, err)

	require.NoError(t, s.Put("salon", shutter.DirectionOpen, Record{TravelTime: 30, Source: SourceManual}))

	p.fail = true
	err = s.PutAll("salon", map[shutter.Direction]Record{
		shutter.DirectionOpen:  {TravelTime: 40, Source: SourceTimed},
		shutter.DirectionClose: {TravelTime: 35, Source: SourceTimed},
	})
	require.Error(t, err)

	r, ok := s.Get("salon", shutter.DirectionOpen)
	require.True(t, ok)
	assert.Equal(t, 30, r.TravelTime, "previous record must survive a failed save")
	_, ok = s.Get("salon", shutter.DirectionClose)
	assert.False(t, ok)

	t.Run("a batch with one invalid record stores nothing", func(t *testing.T) {
		p.fail = false
		err := s.PutAll("salon", map[shutter.Direction]Record{
			shutter.DirectionOpen:  {TravelTime: 40, Source: SourceTimed},
			shutter.DirectionClose: {TravelTime: 1, Source: SourceTimed},
		})
		require.Error(t, err)
		r, _ := s.Get("salon", shutter.DirectionOpen)
		assert.Equal(t, 30, r.TravelTime)
	})
}

func TestStoreNotifiesOnChange(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	var changed []string
	s.OnChange(func(coverID string) { changed = append(changed, coverID) })

	require.NoError(t, s.Put("salon", shutter.DirectionOpen, Record{TravelTime: 30, Source: SourceManual}))
	require.NoError(t, s.Delete("salon", shutter.DirectionClose))
	require.NoError(t, s.Delete("salon", shutter.DirectionOpen))

	assert.Equal(t, []string{"salon", "salon"}, changed)
}

func TestStoreTravelTimeAndSummary(t *testing.T) {
	s, err := NewStore(nil, WithDefaults(40, 0))
	require.NoError(t, err)

	assert.Equal(t, 40*time.Second, s.TravelTime("salon", shutter.DirectionOpen))
	assert.Equal(t, DefaultCloseTime*time.Second, s.TravelTime("salon", shutter.DirectionClose))
	assert.Equal(t, Summary{OpenTime: 40, CloseTime: DefaultCloseTime, CalibrationNeeded: true}, s.Summary("salon"))

	require.NoError(t, s.Put("salon", shutter.DirectionOpen, Record{TravelTime: 12, Source: SourceTimed}))
	require.NoError(t, s.Put("salon", shutter.DirectionClose, Record{TravelTime: 10, Source: SourceManual}))

	assert.Equal(t, 12*time.Second, s.TravelTime("salon", shutter.DirectionOpen))
	assert.Equal(t, Summary{
		OpenTime:          12,
		CloseTime:         10,
		IsOpenCalibrated:  true,
		IsCloseCalibrated: true,
		IsFullyCalibrated: true,
	}, s.Summary("salon"))
}

func TestStoreConcurrentWritesNeverTear(t *testing.T) {
	s, err := NewStore(&failingPersister{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v int) {
			defer wg.Done()
			_ = s.Put("salon", shutter.DirectionOpen, Record{TravelTime: MinTravelTime + v, Source: SourceTimed})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Delete("salon", shutter.DirectionOpen)
		}()
	}
	wg.Wait()

	if r, ok := s.Get("salon", shutter.DirectionOpen); ok {
		assert.NoError(t, r.Validate())
	}
}
