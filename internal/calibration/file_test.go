package calibration

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")

	s, err := NewStore(NewFile(path))
	require.NoError(t, err)
	assert.Empty(t, s.Covers(), "missing file means no calibrations")

	updated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put("kitchen_blind", shutter.DirectionOpen, Record{TravelTime: 42, Source: SourceTimed, LastUpdated: updated}))
	require.NoError(t, s.Put("kitchen_blind", shutter.DirectionClose, Record{TravelTime: 120, Source: SourceManual, LastUpdated: updated}))
	require.NoError(t, s.Delete("kitchen_blind", shutter.DirectionClose))

	reloaded, err := NewStore(NewFile(path))
	require.NoError(t, err)

	r, ok := reloaded.Get("kitchen_blind", shutter.DirectionOpen)
	require.True(t, ok)
	assert.Equal(t, 42, r.TravelTime)
	assert.Equal(t, SourceTimed, r.Source)
	assert.True(t, updated.Equal(r.LastUpdated))

	_, ok = reloaded.Get("kitchen_blind", shutter.DirectionClose)
	assert.False(t, ok)
}

func TestFileLoad(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calibration.yaml")
		require.NoError(t, ioutil.WriteFile(path, []byte("  \n"), 0644))

		data, err := NewFile(path).Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("legacy single travel time", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calibration.yaml")
		require.NoError(t, ioutil.WriteFile(path, []byte("covers:\n  salon:\n    travel_time: 40\n"), 0644))

		data, err := NewFile(path).Load()
		require.NoError(t, err)
		assert.Empty(t, data, "a single travel time is not a calibration")

		s, err := NewStore(NewFile(path))
		require.NoError(t, err)
		assert.Equal(t, Summary{OpenTime: 40, CloseTime: 34, CalibrationNeeded: true}, s.Summary("salon"))
		assert.False(t, s.IsCalibrated("salon"))
		_, ok := s.Get("salon", shutter.DirectionOpen)
		assert.False(t, ok)
		assert.Equal(t, 40*time.Second, s.TravelTime("salon", shutter.DirectionOpen))
		assert.Equal(t, 25*time.Second, s.TravelTime("kitchen", shutter.DirectionClose))

		require.NoError(t, s.Put("salon", shutter.DirectionClose, Record{TravelTime: 20, Source: SourceManual}))

		s, err = NewStore(NewFile(path))
		require.NoError(t, err)
		summary := s.Summary("salon")
		assert.Equal(t, 40, summary.OpenTime, "legacy travel time survives a save")
		assert.False(t, summary.IsOpenCalibrated)
		assert.Equal(t, 20, summary.CloseTime)
		assert.True(t, summary.IsCloseCalibrated)
	})

	t.Run("out of range records are skipped by the store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calibration.yaml")
		content := "covers:\n  salon:\n    open:\n      travel_time: 900\n      source: timed\n    close:\n      travel_time: 20\n      source: manual\n"
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))

		s, err := NewStore(NewFile(path))
		require.NoError(t, err)
		_, ok := s.Get("salon", shutter.DirectionOpen)
		assert.False(t, ok)
		r, ok := s.Get("salon", shutter.DirectionClose)
		require.True(t, ok)
		assert.Equal(t, 20, r.TravelTime)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calibration.yaml")
		require.NoError(t, ioutil.WriteFile(path, []byte("covers: [oops"), 0644))

		_, err := NewStore(NewFile(path))
		assert.Error(t, err)
	})
}
