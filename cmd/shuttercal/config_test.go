package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log_level: debug
calibration:
  default_open_time: 40
shutters:
  - name: kitchen
    friendly_name: Kitchen Blind
    kind: relays
    driver:
      relays:
        up:
          kind: dumb
        down:
          kind: dumb
  - name: bedroom
    kind: relays
    driver:
      relays:
        up:
          kind: dumb
        down:
          kind: dumb
`

func loadTestConfig(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, loadConfig(path))
	Cfg.Calibration.StorePath = filepath.Join(dir, "calibrations.yaml")

	return dir
}

func TestLoadConfig(t *testing.T) {
	loadTestConfig(t, testConfig)

	assert.Equal(t, "debug", Cfg.LogLevel)
	assert.Equal(t, 40, Cfg.Calibration.DefaultOpenTime)
	assert.Equal(t, "127.0.0.1:1883", Cfg.MQTT.Broker)
	require.Len(t, Cfg.Shutters, 2)
	assert.Equal(t, shutter.Ref{ID: "kitchen", Name: "Kitchen Blind"}, refFromConfig(Cfg.Shutters[0]))
}

func TestShuttersFromConfig(t *testing.T) {
	loadTestConfig(t, testConfig)

	store, err := storeFromConfig()
	require.NoError(t, err)

	shutters, err := shuttersFromConfig(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, shutters, 2)

	kitchen := shutters[0]
	assert.Equal(t, "Kitchen Blind", kitchen.Ref().Name)
	assert.Equal(t, 100, kitchen.FullOpenPosition())
	assert.Equal(t, 0, kitchen.FullClosePosition())
	assert.Equal(t, "bedroom", shutters[1].Ref().Name)
}

func TestShutterFromConfigErrors(t *testing.T) {
	ctx := context.Background()

	_, err := shutterFromConfig(ctx, cfgShutter{Kind: "relays"}, nil)
	assert.Error(t, err)

	_, err = shutterFromConfig(ctx, cfgShutter{Name: "x", Kind: "somfy"}, nil)
	assert.Error(t, err)

	_, err = shutterFromConfig(ctx, cfgShutter{Name: "x", Kind: "relays", Driver: cfgShutterDriver{
		Relays: cfgShutterDriverRelays{Up: cfgRelay{Kind: "laser"}, Down: cfgRelay{Kind: "dumb"}},
	}}, nil)
	assert.Error(t, err)
}

func TestPrintCalibrations(t *testing.T) {
	color.NoColor = true
	loadTestConfig(t, testConfig)

	store, err := storeFromConfig()
	require.NoError(t, err)
	require.NoError(t, store.Put("kitchen", shutter.DirectionClose, calibration.Record{TravelTime: 20, Source: calibration.SourceManual}))
	require.NoError(t, store.Put("attic", shutter.DirectionOpen, calibration.Record{TravelTime: 12, Source: calibration.SourceTimed}))

	refs := coverRefs(store)
	require.Len(t, refs, 3)
	assert.Equal(t, "attic", refs[2].ID, "covers only known to the store come last")

	var out bytes.Buffer
	printCalibrations(&out, store, refs)

	assert.Contains(t, out.String(), "Kitchen Blind (kitchen)")
	assert.Contains(t, out.String(), "close  20s (manual, ")
	assert.Contains(t, out.String(), "open   40s (default)")
	assert.Contains(t, out.String(), "open   12s (timed, ")
}

func TestCalibrationsCommand(t *testing.T) {
	color.NoColor = true
	dir := loadTestConfig(t, testConfig)
	storePath := Cfg.Calibration.StorePath

	run := func(args ...string) string {
		var out bytes.Buffer
		cmd := NewCommand()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))
		Cfg.Calibration.StorePath = storePath
		require.NoError(t, cmd.Execute())

		return out.String()
	}

	t.Setenv("S2M_CALIBRATION_STORE_PATH", storePath)

	assert.Contains(t, run("calibrations", "set", "kitchen", "open", "42"), "Stored open travel time of kitchen: 42s.")
	assert.Contains(t, run("calibrations", "list"), "open   42s (manual, ")
	assert.Contains(t, run("calibrations", "delete", "kitchen"), "Deleted open and close calibration of kitchen.")
	assert.Contains(t, run("calibrations", "list"), "open   40s (default)")
}

func TestCalibrationsCommandWarnsAboutRunningDaemon(t *testing.T) {
	long := NewCalibrationsCommand().Long

	assert.Contains(t, long, "Stop a running daemon before")
	assert.Contains(t, long, "overwrites the file on its next save")
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	defer func(prev string) { logLevel = prev }(logLevel)

	logLevel = "chatty"
	err := setupLogger()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse log level: ")
	assert.NotEqual(t, err, errors.Cause(err), "parse error is wrapped")

	logLevel = "warn"
	require.NoError(t, setupLogger())
}
