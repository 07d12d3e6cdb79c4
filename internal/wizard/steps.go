package wizard

import (
	"sync"
	"time"

	"github.com/jkaflik/shuttercal/internal/shutter"
)

type StepID string

const (
	StepInit               StepID = "init"
	StepSafetyInstructions StepID = "safety_instructions"
	StepSelectDirection    StepID = "select_direction"
	StepStartCalibration   StepID = "start_calibration"
	StepInProgress         StepID = "calibration_in_progress"
	StepManualEntry        StepID = "manual_entry"
	StepComplete           StepID = "calibration_complete"
	StepViewCalibrations   StepID = "view_calibrations"
)

// step is one state of the wizard. Each variant carries only the data valid in that state.
type step interface {
	id() StepID
}

type initStep struct{}

type safetyStep struct {
	status shutter.Status
}

type selectDirectionStep struct{}

type startStep struct {
	direction shutter.Direction
}

type inProgressStep struct {
	direction shutter.Direction
	started   time.Time
	tick      *ticker
}

type manualEntryStep struct {
	direction shutter.Direction
	// value holds what the user typed last, kept across a failed validation.
	value interface{}
}

type completeStep struct {
	direction shutter.Direction
}

type viewStep struct{}

func (initStep) id() StepID            { return StepInit }
func (safetyStep) id() StepID          { return StepSafetyInstructions }
func (selectDirectionStep) id() StepID { return StepSelectDirection }
func (startStep) id() StepID           { return StepStartCalibration }
func (inProgressStep) id() StepID      { return StepInProgress }
func (manualEntryStep) id() StepID     { return StepManualEntry }
func (completeStep) id() StepID        { return StepComplete }
func (viewStep) id() StepID            { return StepViewCalibrations }

// ticker re-renders the in-progress step periodically until stopped.
type ticker struct {
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

func startTicker(interval time.Duration, fn func()) *ticker {
	t := &ticker{done: make(chan struct{}), stopped: make(chan struct{})}
	if fn == nil || interval <= 0 {
		close(t.stopped)
		return t
	}

	go func() {
		defer close(t.stopped)

		every := time.NewTicker(interval)
		defer every.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-every.C:
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return t
}

// stop returns once a tick in flight has been delivered. No tick follows it.
func (t *ticker) stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() { close(t.done) })
	<-t.stopped
}
