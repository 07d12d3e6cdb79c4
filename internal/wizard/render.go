package wizard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
)

const calibrationKeySeparator = ":"

func coverToDeleteKey(coverID string, direction shutter.Direction) string {
	return coverID + calibrationKeySeparator + string(direction)
}

func parseCoverToDelete(v string) (string, shutter.Direction, bool) {
	i := strings.LastIndex(v, calibrationKeySeparator)
	if i <= 0 {
		return "", "", false
	}

	direction, err := shutter.ParseDirection(v[i+1:])
	if err != nil {
		return "", "", false
	}

	return v[:i], direction, true
}

func describe(r calibration.Record, ok bool) string {
	if !ok {
		return "not calibrated"
	}

	return fmt.Sprintf("%ds (%s)", r.TravelTime, r.Source)
}

func directionOptions() []string {
	return []string{string(shutter.DirectionOpen), string(shutter.DirectionClose), DirectionBoth}
}

func (w *Wizard) render(s *Session, errs map[string]Reason) *Result {
	if st, ok := s.step.(inProgressStep); ok {
		return w.inProgressForm(s.id, s.cover, st.direction, st.started)
	}

	r := &Result{
		FlowID:       s.id,
		Type:         ResultForm,
		StepID:       s.step.id(),
		Errors:       errs,
		Placeholders: map[string]string{},
	}
	if s.cover.ID != "" {
		cover := s.cover
		r.Cover = &cover
		r.Placeholders[PlaceholderCover] = cover.Name
	}

	switch st := s.step.(type) {
	case initStep:
		var ids []string
		for _, ref := range w.covers.Covers() {
			ids = append(ids, ref.ID)
		}
		r.Fields = []Field{
			{Key: KeyAction, Type: FieldSelect, Options: []string{ActionCalibrate, ActionView, ActionNothing}, Default: ActionCalibrate, Required: true},
			{Key: KeyCover, Type: FieldSelect, Options: ids},
			{Key: KeyRecalibrate, Type: FieldBool, Default: false},
		}
	case safetyStep:
		r.Placeholders[PlaceholderStatus] = st.status.String()
		r.Fields = []Field{
			{Key: KeyUnderstand, Type: FieldBool, Default: false, Required: true},
		}
	case selectDirectionStep:
		open, openOK := w.store.Get(s.cover.ID, shutter.DirectionOpen)
		closing, closeOK := w.store.Get(s.cover.ID, shutter.DirectionClose)
		r.Placeholders[PlaceholderOpenState] = describe(open, openOK)
		r.Placeholders[PlaceholderCloseState] = describe(closing, closeOK)
		r.Fields = []Field{
			{Key: KeyDirection, Type: FieldSelect, Options: directionOptions(), Default: DirectionBoth, Required: true},
		}
	case startStep:
		r.Placeholders[PlaceholderDirection] = string(st.direction)
		r.Fields = []Field{
			{Key: KeyStartCalibration, Type: FieldBool, Default: true},
		}
	case manualEntryStep:
		r.Placeholders[PlaceholderDirection] = string(st.direction)
		r.Fields = []Field{
			{Key: KeyTravelTime, Type: FieldInteger, Default: st.value, Min: calibration.MinTravelTime, Max: calibration.MaxTravelTime, Required: true},
		}
	case completeStep:
		result := s.results[st.direction]
		r.Placeholders[PlaceholderDirection] = string(st.direction)
		r.Placeholders[PlaceholderTravelTime] = strconv.Itoa(result.TravelTime)
		r.Placeholders[PlaceholderSource] = string(result.Source)
		var pending []string
		for _, d := range s.pending() {
			pending = append(pending, string(d))
		}
		r.Placeholders[PlaceholderPending] = strings.Join(pending, ", ")

		r.Fields = []Field{{Key: KeySave, Type: FieldBool, Default: len(pending) == 0}}
		if _, done := s.results[st.direction.Opposite()]; !done {
			r.Fields = append(r.Fields, Field{Key: KeyCalibrateOther, Type: FieldBool, Default: len(pending) > 0})
		}
		r.Fields = append(r.Fields, Field{Key: KeyRecalibrate, Type: FieldBool, Default: false})
	case viewStep:
		r.Calibrations = w.calibrations()
		var options []string
		for _, id := range sortedKeys(r.Calibrations) {
			for _, e := range r.Calibrations[id] {
				options = append(options, coverToDeleteKey(id, e.Direction))
			}
		}
		r.Placeholders[PlaceholderSummary] = w.summary(r.Calibrations)
		r.Fields = []Field{
			{Key: KeyCoverToDelete, Type: FieldSelect, Options: options},
			{Key: KeyDeleteCalibration, Type: FieldBool, Default: false},
		}
	}

	return r
}

func (w *Wizard) inProgressForm(flowID string, cover shutter.Ref, direction shutter.Direction, started time.Time) *Result {
	return &Result{
		FlowID: flowID,
		Type:   ResultForm,
		StepID: StepInProgress,
		Cover:  &cover,
		Placeholders: map[string]string{
			PlaceholderCover:     cover.Name,
			PlaceholderDirection: string(direction),
			PlaceholderElapsed:   strconv.Itoa(w.elapsed(started)),
		},
		Fields: []Field{
			{Key: KeyStopCalibration, Type: FieldBool, Default: false},
			{Key: KeyCancelCalibration, Type: FieldBool, Default: false},
		},
	}
}

// calibrations lists records of every known cover, including covers that are only in the store.
func (w *Wizard) calibrations() map[string][]calibration.Entry {
	out := map[string][]calibration.Entry{}
	for _, ref := range w.covers.Covers() {
		out[ref.ID] = w.store.List(ref.ID)
	}
	for _, id := range w.store.Covers() {
		out[id] = w.store.List(id)
	}

	return out
}

func (w *Wizard) summary(cals map[string][]calibration.Entry) string {
	names := map[string]string{}
	for _, ref := range w.covers.Covers() {
		names[ref.ID] = ref.Name
	}

	var lines []string
	for _, id := range sortedKeys(cals) {
		if len(cals[id]) == 0 {
			continue
		}
		name := names[id]
		if name == "" {
			name = id
		}
		var parts []string
		for _, e := range cals[id] {
			parts = append(parts, fmt.Sprintf("%s %s", e.Direction, describe(e.Record, true)))
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, strings.Join(parts, ", ")))
	}
	if len(lines) == 0 {
		return "No calibrations"
	}

	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string][]calibration.Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
