package wizard

import (
	"strconv"
	"strings"

	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
)

// Field keys shared with the host localization table.
const (
	KeyAction             = "action"
	KeyCover              = "cover"
	KeyRecalibrate        = "recalibrate"
	KeyUnderstand         = "understand_and_continue"
	KeyDirection          = "direction"
	KeyStartCalibration   = "start_calibration"
	KeyStopCalibration    = "stop_calibration"
	KeyCancelCalibration  = "cancel_calibration"
	KeyTravelTime         = "travel_time"
	KeySave               = "save"
	KeyCalibrateOther     = "calibrate_other"
	KeyCoverToDelete      = "cover_to_delete"
	KeyDeleteCalibration  = "delete_calibration"
	KeyBase               = "base"
	PlaceholderElapsed    = "elapsed_time"
	PlaceholderCover      = "cover"
	PlaceholderDirection  = "direction"
	PlaceholderStatus     = "status"
	PlaceholderOpenState  = "open_calibration"
	PlaceholderCloseState = "close_calibration"
	PlaceholderSummary    = "calibrations"
	PlaceholderTravelTime = "travel_time"
	PlaceholderSource     = "source"
	PlaceholderPending    = "pending"
)

const (
	ActionCalibrate = "calibrate"
	ActionView      = "view"
	ActionNothing   = "nothing"

	DirectionBoth = "both"
)

type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultAbort       ResultType = "abort"
	ResultCreateEntry ResultType = "create_entry"
)

type FieldType string

const (
	FieldSelect  FieldType = "select"
	FieldBool    FieldType = "bool"
	FieldInteger FieldType = "integer"
)

type Field struct {
	Key      string      `json:"key"`
	Type     FieldType   `json:"type"`
	Options  []string    `json:"options,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Min      int         `json:"min,omitempty"`
	Max      int         `json:"max,omitempty"`
	Required bool        `json:"required,omitempty"`
}

// Result is what the host renders after every action: a form for the current step, an abort
// reason, or the entry created by a finished flow.
type Result struct {
	FlowID       string                         `json:"flow_id"`
	Type         ResultType                     `json:"type"`
	StepID       StepID                         `json:"step_id,omitempty"`
	Cover        *shutter.Ref                   `json:"cover,omitempty"`
	Fields       []Field                        `json:"data_schema,omitempty"`
	Errors       map[string]Reason              `json:"errors,omitempty"`
	Placeholders map[string]string              `json:"description_placeholders,omitempty"`
	Reason       Reason                         `json:"reason,omitempty"`
	Calibrations map[string][]calibration.Entry `json:"calibrations,omitempty"`
}

func (r *Result) Field(key string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f, true
		}
	}

	return Field{}, false
}

// Input is the user data submitted for a step. Values are decoded JSON, so numbers may arrive
// as float64 and booleans as strings.
type Input map[string]interface{}

func (in Input) String(key string) string {
	switch v := in[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return toString(v)
	}
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	}

	return ""
}

func (in Input) Bool(key string) bool {
	switch v := in[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	}

	return false
}

func (in Input) Int(key string) (int, error) {
	switch v := in[key].(type) {
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return 0, errors.Errorf("%s: %v is not a whole number", key, v)
		}
		return int(v), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.Wrapf(err, "%s", key)
		}
		return i, nil
	case nil:
		return 0, errors.Errorf("%s: missing", key)
	}

	return 0, errors.Errorf("%s: unsupported value %v", key, in[key])
}
