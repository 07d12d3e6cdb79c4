package calibration

import (
	"time"

	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
)

const (
	MinTravelTime = 5
	MaxTravelTime = 300

	DefaultOpenTime  = 30
	DefaultCloseTime = 25

	// legacyCloseRatio derives a close time from a single legacy travel time.
	legacyCloseRatio = 0.85
)

var ErrInvalidRange = errors.Errorf("travel time must be within [%d, %d] seconds", MinTravelTime, MaxTravelTime)

// Source tells how a travel time was obtained.
type Source string

const (
	SourceTimed  Source = "timed"
	SourceManual Source = "manual"
)

// Record is the calibration of one cover in one direction.
type Record struct {
	TravelTime  int       `yaml:"travel_time" json:"travel_time"`
	Source      Source    `yaml:"source" json:"source"`
	LastUpdated time.Time `yaml:"last_updated" json:"last_updated"`
}

func (r Record) Duration() time.Duration {
	return time.Duration(r.TravelTime) * time.Second
}

func (r Record) Validate() error {
	if err := ValidateTravelTime(r.TravelTime); err != nil {
		return err
	}
	if r.Source != SourceTimed && r.Source != SourceManual {
		return errors.Errorf("unknown calibration source %q", r.Source)
	}

	return nil
}

func ValidateTravelTime(seconds int) error {
	if seconds < MinTravelTime || seconds > MaxTravelTime {
		return errors.Wrapf(ErrInvalidRange, "got %d", seconds)
	}

	return nil
}

// Entry is a record paired with its direction, as returned by Store.List.
type Entry struct {
	Direction shutter.Direction `json:"direction"`
	Record    Record            `json:"record"`
}

// Summary mirrors what position estimation knows about a cover.
type Summary struct {
	OpenTime          int  `json:"open_time"`
	CloseTime         int  `json:"close_time"`
	IsOpenCalibrated  bool `json:"is_open_calibrated"`
	IsCloseCalibrated bool `json:"is_close_calibrated"`
	IsFullyCalibrated bool `json:"is_fully_calibrated"`
	CalibrationNeeded bool `json:"calibration_needed"`
}
