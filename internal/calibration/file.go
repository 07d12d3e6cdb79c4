package calibration

import (
	"io/ioutil"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var (
	_ Persister     = &File{}
	_ CoverDefaults = &File{}
)

type fileCover struct {
	Open  *Record `yaml:"open,omitempty"`
	Close *Record `yaml:"close,omitempty"`

	// LegacyTravelTime is a single travel time for both directions written by older releases.
	LegacyTravelTime int `yaml:"travel_time,omitempty"`
}

type fileContent struct {
	Covers map[string]fileCover `yaml:"covers"`
}

// File persists calibration data as YAML. Every Save replaces the file atomically.
//
// A legacy travel_time is never turned into records. It is kept in the file and served
// through CoverDefaults as the fallback travel time of that cover.
type File struct {
	mu       sync.Mutex
	filepath string
	legacy   map[string]int
}

func NewFile(path string) *File {
	return &File{filepath: path}
}

func (f *File) Path() string {
	return f.filepath
}

func (f *File) Load() (Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.legacy = map[string]int{}
	b, err := ioutil.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return Data{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read file %s", f.filepath)
	}
	if strings.TrimSpace(string(b)) == "" {
		return Data{}, nil
	}

	var content fileContent
	if err := yaml.Unmarshal(b, &content); err != nil {
		return nil, errors.Wrapf(err, "failed to decode file %s", f.filepath)
	}

	data := Data{}
	for cover, fc := range content.Covers {
		records := map[shutter.Direction]Record{}
		if fc.Open != nil {
			records[shutter.DirectionOpen] = *fc.Open
		}
		if fc.Close != nil {
			records[shutter.DirectionClose] = *fc.Close
		}
		if fc.LegacyTravelTime > 0 {
			f.legacy[cover] = fc.LegacyTravelTime
		}
		if len(records) > 0 {
			data[cover] = records
		}
	}

	return data, nil
}

// CoverDefaults derives open and close travel times from legacy single travel times.
// It reflects the last Load.
func (f *File) CoverDefaults() map[string]map[shutter.Direction]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	defaults := map[string]map[shutter.Direction]int{}
	for cover, travelTime := range f.legacy {
		if d := legacyTravelTimes(travelTime); len(d) > 0 {
			defaults[cover] = d
			logrus.Infof("%s: legacy travel time %ds used until calibrated", cover, travelTime)
		}
	}

	return defaults
}

func legacyTravelTimes(travelTime int) map[shutter.Direction]int {
	closeTime := int(math.Round(float64(travelTime) * legacyCloseRatio))
	if closeTime < MinTravelTime {
		closeTime = MinTravelTime
	}

	times := map[shutter.Direction]int{}
	for direction, seconds := range map[shutter.Direction]int{
		shutter.DirectionOpen:  travelTime,
		shutter.DirectionClose: closeTime,
	} {
		if ValidateTravelTime(seconds) != nil {
			continue
		}
		times[direction] = seconds
	}

	return times
}

func (f *File) Save(data Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	content := fileContent{Covers: map[string]fileCover{}}
	for cover, travelTime := range f.legacy {
		content.Covers[cover] = fileCover{LegacyTravelTime: travelTime}
	}
	for cover, records := range data {
		fc := content.Covers[cover]
		if r, ok := records[shutter.DirectionOpen]; ok {
			r := r
			fc.Open = &r
		}
		if r, ok := records[shutter.DirectionClose]; ok {
			r := r
			fc.Close = &r
		}
		content.Covers[cover] = fc
	}

	b, err := yaml.Marshal(content)
	if err != nil {
		return errors.Wrap(err, "failed to encode calibration data")
	}

	if err := renameio.WriteFile(f.filepath, b, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write file %s", f.filepath)
	}

	logrus.Debugf("calibration data saved to %s at %s", f.filepath, time.Now().Format(time.RFC3339))

	return nil
}
