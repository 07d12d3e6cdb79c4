package calibration

import (
	"sort"
	"sync"
	"time"

	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Data maps a cover ID to its per-direction records.
type Data map[string]map[shutter.Direction]Record

func (d Data) clone() Data {
	c := make(Data, len(d))
	for cover, records := range d {
		rc := make(map[shutter.Direction]Record, len(records))
		for direction, r := range records {
			rc[direction] = r
		}
		c[cover] = rc
	}

	return c
}

// Persister is the durable backing of a Store.
type Persister interface {
	Load() (Data, error)
	Save(data Data) error
}

// CoverDefaults is implemented by persisters that know fallback travel times of
// individual covers. Those times are used until a direction is calibrated.
type CoverDefaults interface {
	CoverDefaults() map[string]map[shutter.Direction]int
}

type ChangeHandler func(coverID string)

var _ shutter.TravelTimes = &Store{}

// Store holds at most one record per (cover, direction).
//
// Writes are serialized and persisted before they become visible, so a failed
// persist leaves the store untouched and readers never see a partial update.
type Store struct {
	mu        sync.RWMutex
	records   Data
	persister Persister

	defaults      map[shutter.Direction]int
	coverDefaults map[string]map[shutter.Direction]int

	listenersMu sync.Mutex
	listeners   []ChangeHandler
}

type StoreOption func(*Store)

// WithDefaults overrides travel times used for uncalibrated directions.
func WithDefaults(openTime, closeTime int) StoreOption {
	return func(s *Store) {
		if openTime > 0 {
			s.defaults[shutter.DirectionOpen] = openTime
		}
		if closeTime > 0 {
			s.defaults[shutter.DirectionClose] = closeTime
		}
	}
}

// NewStore loads records from p. A nil persister keeps records in memory only.
func NewStore(p Persister, opts ...StoreOption) (*Store, error) {
	s := &Store{
		records:   Data{},
		persister: p,
		defaults: map[shutter.Direction]int{
			shutter.DirectionOpen:  DefaultOpenTime,
			shutter.DirectionClose: DefaultCloseTime,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	if p == nil {
		return s, nil
	}

	data, err := p.Load()
	if err != nil {
		return nil, errors.Wrap(err, "calibration store load failed")
	}
	for cover, records := range data {
		for direction, r := range records {
			if err := r.Validate(); err != nil {
				logrus.Warnf("%s: skip stored %s calibration: %s", cover, direction, err)
				continue
			}
			if s.records[cover] == nil {
				s.records[cover] = map[shutter.Direction]Record{}
			}
			s.records[cover][direction] = r
		}
	}
	if cd, ok := p.(CoverDefaults); ok {
		s.coverDefaults = cd.CoverDefaults()
	}

	return s, nil
}

func (s *Store) OnChange(h ChangeHandler) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.listeners = append(s.listeners, h)
}

func (s *Store) notify(coverID string) {
	s.listenersMu.Lock()
	listeners := append([]ChangeHandler(nil), s.listeners...)
	s.listenersMu.Unlock()

	for _, h := range listeners {
		h(coverID)
	}
}

func (s *Store) Get(coverID string, direction shutter.Direction) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[coverID][direction]
	return r, ok
}

// List returns the records of a cover in open, close order.
func (s *Store) List(coverID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []Entry
	for _, direction := range shutter.Directions {
		if r, ok := s.records[coverID][direction]; ok {
			entries = append(entries, Entry{Direction: direction, Record: r})
		}
	}

	return entries
}

// Covers returns IDs of covers having at least one record.
func (s *Store) Covers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id, records := range s.records {
		if len(records) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids
}

func (s *Store) Put(coverID string, direction shutter.Direction, r Record) error {
	return s.PutAll(coverID, map[shutter.Direction]Record{direction: r})
}

// PutAll upserts records of several directions of one cover. Either all of them
// are stored or none is.
func (s *Store) PutAll(coverID string, records map[shutter.Direction]Record) error {
	if coverID == "" {
		return errors.New("calibration put: empty cover id")
	}
	for direction, r := range records {
		if _, err := shutter.ParseDirection(string(direction)); err != nil {
			return errors.Wrap(err, "calibration put")
		}
		if err := r.Validate(); err != nil {
			return errors.Wrapf(err, "%s: %s calibration put", coverID, direction)
		}
	}

	err := s.write(coverID, func(data Data) bool {
		if data[coverID] == nil {
			data[coverID] = map[shutter.Direction]Record{}
		}
		for direction, r := range records {
			if r.LastUpdated.IsZero() {
				r.LastUpdated = time.Now()
			}
			data[coverID][direction] = r
		}
		return len(records) > 0
	})
	if err != nil {
		return err
	}

	for direction, r := range records {
		logrus.Infof("%s: %s calibration stored (%ds, %s)", coverID, direction, r.TravelTime, r.Source)
	}

	return nil
}

// Delete removes a record. Deleting a missing record is a no-op.
func (s *Store) Delete(coverID string, direction shutter.Direction) error {
	return s.write(coverID, func(data Data) bool {
		if _, ok := data[coverID][direction]; !ok {
			return false
		}
		delete(data[coverID], direction)
		if len(data[coverID]) == 0 {
			delete(data, coverID)
		}
		logrus.Infof("%s: %s calibration deleted", coverID, direction)
		return true
	})
}

func (s *Store) write(coverID string, mutate func(Data) bool) error {
	s.mu.Lock()

	next := s.records.clone()
	if !mutate(next) {
		s.mu.Unlock()
		return nil
	}

	if s.persister != nil {
		if err := s.persister.Save(next); err != nil {
			s.mu.Unlock()
			return errors.Wrapf(err, "%s: calibration persist failed", coverID)
		}
	}
	s.records = next
	s.mu.Unlock()

	s.notify(coverID)

	return nil
}

// TravelTime returns the calibrated travel time. Uncalibrated directions fall back to the
// cover default, then to the direction default.
func (s *Store) TravelTime(coverID string, direction shutter.Direction) time.Duration {
	if r, ok := s.Get(coverID, direction); ok {
		return r.Duration()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if seconds, ok := s.coverDefaults[coverID][direction]; ok {
		return time.Duration(seconds) * time.Second
	}

	return time.Duration(s.defaults[direction]) * time.Second
}

func (s *Store) Summary(coverID string) Summary {
	open, openOK := s.Get(coverID, shutter.DirectionOpen)
	closing, closeOK := s.Get(coverID, shutter.DirectionClose)

	summary := Summary{
		OpenTime:          int(s.TravelTime(coverID, shutter.DirectionOpen) / time.Second),
		CloseTime:         int(s.TravelTime(coverID, shutter.DirectionClose) / time.Second),
		IsOpenCalibrated:  openOK,
		IsCloseCalibrated: closeOK,
	}
	if openOK {
		summary.OpenTime = open.TravelTime
	}
	if closeOK {
		summary.CloseTime = closing.TravelTime
	}
	summary.IsFullyCalibrated = openOK && closeOK
	summary.CalibrationNeeded = !summary.IsFullyCalibrated

	return summary
}

// IsCalibrated reports whether every direction of a cover has a record.
func (s *Store) IsCalibrated(coverID string) bool {
	return len(s.List(coverID)) == len(shutter.Directions)
}
