package wizard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultTickInterval = time.Second

type CoverLister interface {
	Covers() []shutter.Ref
}

// CoverDriver moves covers during a timed calibration run.
type CoverDriver interface {
	StartMotion(ctx context.Context, cover shutter.Ref, direction shutter.Direction) error
	StopMotion(ctx context.Context, cover shutter.Ref) error
	Status(ctx context.Context, cover shutter.Ref) (shutter.Status, error)
}

type Store interface {
	Get(coverID string, direction shutter.Direction) (calibration.Record, bool)
	List(coverID string) []calibration.Entry
	PutAll(coverID string, records map[shutter.Direction]calibration.Record) error
	Delete(coverID string, direction shutter.Direction) error
	Covers() []string
	IsCalibrated(coverID string) bool
}

// TickHandler receives a re-rendered in-progress form on every tick of a timed run.
type TickHandler func(r *Result)

type Option func(*Wizard)

// WithClock replaces time.Now. The clock must be monotonic for elapsed time to be meaningful.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

func WithTickInterval(d time.Duration) Option {
	return func(w *Wizard) { w.tickInterval = d }
}

func WithTickHandler(h TickHandler) Option {
	return func(w *Wizard) { w.onTick = h }
}

// Session is the transient state of one calibration flow. It never outlives the process.
type Session struct {
	mu     sync.Mutex
	id     string
	closed bool

	// touched is guarded by Wizard.mu.
	touched time.Time

	cover      shutter.Ref
	directions []shutter.Direction
	results    map[shutter.Direction]calibration.Record

	step step
}

func (s *Session) selected(d shutter.Direction) bool {
	for _, sd := range s.directions {
		if sd == d {
			return true
		}
	}

	return false
}

// pending returns selected directions without a result yet.
func (s *Session) pending() []shutter.Direction {
	var pending []shutter.Direction
	for _, d := range s.directions {
		if _, ok := s.results[d]; !ok {
			pending = append(pending, d)
		}
	}

	return pending
}

func (s *Session) reset() {
	s.cover = shutter.Ref{}
	s.directions = nil
	s.results = nil
	s.step = initStep{}
}

type Wizard struct {
	covers CoverLister
	driver CoverDriver
	store  Store

	now          func() time.Time
	tickInterval time.Duration
	onTick       TickHandler

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(covers CoverLister, driver CoverDriver, store Store, opts ...Option) *Wizard {
	w := &Wizard{
		covers:       covers,
		driver:       driver,
		store:        store,
		now:          time.Now,
		tickInterval: DefaultTickInterval,
		sessions:     map[string]*Session{},
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

func (w *Wizard) log(s *Session) *logrus.Entry {
	fields := logrus.Fields{
		"flow": s.id,
		"step": s.step.id(),
	}
	if s.cover.ID != "" {
		fields["cover"] = s.cover.ID
	}

	return logrus.WithFields(fields)
}

// Flows returns IDs of flows in progress.
func (w *Wizard) Flows() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Start opens a new flow on its init step.
func (w *Wizard) Start(ctx context.Context) *Result {
	if len(w.covers.Covers()) == 0 {
		logrus.Warn("calibration flow aborted: no covers found")
		return &Result{Type: ResultAbort, Reason: ReasonNoCoversFound}
	}

	s := &Session{id: uuid.New().String(), step: initStep{}}

	w.mu.Lock()
	s.touched = w.now()
	w.sessions[s.id] = s
	w.mu.Unlock()

	w.log(s).Info("calibration flow started")

	return w.render(s, nil)
}

func (w *Wizard) session(flowID string) (*Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.sessions[flowID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFlow, "%q", flowID)
	}
	s.touched = w.now()

	return s, nil
}

func (w *Wizard) idle(s *Session, maxIdle time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.now().Sub(s.touched) >= maxIdle
}

// ExpireIdle aborts flows that got no input for maxIdle, stopping a running motor, and returns
// their abort results.
func (w *Wizard) ExpireIdle(ctx context.Context, maxIdle time.Duration) []*Result {
	if maxIdle <= 0 {
		return nil
	}

	w.mu.Lock()
	var candidates []*Session
	for _, s := range w.sessions {
		if w.now().Sub(s.touched) >= maxIdle {
			candidates = append(candidates, s)
		}
	}
	w.mu.Unlock()

	var results []*Result
	for _, s := range candidates {
		s.mu.Lock()
		if s.closed || !w.idle(s, maxIdle) {
			s.mu.Unlock()
			continue
		}

		if err := w.stopRun(ctx, s); err != nil {
			w.log(s).WithError(err).Error("calibration run stop failed")
		}
		w.log(s).Warnf("calibration flow aborted after %s without input", maxIdle)
		w.close(s)
		results = append(results, w.abort(s, ReasonIdleTimeout))
		s.mu.Unlock()
	}
	sort.Slice(results, func(i, j int) bool { return results[i].FlowID < results[j].FlowID })

	return results
}

// Submit delivers user input to the current step of a flow. The returned error is only set when
// the flow does not exist; every other failure is reported through the Result.
func (w *Wizard) Submit(ctx context.Context, flowID string, in Input) (*Result, error) {
	s, err := w.session(flowID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Wrapf(ErrUnknownFlow, "%q", flowID)
	}

	w.log(s).Debugf("calibration flow input %v", map[string]interface{}(in))

	res, err := w.advance(ctx, s, in)
	if err != nil {
		res = w.fail(ctx, s, err)
	}
	if res.Type != ResultForm {
		w.close(s)
	}

	return res, nil
}

// Abort discards a flow. A running motor is stopped before the flow goes away.
func (w *Wizard) Abort(ctx context.Context, flowID string) error {
	s, err := w.session(flowID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Wrapf(ErrUnknownFlow, "%q", flowID)
	}

	err = w.stopRun(ctx, s)
	w.log(s).Info("calibration flow aborted")
	w.close(s)

	return err
}

func (w *Wizard) close(s *Session) {
	s.closed = true

	w.mu.Lock()
	delete(w.sessions, s.id)
	w.mu.Unlock()
}

func (w *Wizard) advance(ctx context.Context, s *Session, in Input) (*Result, error) {
	switch st := s.step.(type) {
	case initStep:
		return w.handleInit(ctx, s, in)
	case safetyStep:
		return w.handleSafety(s, in)
	case selectDirectionStep:
		return w.handleSelectDirection(s, in)
	case startStep:
		return w.handleStart(ctx, s, st, in)
	case inProgressStep:
		return w.handleInProgress(ctx, s, st, in)
	case manualEntryStep:
		return w.handleManualEntry(s, st, in)
	case completeStep:
		return w.handleComplete(s, st, in)
	case viewStep:
		return w.handleView(s, in)
	}

	return nil, errors.Errorf("unhandled step %T", s.step)
}

// stopRun stops the motor if the flow owns a timed run.
func (w *Wizard) stopRun(ctx context.Context, s *Session) error {
	st, ok := s.step.(inProgressStep)
	if !ok {
		return nil
	}

	st.tick.stop()
	s.step = startStep{direction: st.direction}
	if err := w.driver.StopMotion(ctx, s.cover); err != nil {
		return driverError(err, "%s: stop motion", s.cover)
	}

	return nil
}

func (w *Wizard) fail(ctx context.Context, s *Session, err error) *Result {
	if stopErr := w.stopRun(ctx, s); stopErr != nil {
		w.log(s).WithError(stopErr).Error("calibration run stop failed")
	}

	reason := ReasonOf(err)
	switch {
	case isConnectivity(reason):
		w.log(s).WithError(err).Warn("calibration flow lost cover connection")
		s.reset()
		return w.render(s, map[string]Reason{KeyBase: reason})
	case isAbort(reason):
		w.log(s).WithError(err).Warnf("calibration flow aborted: %s", reason)
		return w.abort(s, reason)
	}

	w.log(s).WithError(err).Error("calibration flow failed")

	return w.abort(s, ReasonUnknown)
}

func (w *Wizard) abort(s *Session, reason Reason) *Result {
	return &Result{FlowID: s.id, Type: ResultAbort, Reason: reason}
}

func (w *Wizard) pickCover(id string) (shutter.Ref, error) {
	covers := w.covers.Covers()
	if len(covers) == 0 {
		return shutter.Ref{}, ErrNoCoversFound
	}
	if id == "" && len(covers) == 1 {
		return covers[0], nil
	}
	for _, ref := range covers {
		if ref.ID == id {
			return ref, nil
		}
	}

	return shutter.Ref{}, errors.Wrapf(ErrNoCoversFound, "%q", id)
}

func (w *Wizard) present(cover shutter.Ref) bool {
	for _, ref := range w.covers.Covers() {
		if ref.ID == cover.ID {
			return true
		}
	}

	return false
}

func (w *Wizard) handleInit(ctx context.Context, s *Session, in Input) (*Result, error) {
	switch in.String(KeyAction) {
	case ActionNothing:
		return &Result{FlowID: s.id, Type: ResultCreateEntry}, nil
	case ActionView:
		s.step = viewStep{}
	case ActionCalibrate:
		ref, err := w.pickCover(in.String(KeyCover))
		if err != nil {
			return nil, err
		}
		if !in.Bool(KeyRecalibrate) && w.store.IsCalibrated(ref.ID) {
			return nil, errors.Wrapf(ErrAlreadyConfigured, "%s", ref)
		}

		status, err := w.driver.Status(ctx, ref)
		if err != nil {
			return nil, driverError(err, "%s: status", ref)
		}

		s.cover = ref
		s.step = safetyStep{status: status}
	}

	return w.render(s, nil), nil
}

func (w *Wizard) handleSafety(s *Session, in Input) (*Result, error) {
	if !in.Bool(KeyUnderstand) {
		s.reset()
		return w.render(s, nil), nil
	}
	if !w.present(s.cover) {
		return nil, errors.Wrapf(ErrNoCoversFound, "%s", s.cover)
	}

	s.step = selectDirectionStep{}

	return w.render(s, nil), nil
}

func parseSelection(v string) ([]shutter.Direction, bool) {
	if v == DirectionBoth {
		return append([]shutter.Direction(nil), shutter.Directions...), true
	}

	d, err := shutter.ParseDirection(v)
	if err != nil {
		return nil, false
	}

	return []shutter.Direction{d}, true
}

func (w *Wizard) handleSelectDirection(s *Session, in Input) (*Result, error) {
	if !w.present(s.cover) {
		return nil, errors.Wrapf(ErrNoCoversFound, "%s", s.cover)
	}

	directions, ok := parseSelection(in.String(KeyDirection))
	if !ok {
		return w.render(s, nil), nil
	}

	s.directions = directions
	s.results = map[shutter.Direction]calibration.Record{}
	s.step = startStep{direction: directions[0]}

	return w.render(s, nil), nil
}

func (w *Wizard) handleStart(ctx context.Context, s *Session, st startStep, in Input) (*Result, error) {
	if !in.Bool(KeyStartCalibration) {
		s.step = manualEntryStep{direction: st.direction}
		return w.render(s, nil), nil
	}

	if err := w.driver.StartMotion(ctx, s.cover, st.direction); err != nil {
		if stopErr := w.driver.StopMotion(ctx, s.cover); stopErr != nil {
			w.log(s).WithError(stopErr).Warn("stop after failed start")
		}
		return nil, driverError(err, "%s: start %s motion", s.cover, st.direction)
	}

	started := w.now()
	s.step = inProgressStep{
		direction: st.direction,
		started:   started,
		tick:      startTicker(w.tickInterval, w.tickFunc(s.id, s.cover, st.direction, started)),
	}
	w.log(s).Infof("%s calibration run started", st.direction)

	return w.render(s, nil), nil
}

func (w *Wizard) tickFunc(flowID string, cover shutter.Ref, direction shutter.Direction, started time.Time) func() {
	if w.onTick == nil {
		return nil
	}

	return func() {
		w.onTick(w.inProgressForm(flowID, cover, direction, started))
	}
}

func (w *Wizard) elapsed(started time.Time) int {
	return int(w.now().Sub(started) / time.Second)
}

func (w *Wizard) handleInProgress(ctx context.Context, s *Session, st inProgressStep, in Input) (*Result, error) {
	switch {
	case in.Bool(KeyCancelCalibration):
		if err := w.stopRun(ctx, s); err != nil {
			return nil, err
		}
		s.step = selectDirectionStep{}
		w.log(s).Infof("%s calibration run canceled", st.direction)

		return w.render(s, nil), nil
	case in.Bool(KeyStopCalibration):
		elapsed := w.elapsed(st.started)
		if err := w.stopRun(ctx, s); err != nil {
			return nil, err
		}

		if err := calibration.ValidateTravelTime(elapsed); err != nil {
			w.log(s).Warnf("%s calibration run discarded: %s", st.direction, err)
			return w.render(s, map[string]Reason{KeyBase: ReasonInvalidRange}), nil
		}

		s.results[st.direction] = calibration.Record{
			TravelTime:  elapsed,
			Source:      calibration.SourceTimed,
			LastUpdated: w.now(),
		}
		s.step = completeStep{direction: st.direction}
		w.log(s).Infof("%s calibration run stopped after %ds", st.direction, elapsed)

		return w.render(s, nil), nil
	}

	return w.render(s, nil), nil
}

func (w *Wizard) handleManualEntry(s *Session, st manualEntryStep, in Input) (*Result, error) {
	value, err := in.Int(KeyTravelTime)
	if err == nil {
		err = calibration.ValidateTravelTime(value)
	}
	if err != nil {
		w.log(s).Debugf("manual travel time rejected: %s", err)
		s.step = manualEntryStep{direction: st.direction, value: in[KeyTravelTime]}
		return w.render(s, map[string]Reason{KeyTravelTime: ReasonInvalidRange}), nil
	}

	s.results[st.direction] = calibration.Record{
		TravelTime:  value,
		Source:      calibration.SourceManual,
		LastUpdated: w.now(),
	}
	s.step = completeStep{direction: st.direction}

	return w.render(s, nil), nil
}

func (w *Wizard) handleComplete(s *Session, st completeStep, in Input) (*Result, error) {
	switch {
	case in.Bool(KeySave):
		if len(s.pending()) > 0 {
			return w.render(s, map[string]Reason{KeyBase: ReasonCalibrationIncomplete}), nil
		}
		return w.save(s)
	case in.Bool(KeyCalibrateOther):
		other := st.direction.Opposite()
		if _, done := s.results[other]; done {
			break
		}
		if !s.selected(other) {
			s.directions = append(s.directions, other)
		}
		s.step = startStep{direction: other}
	case in.Bool(KeyRecalibrate):
		delete(s.results, st.direction)
		s.step = startStep{direction: st.direction}
	}

	return w.render(s, nil), nil
}

func (w *Wizard) save(s *Session) (*Result, error) {
	records := make(map[shutter.Direction]calibration.Record, len(s.results))
	for d, r := range s.results {
		records[d] = r
	}

	if err := w.store.PutAll(s.cover.ID, records); err != nil {
		return nil, errors.Wrapf(err, "%s: save calibration", s.cover)
	}

	w.log(s).Info("calibration saved")

	cover := s.cover
	return &Result{
		FlowID:       s.id,
		Type:         ResultCreateEntry,
		Cover:        &cover,
		Calibrations: map[string][]calibration.Entry{cover.ID: w.store.List(cover.ID)},
	}, nil
}

func (w *Wizard) handleView(s *Session, in Input) (*Result, error) {
	if !in.Bool(KeyDeleteCalibration) {
		s.step = initStep{}
		return w.render(s, nil), nil
	}

	coverID, direction, ok := parseCoverToDelete(in.String(KeyCoverToDelete))
	if !ok {
		return w.render(s, nil), nil
	}
	if err := w.store.Delete(coverID, direction); err != nil {
		return nil, errors.Wrapf(err, "%s: delete %s calibration", coverID, direction)
	}

	return w.render(s, nil), nil
}
