package relay

import (
	"context"
	"sync"
	"time"

	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxMotion bounds a StartMotion run that is never stopped.
	DefaultMaxMotion = 5*time.Minute + 10*time.Second

	// movements shorter than this are applied to the position without moving the shutter
	defaultMinMove = 500 * time.Millisecond
)

var _ shutter.StatelessShutter = &RelaysShutter{}

// RelaysShutter is a shutter driven by an up and a down relay. Its position is estimated from
// per-direction travel times.
type RelaysShutter struct {
	rUp   Relay
	rDown Relay

	ref               shutter.Ref
	fullOpenPosition  int
	fullClosePosition int
	travel            shutter.TravelTimes

	MaxMotion time.Duration
	minMove   time.Duration

	mu              sync.Mutex
	updateHandler   shutter.ShutterUpdateHandler
	currentState    string
	currentPosition int
	// motion is the direction of a StartMotion run in progress
	motion shutter.Direction

	cancelCurrentContext context.CancelFunc
}

func NewRelaysShutter(ref shutter.Ref, up Relay, down Relay, fullOpenPosition int, fullClosePosition int, travel shutter.TravelTimes) *RelaysShutter {
	if ref.Name == "" {
		ref.Name = ref.ID
	}

	return &RelaysShutter{
		rUp:               up,
		rDown:             down,
		ref:               ref,
		fullOpenPosition:  fullOpenPosition,
		fullClosePosition: fullClosePosition,
		travel:            travel,
		MaxMotion:         DefaultMaxMotion,
		minMove:           defaultMinMove,
		currentState:      shutter.ShutterClosedState,
		currentPosition:   fullClosePosition,
	}
}

func (s *RelaysShutter) ResetPosition(position int) error {
	if position > s.fullOpenPosition || position < s.fullClosePosition {
		return errors.Errorf("%s: %d is out of range (%d/%d)", s.ref.ID, position, s.fullOpenPosition, s.fullClosePosition)
	}

	s.mu.Lock()
	s.currentPosition = position
	s.currentState = s.restingState()
	s.mu.Unlock()

	return nil
}

// retainContext cancels the previous operation and derives a context for the next one.
func (s *RelaysShutter) retainContext(parent context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelCurrentContext != nil {
		logrus.Debugf("%s: found previous operation context, cancel", s.ref.ID)
		s.cancelCurrentContext()
	}
	s.motion = ""

	var ctx context.Context
	ctx, s.cancelCurrentContext = context.WithCancel(parent)
	return ctx
}

func (s *RelaysShutter) Ref() shutter.Ref {
	return s.ref
}

func (s *RelaysShutter) Name() string {
	return s.ref.ID
}

func (s *RelaysShutter) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentPosition
}

func (s *RelaysShutter) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentState
}

func (s *RelaysShutter) FullOpenPosition() int {
	return s.fullOpenPosition
}

func (s *RelaysShutter) FullClosePosition() int {
	return s.fullClosePosition
}

func (s *RelaysShutter) OnUpdate(h shutter.ShutterUpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateHandler = h
}

// notify publishes the current state. It must be called without s.mu held.
func (s *RelaysShutter) notify() {
	s.mu.Lock()
	h, state, position := s.updateHandler, s.currentState, s.currentPosition
	s.mu.Unlock()

	if h != nil {
		h(state, position)
	}
}

// restingState must be called with s.mu held.
func (s *RelaysShutter) restingState() string {
	if s.currentPosition == s.fullClosePosition {
		return shutter.ShutterClosedState
	}

	return shutter.ShutterOpenState
}

func (s *RelaysShutter) relay(direction shutter.Direction) (Relay, string) {
	if direction == shutter.DirectionOpen {
		return s.rUp, shutter.ShutterOpeningState
	}

	return s.rDown, shutter.ShutterClosingState
}

func (s *RelaysShutter) endPosition(direction shutter.Direction) int {
	if direction == shutter.DirectionOpen {
		return s.fullOpenPosition
	}

	return s.fullClosePosition
}

func (s *RelaysShutter) Open(ctx context.Context) error {
	logrus.Infof("%s: open", s.ref.ID)

	return s.setPosition(s.retainContext(ctx), s.fullOpenPosition)
}

func (s *RelaysShutter) Close(ctx context.Context) error {
	logrus.Infof("%s: close", s.ref.ID)

	return s.setPosition(s.retainContext(ctx), s.fullClosePosition)
}

func (s *RelaysShutter) SetPosition(ctx context.Context, targetPosition int) error {
	if targetPosition > s.fullOpenPosition || targetPosition < s.fullClosePosition {
		return errors.Errorf(
			"%s: %d is out of range open/close targetPosition for (%d/%d)",
			s.ref.ID,
			targetPosition,
			s.fullOpenPosition,
			s.fullClosePosition,
		)
	}

	return s.setPosition(s.retainContext(ctx), targetPosition)
}

// Stop halts any movement. A StartMotion run is assumed to have reached its end position.
func (s *RelaysShutter) Stop(_ context.Context) error {
	logrus.Infof("%s: stop", s.ref.ID)

	s.mu.Lock()
	if s.cancelCurrentContext != nil {
		s.cancelCurrentContext()
		s.cancelCurrentContext = nil
	}
	if s.motion != "" {
		s.currentPosition = s.endPosition(s.motion)
		s.motion = ""
	}
	s.currentState = s.restingState()
	s.mu.Unlock()

	s.notify()

	return nil
}

// StartMotion enables the relay of a direction until StopMotion, ctx end or MaxMotion.
func (s *RelaysShutter) StartMotion(ctx context.Context, direction shutter.Direction) error {
	if _, err := shutter.ParseDirection(string(direction)); err != nil {
		return errors.Wrapf(err, "%s: start motion", s.ref.ID)
	}

	ctx = s.retainContext(ctx)
	relay, state := s.relay(direction)

	s.mu.Lock()
	s.motion = direction
	s.currentState = state
	s.mu.Unlock()
	s.notify()

	logrus.Infof("%s: %s motion started", s.ref.ID, direction)

	go func() {
		err := relay.EnableFor(ctx, s.MaxMotion)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logrus.Errorf("%s: enable relay error: %s", s.ref.ID, err)
		}

		s.mu.Lock()
		if s.motion == direction {
			s.currentPosition = s.endPosition(direction)
			s.motion = ""
		}
		s.currentState = s.restingState()
		s.mu.Unlock()
		s.notify()

		logrus.Warnf("%s: %s motion ended without stop", s.ref.ID, direction)
	}()

	return nil
}

func (s *RelaysShutter) StopMotion(ctx context.Context) error {
	return s.Stop(ctx)
}

func (s *RelaysShutter) Status(_ context.Context) (shutter.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return shutter.Status{
		State:    s.currentState,
		Position: s.currentPosition,
		Moving:   s.currentState == shutter.ShutterOpeningState || s.currentState == shutter.ShutterClosingState,
	}, nil
}

func (s *RelaysShutter) setPosition(ctx context.Context, targetPosition int) error {
	logrus.Infof("%s: set targetPosition to %d", s.ref.ID, targetPosition)

	s.mu.Lock()
	current := s.currentPosition
	s.mu.Unlock()

	if current == targetPosition {
		logrus.Debugf("%s: already on a position %d", s.ref.ID, targetPosition)
		return nil
	}

	direction := shutter.DirectionClose
	if targetPosition > current {
		direction = shutter.DirectionOpen
	}

	diff := targetPosition - current
	if diff < 0 {
		diff = -diff
	}

	span := s.fullOpenPosition - s.fullClosePosition
	var travelTime time.Duration
	if s.travel != nil {
		travelTime = s.travel.TravelTime(s.ref.ID, direction)
	}
	timeToMove := (travelTime * time.Duration(diff)) / time.Duration(span)
	logrus.Debugf("%s: move %s by %d (%s)", s.ref.ID, direction, diff, timeToMove.String())

	if timeToMove < s.minMove {
		logrus.Debugf("%s: movement too small, position set without moving", s.ref.ID)
		s.mu.Lock()
		s.currentPosition = targetPosition
		s.currentState = s.restingState()
		s.mu.Unlock()
		s.notify()
		return nil
	}

	relay, state := s.relay(direction)
	s.mu.Lock()
	s.currentState = state
	s.mu.Unlock()
	s.notify()

	go s.calculatePositionDuringMove(ctx, targetPosition, travelTime/time.Duration(span), timeToMove)

	go func() {
		logrus.Debugf("%s: enable relay for %s", s.ref.ID, timeToMove.String())
		if err := relay.EnableFor(ctx, timeToMove); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logrus.Infof("%s: set position %d canceled", s.ref.ID, targetPosition)
			} else {
				logrus.Errorf("%s: enable relay error: %s", s.ref.ID, err)
			}
			return
		}

		s.mu.Lock()
		s.currentPosition = targetPosition
		s.currentState = s.restingState()
		state, position := s.currentState, s.currentPosition
		s.mu.Unlock()
		s.notify()

		logrus.Infof("%s: updated state %s, position %d", s.ref.ID, state, position)
	}()

	return nil
}

func (s *RelaysShutter) calculatePositionDuringMove(ctx context.Context, targetPosition int, perStep time.Duration, timeToMove time.Duration) {
	if perStep <= 0 {
		return
	}

	logrus.Debugf("%s: begin position calculation", s.ref.ID)

	after := time.NewTimer(timeToMove)
	defer after.Stop()
	every := time.NewTicker(perStep)
	defer every.Stop()
	for {
		select {
		case <-after.C:
			logrus.Debugf("%s: timeout position calculation", s.ref.ID)
			return
		case <-ctx.Done():
			logrus.Debugf("%s: exit position calculation", s.ref.ID)
			return
		case <-every.C:
			s.mu.Lock()
			switch {
			case s.currentPosition < targetPosition:
				logrus.Tracef("%s: increase position", s.ref.ID)
				s.currentPosition++
			case s.currentPosition > targetPosition:
				logrus.Tracef("%s: decrease position", s.ref.ID)
				s.currentPosition--
			}
			s.mu.Unlock()

			s.notify()
		}
	}
}
