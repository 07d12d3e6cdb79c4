package shutter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	ShutterOpenState    = "open"
	ShutterClosedState  = "closed"
	ShutterOpeningState = "opening"
	ShutterClosingState = "closing"
	ShutterStoppedState = "stopped"
)

// Direction of a cover travel. Calibration is tracked per direction.
type Direction string

const (
	DirectionOpen  Direction = "open"
	DirectionClose Direction = "close"
)

// Directions in display order.
var Directions = []Direction{DirectionOpen, DirectionClose}

var ErrInvalidDirection = errors.New("invalid direction")

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionOpen, DirectionClose:
		return Direction(s), nil
	}

	return "", errors.Wrapf(ErrInvalidDirection, "%q", s)
}

func (d Direction) Opposite() Direction {
	if d == DirectionOpen {
		return DirectionClose
	}

	return DirectionOpen
}

// Ref identifies a cover. ID is stable and used as a storage key, Name is for humans.
type Ref struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (r Ref) String() string {
	if r.Name == "" || r.Name == r.ID {
		return r.ID
	}

	return fmt.Sprintf("%s (%s)", r.Name, r.ID)
}

// Status is a point-in-time summary of a cover.
type Status struct {
	State    string `json:"state"`
	Position int    `json:"position"`
	Moving   bool   `json:"moving"`
}

func (s Status) String() string {
	return fmt.Sprintf("%s at %d%%", s.State, s.Position)
}

type ShutterUpdateHandler func(state string, position int)

// TravelTimes provides how long a cover takes to fully travel in a direction.
type TravelTimes interface {
	TravelTime(coverID string, direction Direction) time.Duration
}

type Shutter interface {
	Ref() Ref
	Name() string
	FullOpenPosition() int
	FullClosePosition() int

	Position() int
	State() string

	OnUpdate(h ShutterUpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error

	// StartMotion runs the motor in a direction until StopMotion is called.
	StartMotion(ctx context.Context, direction Direction) error
	StopMotion(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}

type StatelessShutter interface {
	Shutter

	ResetPosition(position int) error
}
