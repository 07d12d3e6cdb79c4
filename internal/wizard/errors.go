package wizard

import (
	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
)

// Reason is an error key surfaced to the host UI. Reasons never cross the boundary as Go errors.
type Reason string

const (
	ReasonCannotConnect         Reason = "cannot_connect"
	ReasonInvalidAuth           Reason = "invalid_auth"
	ReasonUnknown               Reason = "unknown"
	ReasonInvalidRange          Reason = "invalid_range"
	ReasonAlreadyConfigured     Reason = "already_configured"
	ReasonNoCoversFound         Reason = "no_covers_found"
	ReasonCalibrationIncomplete Reason = "calibration_incomplete"
	ReasonIdleTimeout           Reason = "idle_timeout"
)

type reasonError Reason

func (e reasonError) Error() string {
	return string(e)
}

var (
	ErrCannotConnect     error = reasonError(ReasonCannotConnect)
	ErrInvalidAuth       error = reasonError(ReasonInvalidAuth)
	ErrAlreadyConfigured error = reasonError(ReasonAlreadyConfigured)
	ErrNoCoversFound     error = reasonError(ReasonNoCoversFound)

	ErrUnknownFlow = errors.New("unknown flow")
)

// ReasonOf classifies an error into a host-facing reason. Unclassified errors are ReasonUnknown.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}

	switch cause := errors.Cause(err); {
	case cause == calibration.ErrInvalidRange:
		return ReasonInvalidRange
	case cause == shutter.ErrCoverNotFound:
		return ReasonNoCoversFound
	default:
		if r, ok := cause.(reasonError); ok {
			return Reason(r)
		}
	}

	return ReasonUnknown
}

func isConnectivity(r Reason) bool {
	return r == ReasonCannotConnect || r == ReasonInvalidAuth
}

func isAbort(r Reason) bool {
	return r == ReasonAlreadyConfigured || r == ReasonNoCoversFound
}

// driverError classifies a Cover Driver failure. A vanished cover aborts the flow, anything else is a
// connectivity problem.
func driverError(err error, format string, args ...interface{}) error {
	args = append(args, err)
	if errors.Cause(err) == shutter.ErrCoverNotFound {
		return errors.Wrapf(ErrNoCoversFound, format+": %s", args...)
	}

	return errors.Wrapf(ErrCannotConnect, format+": %s", args...)
}
