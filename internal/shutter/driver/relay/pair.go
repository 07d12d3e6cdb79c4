package relay

import (
	"context"
	"time"
)

// NewRelayPair interlocks the up and down relays of one shutter so both are never enabled together.
func NewRelayPair(up, down Relay) (*PairedRelay, *PairedRelay) {
	lock := make(chan struct{}, 1)

	return &PairedRelay{lock: lock, r: up}, &PairedRelay{lock: lock, r: down}
}

type PairedRelay struct {
	lock chan struct{}
	r    Relay
}

func (p *PairedRelay) EnableFor(ctx context.Context, duration time.Duration) error {
	select {
	case p.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.lock }()

	return p.r.EnableFor(ctx, duration)
}

func (p *PairedRelay) IsEnabled() bool {
	return p.r.IsEnabled()
}
