package relay

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Relay interface {
	// EnableFor keeps the relay enabled for duration or until ctx is done, in which case ctx.Err() is returned.
	EnableFor(ctx context.Context, duration time.Duration) error
	IsEnabled() bool
}

// PoolProxy limits how many relays sharing a pool are enabled at once.
type PoolProxy struct {
	r Relay
	c chan struct{}
}

func NewPoolProxy(r Relay, pool chan struct{}) *PoolProxy {
	return &PoolProxy{r: r, c: pool}
}

func (p *PoolProxy) EnableFor(ctx context.Context, duration time.Duration) error {
	select {
	case p.c <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		<-p.c
	}()

	return p.r.EnableFor(ctx, duration)
}

func (p *PoolProxy) IsEnabled() bool {
	return p.r.IsEnabled()
}

// Dumb is a relay without hardware. It only keeps time.
type Dumb struct {
	Name string

	mu        sync.Mutex
	isEnabled bool
	enables   int
}

func (r *Dumb) setEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.isEnabled = enabled
	if enabled {
		r.enables++
	}
}

func (r *Dumb) EnableFor(ctx context.Context, duration time.Duration) error {
	r.setEnabled(true)
	defer r.setEnabled(false)

	t := time.NewTimer(duration)
	defer t.Stop()

	logrus.Debugf("%s: dumb relay enabled for %s", r.Name, duration.String())

	select {
	case <-t.C:
		logrus.Debugf("%s: dumb relay done", r.Name)
		return nil
	case <-ctx.Done():
		logrus.Debugf("%s: dumb relay interrupted", r.Name)
		return ctx.Err()
	}
}

func (r *Dumb) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.isEnabled
}

// Enables counts how many times the relay was switched on.
func (r *Dumb) Enables() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.enables
}
