package relay

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
)

type SetPin interface {
	High() error
	Low() error
}

type Mcp23017Pin struct {
	device *mcp23017.Device
	pin    uint8
}

func NewMcp23017Pin(device *mcp23017.Device, pin uint8) (*Mcp23017Pin, error) {
	p := &Mcp23017Pin{device: device, pin: pin}
	if err := device.PinMode(pin, mcp23017.OUTPUT); err != nil {
		return nil, errors.Wrapf(err, "mcp23017: pin %d output mode", pin)
	}

	return p, nil
}

func (m *Mcp23017Pin) High() error {
	return m.device.DigitalWrite(m.pin, mcp23017.HIGH)
}

func (m *Mcp23017Pin) Low() error {
	return m.device.DigitalWrite(m.pin, mcp23017.LOW)
}

// Wired drives a physical relay through a pin. Relay boards are usually active low, NormalClosed inverts that.
type Wired struct {
	Name         string
	Pin          SetPin
	NormalClosed bool

	mu        sync.Mutex
	isEnabled bool
}

func (p *Wired) EnableFor(ctx context.Context, duration time.Duration) error {
	if err := p.enable(); err != nil {
		return errors.Wrapf(err, "%s: wired relay enable", p.Name)
	}
	defer func() {
		if err := p.disable(); err != nil {
			logrus.Errorf("%s: wired relay disable failed: %s", p.Name, err)
		}
	}()

	t := time.NewTimer(duration)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		logrus.Debugf("%s: wired relay interrupted", p.Name)
		return ctx.Err()
	}
}

func (p *Wired) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.isEnabled
}

func (p *Wired) enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if !p.NormalClosed {
		err = p.Pin.Low()
	} else {
		err = p.Pin.High()
	}
	p.isEnabled = err == nil

	return err
}

func (p *Wired) disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isEnabled = false
	if !p.NormalClosed {
		return p.Pin.High()
	}

	return p.Pin.Low()
}
