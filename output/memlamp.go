//go:build linux

package output

import (
	"fmt"
	"sync"

	"github.com/warthog618/gpio"
)

var (
	memMu   sync.Mutex
	memRefs int
)

// MemLamp implements Driver on a /dev/gpiomem mapped pin. It has no dimming:
// any level above zero lights the lamp.
type MemLamp struct {
	pin *gpio.Pin
}

// NewMemLamp opens the gpiomem mapping (shared between lamps) and drives the
// pin low.
func NewMemLamp(pin int) (*MemLamp, error) {
	memMu.Lock()
	defer memMu.Unlock()
	if memRefs == 0 {
		if err := gpio.Open(); err != nil {
			return nil, fmt.Errorf("open gpiomem: %w", err)
		}
	}
	memRefs++

	p := gpio.NewPin(pin)
	p.Output()
	p.Low()
	return &MemLamp{pin: p}, nil
}

// SetIntensity implements Driver.SetIntensity.
func (m *MemLamp) SetIntensity(level float64) error {
	if level > 0 {
		m.pin.High()
	} else {
		m.pin.Low()
	}
	return nil
}

// SetTone implements Driver.SetTone.
func (m *MemLamp) SetTone(hz float64) error {
	return ErrUnsupported
}

// Off implements Driver.Off.
func (m *MemLamp) Off() error {
	m.pin.Low()
	return nil
}

// Release implements Driver.Release.
func (m *MemLamp) Release() error {
	m.pin.Low()
	m.pin.Input()

	memMu.Lock()
	defer memMu.Unlock()
	memRefs--
	if memRefs == 0 {
		return gpio.Close()
	}
	return nil
}
