package gate

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrPositionRange is returned for positions outside 0..100 percent duty.
var ErrPositionRange = errors.New("gate position out of range")

// ErrUnknownPreset is returned by Preset lookups for unknown names.
var ErrUnknownPreset = errors.New("unknown gate preset")

// Position is a servo duty cycle in percent.
type Position float64

// Valid reports whether p is a number within 0..100.
func (p Position) Valid() bool {
	return !math.IsNaN(float64(p)) && p >= 0 && p <= 100
}

// Default preset positions for a standard 50 Hz hobby servo.
const (
	DefaultClosed Position = 5
	DefaultOpen   Position = 10
	DefaultCenter Position = 7.5

	DefaultSettle = 500 * time.Millisecond
)

// Driver is the interface for gate hardware.
type Driver interface {
	// SetDuty sets the PWM duty cycle in percent. Zero stops the pulses.
	SetDuty(percent float64) error

	// Release releases any hardware resources.
	Release() error
}

// Config holds configuration for the gate actuator.
type Config struct {
	Type   string        `yaml:"type"` // "servo", "none"
	Pin    *int          `yaml:"pin"`  // BCM pin with PWM0 (12 or 18)
	Closed Position      `yaml:"closed"`
	Open   Position      `yaml:"open"`
	Center Position      `yaml:"center"`
	Settle time.Duration `yaml:"settle"`
}

// Presets holds the named positions used by the sequencer and manual
// override.
type Presets struct {
	Closed Position
	Open   Position
	Center Position
}

// Presets returns the configured presets, defaults for unset ones.
func (c Config) Presets() Presets {
	p := Presets{Closed: DefaultClosed, Open: DefaultOpen, Center: DefaultCenter}
	if c.Closed != 0 {
		p.Closed = c.Closed
	}
	if c.Open != 0 {
		p.Open = c.Open
	}
	if c.Center != 0 {
		p.Center = c.Center
	}
	return p
}

// SettleDelay returns the configured settle delay or DefaultSettle.
func (c Config) SettleDelay() time.Duration {
	if c.Settle > 0 {
		return c.Settle
	}
	return DefaultSettle
}

// Lookup maps a preset name to its position. Both the form names
// (left/right/center) and the phase names (closed/open) are accepted.
func (p Presets) Lookup(name string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "closed", "close", "left":
		return p.Closed, nil
	case "open", "right":
		return p.Open, nil
	case "center", "centre":
		return p.Center, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
}

// Gate serializes every move of one Driver. A move holds the gate until
// its settle delay has passed, so a second caller waits for the first.
type Gate struct {
	mu       sync.Mutex
	drv      Driver
	pos      Position
	moved    bool
	released bool
	once     sync.Once
	log      *log.Entry
}

// NewGate wraps drv.
func NewGate(drv Driver) *Gate {
	return &Gate{drv: drv, log: log.WithField("component", "gate")}
}

// New creates a Gate based on the provided configuration.
func New(cfg Config) (*Gate, error) {
	if cfg.Pin == nil || cfg.Type == "none" || cfg.Type == "" {
		return NewGate(&Noop{}), nil
	}
	switch cfg.Type {
	case "servo":
		s, err := NewServo(uint8(*cfg.Pin))
		if err != nil {
			return nil, err
		}
		return NewGate(s), nil
	default:
		return nil, fmt.Errorf("unknown gate type %q", cfg.Type)
	}
}

// MoveTo drives the gate to pos, waits settle, then stops the pulses so the
// servo does not jitter. Concurrent calls run one after the other.
func (g *Gate) MoveTo(pos Position, settle time.Duration) error {
	if !pos.Valid() {
		return fmt.Errorf("%w: %.2f", ErrPositionRange, float64(pos))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return fmt.Errorf("gate released")
	}

	g.log.WithField("position", float64(pos)).Debug("Moving gate")
	if err := g.drv.SetDuty(float64(pos)); err != nil {
		return fmt.Errorf("set duty %.2f: %w", float64(pos), err)
	}
	time.Sleep(settle)
	if err := g.drv.SetDuty(0); err != nil {
		return fmt.Errorf("stop pulses: %w", err)
	}
	g.pos = pos
	g.moved = true
	return nil
}

// Position returns the last position reached and whether any move happened.
func (g *Gate) Position() (Position, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos, g.moved
}

// Release waits for a move in progress and releases the driver. Only the
// first call reaches the driver.
func (g *Gate) Release() error {
	var err error
	g.once.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.released = true
		err = g.drv.Release()
	})
	return err
}
