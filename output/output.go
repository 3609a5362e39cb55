package output

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrUnsupported is returned by drivers asked for something they can't do,
// such as a tone on a lamp.
var ErrUnsupported = errors.New("operation not supported by this output")

// ErrNotSupported is returned on platforms without GPIO access.
var ErrNotSupported = errors.New("gpio outputs not supported on this platform")

// Channel identifies one physical output of the signal head.
type Channel int

const (
	Red Channel = iota
	Yellow
	Green
	Blue
	Audible
)

// Channels lists every channel in display order.
var Channels = []Channel{Red, Yellow, Green, Blue, Audible}

func (c Channel) String() string {
	switch c {
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	case Blue:
		return "blue"
	case Audible:
		return "audible"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Driver is the interface for a single dimmable or audible output.
type Driver interface {
	// SetIntensity sets the output level, 0.0 (off) to 1.0 (full).
	SetIntensity(level float64) error

	// SetTone sets the output frequency in Hz. Lamps return ErrUnsupported.
	SetTone(hz float64) error

	// Off switches the output off.
	Off() error

	// Release releases any hardware resources.
	Release() error
}

// Config holds configuration for the output bank.
type Config struct {
	// Backend is "gpiocdev" (dimmable soft PWM), "gpiomem" (on/off only)
	// or "none".
	Backend string `yaml:"backend"`
	Chip    string `yaml:"chip"`
	PWMHz   int    `yaml:"pwm_hz"`

	// Lamp pins, BCM numbering (nil = not fitted)
	RedPin    *int `yaml:"red_pin"`
	YellowPin *int `yaml:"yellow_pin"`
	GreenPin  *int `yaml:"green_pin"`
	BluePin   *int `yaml:"blue_pin"`

	// Buzzer pin on a hardware PWM1 capable pin (13 or 19), nil = not fitted
	BuzzerPin *int `yaml:"buzzer_pin"`
}

// Bank binds each channel to its driver for the lifetime of the process.
type Bank struct {
	drivers map[Channel]Driver
	once    sync.Once
	err     error
}

// NewBank creates a bank from explicit bindings. Channels without a binding
// get a Noop driver.
func NewBank(drivers map[Channel]Driver) *Bank {
	b := &Bank{drivers: make(map[Channel]Driver, len(Channels))}
	for _, ch := range Channels {
		if d, ok := drivers[ch]; ok && d != nil {
			b.drivers[ch] = d
		} else {
			b.drivers[ch] = &Noop{}
		}
	}
	return b
}

// New creates a Bank based on the provided configuration.
func New(cfg Config) (*Bank, error) {
	drivers := make(map[Channel]Driver)
	release := func() {
		for _, d := range drivers {
			d.Release()
		}
	}

	lamps := map[Channel]*int{
		Red:    cfg.RedPin,
		Yellow: cfg.YellowPin,
		Green:  cfg.GreenPin,
		Blue:   cfg.BluePin,
	}

	switch cfg.Backend {
	case "gpiocdev", "":
		chip := cfg.Chip
		if chip == "" {
			chip = "gpiochip0"
		}
		for ch, pin := range lamps {
			if pin == nil {
				continue
			}
			l, err := NewLamp(chip, *pin, cfg.PWMHz)
			if err != nil {
				release()
				return nil, fmt.Errorf("%s lamp: %w", ch, err)
			}
			drivers[ch] = l
		}
	case "gpiomem":
		for ch, pin := range lamps {
			if pin == nil {
				continue
			}
			l, err := NewMemLamp(*pin)
			if err != nil {
				release()
				return nil, fmt.Errorf("%s lamp: %w", ch, err)
			}
			drivers[ch] = l
		}
	case "none":
		log.Println("Outputs disabled (backend none)")
	default:
		return nil, fmt.Errorf("unknown output backend %q", cfg.Backend)
	}

	if cfg.BuzzerPin != nil && cfg.Backend != "none" {
		bz, err := NewBuzzer(uint8(*cfg.BuzzerPin))
		if err != nil {
			release()
			return nil, fmt.Errorf("buzzer: %w", err)
		}
		drivers[Audible] = bz
	}

	return NewBank(drivers), nil
}

// Get returns the driver bound to ch.
func (b *Bank) Get(ch Channel) Driver {
	return b.drivers[ch]
}

// AllOff switches every channel off and returns the last error seen.
func (b *Bank) AllOff() error {
	var lastErr error
	for _, ch := range Channels {
		if err := b.drivers[ch].Off(); err != nil {
			log.WithField("channel", ch).Warnf("Output off: %v", err)
			lastErr = err
		}
	}
	return lastErr
}

// Release switches everything off and releases every driver. Only the first
// call does anything; later calls return the first call's result.
func (b *Bank) Release() error {
	b.once.Do(func() {
		b.AllOff()
		for _, ch := range Channels {
			if err := b.drivers[ch].Release(); err != nil {
				b.err = err
			}
		}
	})
	return b.err
}
