// Package button binds the rig's momentary start and stop inputs.
package button

import "time"

// Default wiring of the rig's buttons, BCM numbering.
const (
	DefaultStartPin = 4
	DefaultStopPin  = 21
	DefaultDebounce = 10 * time.Millisecond
)

// Config holds configuration for the start/stop buttons.
type Config struct {
	Chip     string        `yaml:"chip"`
	StartPin *int          `yaml:"start_pin"` // nil = not fitted
	StopPin  *int          `yaml:"stop_pin"`
	Debounce time.Duration `yaml:"debounce"`
}

// Handlers holds callback functions for button presses.
type Handlers struct {
	OnStart func()
	OnStop  func()
}

func (c Config) withDefaults() Config {
	if c.Chip == "" {
		c.Chip = "gpiochip0"
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	return c
}

// fitted reports whether any button is configured.
func (c Config) fitted() bool {
	return c.StartPin != nil || c.StopPin != nil
}

// press wraps fn for an edge callback. A nil fn is ignored.
func press(name string, fn func()) func() {
	return func() {
		logger.WithField("button", name).Info("Button pressed")
		if fn != nil {
			fn()
		}
	}
}
