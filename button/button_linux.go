//go:build linux

package button

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Buttons holds the requested input lines.
type Buttons struct {
	lines []*gpiocdev.Line
}

// New requests the configured lines. Returns nil if no button is fitted.
func New(cfg Config, handlers Handlers) (*Buttons, error) {
	if !cfg.fitted() {
		return nil, nil
	}
	cfg = cfg.withDefaults()

	b := &Buttons{}
	bind := func(pin *int, name string, fn func()) error {
		if pin == nil {
			return nil
		}
		onPress := press(name, fn)
		line, err := gpiocdev.RequestLine(cfg.Chip, *pin,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(cfg.Debounce),
			gpiocdev.WithConsumer("semafor-"+name),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				onPress()
			}))
		if err != nil {
			return fmt.Errorf("%s button on line %d: %w", name, *pin, err)
		}
		b.lines = append(b.lines, line)
		return nil
	}

	if err := bind(cfg.StartPin, "start", handlers.OnStart); err != nil {
		b.Release()
		return nil, err
	}
	if err := bind(cfg.StopPin, "stop", handlers.OnStop); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// Release releases GPIO resources.
func (b *Buttons) Release() error {
	if b == nil {
		return nil
	}
	for _, l := range b.lines {
		l.Close()
	}
	b.lines = nil
	return nil
}
