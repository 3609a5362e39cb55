//go:build linux

package output

import (
	"fmt"
	"math"
	"sync"

	"github.com/hjkoskel/govattu"
)

// PWM clock: 19.2 MHz oscillator divided by 19. The gate servo uses the same
// divisor so both channels can share the PWM block.
const (
	pwmClockDivisor = 19
	pwmBaseHz       = 19200000.0 / pwmClockDivisor
	defaultToneHz   = 440
)

// Buzzer implements Driver for a passive buzzer on hardware PWM1.
type Buzzer struct {
	mu    sync.Mutex
	hw    govattu.Vattu
	pin   uint8
	rng   uint32
	level float64
}

// NewBuzzer configures pin for PWM1 (ALT5 on 19, ALT0 on 13) and leaves it
// silent.
func NewBuzzer(pin uint8) (*Buzzer, error) {
	if pin != 13 && pin != 19 {
		return nil, fmt.Errorf("pin %d has no PWM1 function", pin)
	}

	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	if pin == 19 {
		hw.PinMode(pin, govattu.ALT5)
	} else {
		hw.PinMode(pin, govattu.ALT0)
	}
	hw.PwmSetMode(true, true, true, true)
	hw.PwmSetClock(pwmClockDivisor)

	b := &Buzzer{hw: hw, pin: pin}
	b.setRange(defaultToneHz)
	hw.Pwm1Set(0)
	return b, nil
}

// SetIntensity implements Driver.SetIntensity. The level is the duty cycle;
// 0.5 gives the loudest square wave.
func (b *Buzzer) SetIntensity(level float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = math.Max(0, math.Min(1, level))
	b.hw.Pwm1Set(uint32(float64(b.rng) * b.level))
	return nil
}

// SetTone implements Driver.SetTone.
func (b *Buzzer) SetTone(hz float64) error {
	if !(hz > 0) || hz > pwmBaseHz/2 {
		return fmt.Errorf("tone %.1f Hz out of range", hz)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setRange(hz)
	b.hw.Pwm1Set(uint32(float64(b.rng) * b.level))
	return nil
}

// Off implements Driver.Off.
func (b *Buzzer) Off() error {
	return b.SetIntensity(0)
}

// Release implements Driver.Release.
func (b *Buzzer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hw.Pwm1Set(0)
	b.hw.PinMode(b.pin, govattu.ALToutput)
	b.hw.PinClear(b.pin)
	return b.hw.Close()
}

func (b *Buzzer) setRange(hz float64) {
	b.rng = uint32(pwmBaseHz / hz)
	b.hw.Pwm1SetRange(b.rng)
}
