//go:build linux

package gate

import (
	"fmt"

	"github.com/hjkoskel/govattu"
)

// 12, 13, 18 and 19 are hardware PWM; the gate uses channel 0 (12 or 18).
const (
	pwmClockDivisor = 19    // 19.2 MHz / 19
	pwmRange        = 20000 // ~50 Hz frame
)

// Servo implements Driver using PWM servo control.
type Servo struct {
	hw  govattu.Vattu
	pin uint8
}

// NewServo creates a new servo driver on pin.
func NewServo(pin uint8) (*Servo, error) {
	if pin != 12 && pin != 18 {
		return nil, fmt.Errorf("pin %d has no PWM0 function", pin)
	}

	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	if pin == 18 {
		hw.PinMode(pin, govattu.ALT5) // ALT5 for PWM0
	} else {
		hw.PinMode(pin, govattu.ALT0)
	}
	hw.PwmSetMode(true, true, true, true) // mark-space on both channels, the buzzer shares PWM1
	hw.PwmSetClock(pwmClockDivisor)
	hw.Pwm0SetRange(pwmRange)
	hw.Pwm0Set(0)

	return &Servo{hw: hw, pin: pin}, nil
}

// SetDuty implements Driver.SetDuty.
func (s *Servo) SetDuty(percent float64) error {
	s.hw.Pwm0Set(uint32(percent / 100 * pwmRange))
	return nil
}

// Release implements Driver.Release.
func (s *Servo) Release() error {
	s.hw.Pwm0Set(0)
	return s.hw.Close()
}
