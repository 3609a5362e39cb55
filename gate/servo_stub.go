//go:build !linux

package gate

import "errors"

var ErrNotSupported = errors.New("servo not supported on this platform")

// Servo is a stub for non-linux platforms.
type Servo struct{ Noop }

// NewServo returns an error on non-linux platforms.
func NewServo(pin uint8) (*Servo, error) {
	return nil, ErrNotSupported
}
