//go:build !linux

package output

// Lamp is a stub for non-linux platforms.
type Lamp struct{ Noop }

// MemLamp is a stub for non-linux platforms.
type MemLamp struct{ Noop }

// Buzzer is a stub for non-linux platforms.
type Buzzer struct{ Noop }

// NewLamp returns ErrNotSupported on non-linux platforms.
func NewLamp(chip string, pin int, pwmHz int) (*Lamp, error) {
	return nil, ErrNotSupported
}

// NewMemLamp returns ErrNotSupported on non-linux platforms.
func NewMemLamp(pin int) (*MemLamp, error) {
	return nil, ErrNotSupported
}

// NewBuzzer returns ErrNotSupported on non-linux platforms.
func NewBuzzer(pin uint8) (*Buzzer, error) {
	return nil, ErrNotSupported
}
