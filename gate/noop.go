package gate

// Noop implements Driver but does nothing.
// Used when no gate actuator is configured.
type Noop struct{}

// SetDuty implements Driver.SetDuty.
func (n *Noop) SetDuty(percent float64) error {
	return nil
}

// Release implements Driver.Release.
func (n *Noop) Release() error {
	return nil
}
