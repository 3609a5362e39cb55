package output

// Noop implements Driver but does nothing.
// Used for channels that are not fitted.
type Noop struct{}

// SetIntensity implements Driver.SetIntensity.
func (n *Noop) SetIntensity(level float64) error {
	return nil
}

// SetTone implements Driver.SetTone.
func (n *Noop) SetTone(hz float64) error {
	return nil
}

// Off implements Driver.Off.
func (n *Noop) Off() error {
	return nil
}

// Release implements Driver.Release.
func (n *Noop) Release() error {
	return nil
}
