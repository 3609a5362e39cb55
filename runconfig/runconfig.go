package runconfig

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Defaults used when the rig boots without a config file.
const (
	DefaultBlinkRate     = 0.5
	DefaultRedDuration   = 3
	DefaultGreenDuration = 3
)

// MinBlinkRate is the shortest half period accepted.
const MinBlinkRate = 0.001

// ValidBlinkRate reports whether v seconds is a usable half period.
func ValidBlinkRate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= MinBlinkRate
}

// ErrInvalidInput is wrapped by every InputError.
var ErrInvalidInput = errors.New("invalid config input")

// Snapshot is a consistent copy of the run configuration.
type Snapshot struct {
	BlinkRate     float64 // seconds per half period
	RedDuration   int     // seconds
	GreenDuration int     // seconds
	NightMode     bool
	Running       bool
}

// Field names a phase parameter.
type Field string

const (
	FieldBlinkRate     Field = "flicker_rate"
	FieldRedDuration   Field = "red_duration"
	FieldGreenDuration Field = "green_duration"
)

// InputError lists the fields a setter refused. The valid fields of the same
// call were still applied.
type InputError struct {
	Fields []Field
}

func (e *InputError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("%v: %s", ErrInvalidInput, strings.Join(names, ", "))
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// RunConfig is the mutable state shared by the sequencer and every control
// surface. All access goes through its methods.
type RunConfig struct {
	mu      sync.Mutex
	snap    Snapshot
	changed chan struct{}
	log     *log.Entry
}

// New creates a RunConfig. Non-positive fields in defaults are replaced by
// the package defaults. Running is always false at start.
func New(defaults Snapshot) *RunConfig {
	if !ValidBlinkRate(defaults.BlinkRate) {
		defaults.BlinkRate = DefaultBlinkRate
	}
	if defaults.RedDuration <= 0 {
		defaults.RedDuration = DefaultRedDuration
	}
	if defaults.GreenDuration <= 0 {
		defaults.GreenDuration = DefaultGreenDuration
	}
	defaults.Running = false
	return &RunConfig{
		snap:    defaults,
		changed: make(chan struct{}, 1),
		log:     log.WithField("component", "runconfig"),
	}
}

// Get returns a snapshot of the current values.
func (rc *RunConfig) Get() Snapshot {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.snap
}

// Changed returns a channel that receives a value after any setter changed
// something. Notifications coalesce.
func (rc *RunConfig) Changed() <-chan struct{} {
	return rc.changed
}

// SetRunning sets the running flag and reports whether it changed.
func (rc *RunConfig) SetRunning(running bool) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.snap.Running == running {
		return false
	}
	rc.snap.Running = running
	rc.notify()
	return true
}

// SetNightMode sets the night-mode flag and reports whether it changed.
func (rc *RunConfig) SetNightMode(night bool) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.snap.NightMode == night {
		return false
	}
	rc.snap.NightMode = night
	rc.notify()
	return true
}

// SetPhaseParams applies every valid value and keeps the previous value
// for every other one. The returned error, if any, is an *InputError.
func (rc *RunConfig) SetPhaseParams(blinkRate float64, redDuration, greenDuration int) error {
	var bad []Field
	if !ValidBlinkRate(blinkRate) {
		bad = append(bad, FieldBlinkRate)
	}
	if redDuration <= 0 {
		bad = append(bad, FieldRedDuration)
	}
	if greenDuration <= 0 {
		bad = append(bad, FieldGreenDuration)
	}

	rc.mu.Lock()
	next := rc.snap
	if !rejected(bad, FieldBlinkRate) {
		next.BlinkRate = blinkRate
	}
	if !rejected(bad, FieldRedDuration) {
		next.RedDuration = redDuration
	}
	if !rejected(bad, FieldGreenDuration) {
		next.GreenDuration = greenDuration
	}
	if next != rc.snap {
		rc.snap = next
		rc.notify()
	}
	rc.mu.Unlock()

	return rc.report(bad, blinkRate, redDuration, greenDuration)
}

// SetPhaseParamsText parses form text. An empty string keeps the current
// value without complaint; anything unparsable,
// non-positive or non-finite is rejected.
func (rc *RunConfig) SetPhaseParamsText(blinkRate, redDuration, greenDuration string) error {
	var bad []Field

	rc.mu.Lock()
	next := rc.snap
	if s := strings.TrimSpace(blinkRate); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && ValidBlinkRate(v) {
			next.BlinkRate = v
		} else {
			bad = append(bad, FieldBlinkRate)
		}
	}
	if s := strings.TrimSpace(redDuration); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			next.RedDuration = v
		} else {
			bad = append(bad, FieldRedDuration)
		}
	}
	if s := strings.TrimSpace(greenDuration); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			next.GreenDuration = v
		} else {
			bad = append(bad, FieldGreenDuration)
		}
	}
	if next != rc.snap {
		rc.snap = next
		rc.notify()
	}
	rc.mu.Unlock()

	return rc.report(bad, blinkRate, redDuration, greenDuration)
}

// notify must be called with rc.mu held.
func (rc *RunConfig) notify() {
	select {
	case rc.changed <- struct{}{}:
	default:
	}
}

func (rc *RunConfig) report(bad []Field, values ...any) error {
	if len(bad) == 0 {
		return nil
	}
	rc.log.WithFields(log.Fields{
		"rejected": bad,
		"input":    values,
	}).Warn("ignoring invalid phase parameters, keeping previous values")
	return &InputError{Fields: bad}
}

func rejected(bad []Field, f Field) bool {
	for _, b := range bad {
		if b == f {
			return true
		}
	}
	return false
}
