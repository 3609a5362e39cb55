//go:build linux

package output

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

const defaultPWMHz = 100

// line is the part of *gpiocdev.Line a Lamp drives.
type line interface {
	SetValue(value int) error
	Close() error
}

// Lamp implements Driver on a gpiocdev output line. Levels between off and
// full are produced with software PWM.
type Lamp struct {
	line   line
	period time.Duration
	level  atomic.Uint64 // math.Float64bits of the duty
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	mu     sync.Mutex
	fault  error // first line error since the last SetIntensity
	logged bool

	log *log.Entry
}

// NewLamp requests the line as an output, initially low, and starts the
// PWM loop.
func NewLamp(chip string, pin int, pwmHz int) (*Lamp, error) {
	l, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("semafor"))
	if err != nil {
		return nil, fmt.Errorf("request line %s:%d: %w", chip, pin, err)
	}
	return newLamp(l, pwmHz, log.WithFields(log.Fields{"component": "output", "line": pin})), nil
}

func newLamp(ln line, pwmHz int, entry *log.Entry) *Lamp {
	if pwmHz <= 0 {
		pwmHz = defaultPWMHz
	}
	l := &Lamp{
		line:   ln,
		period: time.Second / time.Duration(pwmHz),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    entry,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// SetIntensity implements Driver.SetIntensity. A line fault seen by the PWM
// loop since the previous call is returned here.
func (l *Lamp) SetIntensity(level float64) error {
	if l.closed.Load() {
		return fmt.Errorf("lamp released")
	}

	l.mu.Lock()
	fault := l.fault
	l.fault = nil
	l.logged = false
	l.mu.Unlock()

	level = math.Max(0, math.Min(1, level))
	l.level.Store(math.Float64bits(level))
	select {
	case l.wake <- struct{}{}:
	default:
	}
	if fault != nil {
		return fmt.Errorf("lamp line: %w", fault)
	}
	return nil
}

// SetTone implements Driver.SetTone.
func (l *Lamp) SetTone(hz float64) error {
	return ErrUnsupported
}

// Off implements Driver.Off.
func (l *Lamp) Off() error {
	return l.SetIntensity(0)
}

// Release implements Driver.Release.
func (l *Lamp) Release() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	l.set(0)
	return l.line.Close()
}

// set drives the line and keeps the first failure per level change.
func (l *Lamp) set(value int) {
	err := l.line.SetValue(value)
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fault == nil {
		l.fault = err
	}
	if !l.logged {
		l.logged = true
		l.log.Errorf("Set line %d: %v", value, err)
	}
}

func (l *Lamp) run() {
	defer l.wg.Done()
	for {
		duty := math.Float64frombits(l.level.Load())
		switch {
		case duty <= 0:
			l.set(0)
			if !l.idle() {
				return
			}
		case duty >= 1:
			l.set(1)
			if !l.idle() {
				return
			}
		default:
			on := time.Duration(float64(l.period) * duty)
			l.set(1)
			if !l.sleep(on) {
				return
			}
			l.set(0)
			if !l.sleep(l.period - on) {
				return
			}
		}
	}
}

// idle blocks while the level is steady.
func (l *Lamp) idle() bool {
	select {
	case <-l.done:
		return false
	case <-l.wake:
		return true
	}
}

func (l *Lamp) sleep(d time.Duration) bool {
	select {
	case <-l.done:
		return false
	case <-time.After(d):
		return true
	}
}
