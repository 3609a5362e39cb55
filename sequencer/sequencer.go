// Package sequencer runs the traffic-signal phase cycle.
//
// A Sequencer reads the shared run configuration at the top of every cycle,
// drives the lamps, the buzzer and the gate through one cycle, and idles
// while the rig is stopped. Stopping is cooperative: the running flag is
// re-read before every blink half-step, so a stop takes effect within one
// blink period.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"semafor/gate"
	"semafor/output"
	"semafor/runconfig"
)

// Phase is one segment of the traffic cycle.
type Phase int

const (
	Idle Phase = iota
	GateClosing
	RedBlink
	YellowHold
	GateOpening
	GreenBlinkWithTone
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case GateClosing:
		return "gate_closing"
	case RedBlink:
		return "red_blink"
	case YellowHold:
		return "yellow_hold"
	case GateOpening:
		return "gate_opening"
	case GreenBlinkWithTone:
		return "green_blink"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the part of runconfig.RunConfig the sequencer reads.
type State interface {
	Get() runconfig.Snapshot
	Changed() <-chan struct{}
}

// Outputs resolves a channel to its driver.
type Outputs interface {
	Get(ch output.Channel) output.Driver
}

// Gate moves the actuator. Implementations serialize moves.
type Gate interface {
	MoveTo(pos gate.Position, settle time.Duration) error
}

// Timing holds the fixed timings and levels of a cycle.
type Timing struct {
	YellowHold     time.Duration `yaml:"yellow_hold"`
	Settle         time.Duration `yaml:"settle"`
	IdlePoll       time.Duration `yaml:"idle_poll"`
	ToneHz         float64       `yaml:"tone_hz"`
	AudibleDuty    float64       `yaml:"audible_duty"`
	DayIntensity   float64       `yaml:"day_intensity"`
	NightIntensity float64       `yaml:"night_intensity"`
}

// DefaultTiming returns the stock rig timings.
func DefaultTiming() Timing {
	return Timing{
		YellowHold:     3 * time.Second,
		Settle:         gate.DefaultSettle,
		IdlePoll:       100 * time.Millisecond,
		ToneHz:         440,
		AudibleDuty:    0.5,
		DayIntensity:   1.0,
		NightIntensity: 0.2,
	}
}

// withDefaults fills zero fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.YellowHold <= 0 {
		t.YellowHold = d.YellowHold
	}
	if t.Settle <= 0 {
		t.Settle = d.Settle
	}
	if t.IdlePoll <= 0 {
		t.IdlePoll = d.IdlePoll
	}
	if t.ToneHz <= 0 {
		t.ToneHz = d.ToneHz
	}
	if t.AudibleDuty <= 0 {
		t.AudibleDuty = d.AudibleDuty
	}
	if t.DayIntensity <= 0 {
		t.DayIntensity = d.DayIntensity
	}
	if t.NightIntensity <= 0 {
		t.NightIntensity = d.NightIntensity
	}
	return t
}

// Event reports a phase transition.
type Event struct {
	Phase     Phase
	Cycle     uint64
	Intensity float64
	Night     bool
	At        time.Time
}

// Sequencer drives one rig through the phase cycle.
type Sequencer struct {
	state   State
	out     Outputs
	gate    Gate
	presets gate.Presets
	timing  Timing

	mu        sync.Mutex
	phase     Phase
	cycle     uint64
	observers []func(Event)

	log *log.Entry
}

// New creates a Sequencer. Zero fields of timing take their defaults.
func New(state State, out Outputs, g Gate, presets gate.Presets, timing Timing) *Sequencer {
	return &Sequencer{
		state:   state,
		out:     out,
		gate:    g,
		presets: presets,
		timing:  timing.withDefaults(),
		log:     log.WithField("component", "sequencer"),
	}
}

// Subscribe registers fn to receive every phase transition. Observers run on
// the sequencer goroutine and must return quickly.
func (s *Sequencer) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Phase returns the phase currently executing.
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Cycle returns the number of cycles started so far.
func (s *Sequencer) Cycle() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

// Run executes cycles while the rig is running and idles otherwise. It
// returns when ctx is cancelled, after switching the cycle outputs off.
func (s *Sequencer) Run(ctx context.Context) error {
	s.log.Info("Sequencer started")
	defer s.log.Info("Sequencer stopped")

	ticker := time.NewTicker(s.timing.IdlePoll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			s.cycleOutputsOff()
			s.enter(Idle, runconfig.Snapshot{}, 0)
			return nil
		}

		snap := s.state.Get()
		if !snap.Running {
			s.enter(Idle, snap, 0)
			select {
			case <-ctx.Done():
			case <-s.state.Changed():
			case <-ticker.C:
			}
			continue
		}

		s.runCycle(ctx, snap)
	}
}

// runCycle executes one full cycle, returning early when the rig stops.
func (s *Sequencer) runCycle(ctx context.Context, snap runconfig.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("phase", s.Phase()).Errorf("Recovered from panic in cycle: %v", r)
			s.cycleOutputsOff()
		}
	}()

	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	intensity := s.timing.DayIntensity
	red := time.Duration(snap.RedDuration) * time.Second
	green := time.Duration(snap.GreenDuration) * time.Second
	if snap.NightMode {
		intensity = s.timing.NightIntensity
		red /= 2
		green /= 2
	}
	rate := time.Duration(snap.BlinkRate * float64(time.Second))

	clog := s.log.WithFields(log.Fields{
		"cycle": cycle,
		"night": snap.NightMode,
		"red":   red,
		"green": green,
	})
	clog.Debug("Cycle start")

	s.enter(GateClosing, snap, intensity)
	s.moveGate(s.presets.Closed)
	if !s.running(ctx) {
		return
	}

	s.enter(RedBlink, snap, intensity)
	s.blink(ctx, output.Red, rate, red, intensity, false)
	if !s.running(ctx) {
		return
	}

	s.enter(YellowHold, snap, intensity)
	s.hold(ctx, rate, intensity)
	if !s.running(ctx) {
		return
	}

	s.enter(GateOpening, snap, intensity)
	s.moveGate(s.presets.Open)
	if !s.running(ctx) {
		return
	}

	s.enter(GreenBlinkWithTone, snap, intensity)
	s.blink(ctx, output.Green, rate, green, intensity, true)
}

// running reports whether the cycle may continue.
func (s *Sequencer) running(ctx context.Context) bool {
	return ctx.Err() == nil && s.state.Get().Running
}

func (s *Sequencer) moveGate(pos gate.Position) {
	if err := s.gate.MoveTo(pos, s.timing.Settle); err != nil {
		s.log.WithField("position", float64(pos)).Errorf("Gate move failed, skipping: %v", err)
	}
}

// blink toggles lamp every rate until duration has elapsed or the rig
// stops. With tone set the audible channel follows the lamp. The lamp and
// the audible channel are off when blink returns.
func (s *Sequencer) blink(ctx context.Context, ch output.Channel, rate, duration time.Duration, intensity float64, tone bool) {
	lamp := s.out.Get(ch)
	buzzer := s.out.Get(output.Audible)
	blog := s.log.WithField("channel", ch)

	defer func() {
		if err := lamp.Off(); err != nil {
			blog.Warnf("Lamp off: %v", err)
		}
		if tone {
			if err := buzzer.Off(); err != nil {
				blog.Warnf("Audible off: %v", err)
			}
		}
	}()

	start := time.Now()
	for time.Since(start) < duration && s.running(ctx) {
		if err := lamp.SetIntensity(intensity); err != nil {
			blog.Errorf("Lamp on failed, skipping step: %v", err)
			return
		}
		if tone {
			if err := s.sound(buzzer); err != nil {
				blog.Warnf("Audible failed, continuing muted: %v", err)
				tone = false
				buzzer.Off()
			}
		}
		sleep(ctx, rate)

		if err := lamp.Off(); err != nil {
			blog.Errorf("Lamp off failed, skipping step: %v", err)
			return
		}
		if tone {
			if err := buzzer.Off(); err != nil {
				blog.Warnf("Audible off failed, continuing muted: %v", err)
				tone = false
			}
		}
		if !s.running(ctx) {
			return
		}
		sleep(ctx, rate)
	}
}

func (s *Sequencer) sound(buzzer output.Driver) error {
	if err := buzzer.SetTone(s.timing.ToneHz); err != nil {
		return err
	}
	return buzzer.SetIntensity(s.timing.AudibleDuty)
}

// hold lights yellow for the fixed hold, waiting in slices of rate so a stop
// is still seen within one blink period.
func (s *Sequencer) hold(ctx context.Context, rate time.Duration, intensity float64) {
	lamp := s.out.Get(output.Yellow)
	hlog := s.log.WithField("channel", output.Yellow)

	if err := lamp.SetIntensity(intensity); err != nil {
		hlog.Errorf("Lamp on failed, skipping step: %v", err)
		lamp.Off()
		return
	}
	defer func() {
		if err := lamp.Off(); err != nil {
			hlog.Warnf("Lamp off: %v", err)
		}
	}()

	slice := rate
	if slice <= 0 || slice > s.timing.YellowHold {
		slice = s.timing.YellowHold
	}
	deadline := time.Now().Add(s.timing.YellowHold)
	for s.running(ctx) {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		sleep(ctx, min(slice, left))
	}
}

// cycleOutputsOff switches off every channel the cycle drives. Blue belongs
// to night mode and is left alone.
func (s *Sequencer) cycleOutputsOff() {
	for _, ch := range []output.Channel{output.Red, output.Yellow, output.Green, output.Audible} {
		if err := s.out.Get(ch).Off(); err != nil {
			s.log.WithField("channel", ch).Warnf("Output off: %v", err)
		}
	}
}

// enter records the phase and tells observers about real transitions.
func (s *Sequencer) enter(p Phase, snap runconfig.Snapshot, intensity float64) {
	s.mu.Lock()
	if s.phase == p {
		s.mu.Unlock()
		return
	}
	s.phase = p
	ev := Event{Phase: p, Cycle: s.cycle, Intensity: intensity, Night: snap.NightMode, At: time.Now()}
	observers := append([]func(Event){}, s.observers...)
	s.mu.Unlock()

	s.log.WithFields(log.Fields{"phase": p, "cycle": ev.Cycle}).Debug("Phase")
	for _, fn := range observers {
		fn(ev)
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
