// Package rig ties the run configuration, the outputs, the gate and the
// phase sequencer into the controller every control surface talks to.
package rig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"semafor/gate"
	"semafor/output"
	"semafor/runconfig"
	"semafor/sequencer"
)

// Outputs is the output bank as seen by the controller.
type Outputs interface {
	Get(ch output.Channel) output.Driver
	Release() error
}

// Gate is the serialized actuator as seen by the controller.
type Gate interface {
	MoveTo(pos gate.Position, settle time.Duration) error
	Position() (gate.Position, bool)
	Release() error
}

// Kind tells phase events from control events.
type Kind int

const (
	PhaseChanged Kind = iota
	ControlAction
)

// Action names a control event.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionNightOn   Action = "night_on"
	ActionNightOff  Action = "night_off"
	ActionParams    Action = "params"
	ActionMoveGate  Action = "gate"
	ActionGateFault Action = "gate_fault"
)

// Event is delivered to subscribers for every phase transition and every
// control action that changed something.
type Event struct {
	Kind   Kind
	Phase  sequencer.Phase
	Cycle  uint64
	Action Action
	Detail string
	State  runconfig.Snapshot
	At     time.Time
}

func (e Event) String() string {
	if e.Kind == PhaseChanged {
		return fmt.Sprintf("phase %s (cycle %d)", e.Phase, e.Cycle)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s %s", e.Action, e.Detail)
	}
	return string(e.Action)
}

// Options holds the fixed parts of a controller.
type Options struct {
	Presets gate.Presets
	Settle  time.Duration
	Timing  sequencer.Timing
}

// Controller is the rig's imperative API.
type Controller struct {
	rc      *runconfig.RunConfig
	out     Outputs
	gate    Gate
	presets gate.Presets
	settle  time.Duration
	seq     *sequencer.Sequencer

	mu        sync.Mutex
	observers []func(Event)

	closeOnce sync.Once
	closeErr  error

	log *log.Entry
}

// New creates a Controller. The outputs and the gate belong to the
// controller from now on and are released by Close.
func New(rc *runconfig.RunConfig, out Outputs, g Gate, opts Options) *Controller {
	if opts.Settle <= 0 {
		opts.Settle = gate.DefaultSettle
	}
	if opts.Timing.Settle <= 0 {
		opts.Timing.Settle = opts.Settle
	}
	c := &Controller{
		rc:      rc,
		out:     out,
		gate:    g,
		presets: opts.Presets,
		settle:  opts.Settle,
		seq:     sequencer.New(rc, out, g, opts.Presets, opts.Timing),
		log:     log.WithField("component", "rig"),
	}
	c.seq.Subscribe(func(ev sequencer.Event) {
		c.emit(Event{Kind: PhaseChanged, Phase: ev.Phase, Cycle: ev.Cycle, At: ev.At})
	})
	return c
}

// Subscribe registers fn for every Event. Phase events arrive on the
// sequencer goroutine, control events on the caller's; fn must not block.
func (c *Controller) Subscribe(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Controller) emit(ev Event) {
	ev.State = c.rc.Get()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.mu.Lock()
	observers := append([]func(Event){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (c *Controller) control(a Action, detail string) {
	c.log.WithField("action", a).Info(detail)
	c.emit(Event{Kind: ControlAction, Action: a, Detail: detail})
}

// Run drives the phase sequencer until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	return c.seq.Run(ctx)
}

// Start sets the rig running. Calling it while running does nothing.
func (c *Controller) Start() {
	if c.rc.SetRunning(true) {
		c.control(ActionStart, "")
	}
}

// Stop stops the rig after the current blink half-step. A gate move in
// progress completes. Calling it while stopped does nothing.
func (c *Controller) Stop() {
	if c.rc.SetRunning(false) {
		c.control(ActionStop, "")
	}
}

// EnableNightMode sets night mode and lights the blue indicator.
func (c *Controller) EnableNightMode() error {
	changed := c.rc.SetNightMode(true)
	err := c.out.Get(output.Blue).SetIntensity(1.0)
	if err != nil {
		c.log.Errorf("Night indicator on: %v", err)
		err = fmt.Errorf("night indicator: %w", err)
	}
	if changed {
		c.control(ActionNightOn, "")
	}
	return err
}

// DisableNightMode clears night mode and darkens the blue indicator.
func (c *Controller) DisableNightMode() error {
	changed := c.rc.SetNightMode(false)
	err := c.out.Get(output.Blue).Off()
	if err != nil {
		c.log.Errorf("Night indicator off: %v", err)
		err = fmt.Errorf("night indicator: %w", err)
	}
	if changed {
		c.control(ActionNightOff, "")
	}
	return err
}

// SetPhaseConfig applies new phase parameters. Invalid values keep their
// previous setting; the error lists them.
func (c *Controller) SetPhaseConfig(blinkRate float64, redDuration, greenDuration int) error {
	before := c.rc.Get()
	err := c.rc.SetPhaseParams(blinkRate, redDuration, greenDuration)
	c.paramsChanged(before)
	return err
}

// SetPhaseConfigText is SetPhaseConfig for form text. Empty fields are
// left alone.
func (c *Controller) SetPhaseConfigText(blinkRate, redDuration, greenDuration string) error {
	before := c.rc.Get()
	err := c.rc.SetPhaseParamsText(blinkRate, redDuration, greenDuration)
	c.paramsChanged(before)
	return err
}

func (c *Controller) paramsChanged(before runconfig.Snapshot) {
	after := c.rc.Get()
	if after.BlinkRate == before.BlinkRate &&
		after.RedDuration == before.RedDuration &&
		after.GreenDuration == before.GreenDuration {
		return
	}
	c.control(ActionParams, fmt.Sprintf("flicker_rate=%g red_duration=%d green_duration=%d",
		after.BlinkRate, after.RedDuration, after.GreenDuration))
}

// MoveGate moves the gate outside the phase cycle. It waits for any move in
// progress, including one made by the sequencer.
func (c *Controller) MoveGate(pos gate.Position) error {
	if err := c.gate.MoveTo(pos, c.settle); err != nil {
		c.log.WithField("position", float64(pos)).Errorf("Manual gate move: %v", err)
		if !errors.Is(err, gate.ErrPositionRange) {
			c.control(ActionGateFault, err.Error())
		}
		return err
	}
	c.control(ActionMoveGate, fmt.Sprintf("%.2f", float64(pos)))
	return nil
}

// MoveGatePreset moves the gate to a named preset (left, right, center,
// closed, open).
func (c *Controller) MoveGatePreset(name string) error {
	pos, err := c.presets.Lookup(name)
	if err != nil {
		return err
	}
	return c.MoveGate(pos)
}

// Snapshot returns the current run configuration.
func (c *Controller) Snapshot() runconfig.Snapshot {
	return c.rc.Get()
}

// Phase returns the phase the sequencer is in.
func (c *Controller) Phase() sequencer.Phase {
	return c.seq.Phase()
}

// Cycle returns the number of cycles started.
func (c *Controller) Cycle() uint64 {
	return c.seq.Cycle()
}

// GatePosition returns the last gate position and whether the gate moved yet.
func (c *Controller) GatePosition() (gate.Position, bool) {
	return c.gate.Position()
}

// Presets returns the gate presets in use.
func (c *Controller) Presets() gate.Presets {
	return c.presets
}

// Close switches every output off and releases the outputs and the gate.
// Only the first call does anything.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.rc.SetRunning(false)
		outErr := c.out.Release()
		if outErr != nil {
			c.log.Errorf("Releasing outputs: %v", outErr)
		}
		gateErr := c.gate.Release()
		if gateErr != nil {
			c.log.Errorf("Releasing gate: %v", gateErr)
		}
		c.closeErr = errors.Join(outErr, gateErr)
		c.log.Info("Rig released")
	})
	return c.closeErr
}
