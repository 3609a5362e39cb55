package rig

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"semafor/gate"
	"semafor/output"
	"semafor/runconfig"
	"semafor/sequencer"
)

// lamp records its level; Audible and lamps share the type.
type lamp struct {
	mu       sync.Mutex
	level    float64
	ons      []float64
	releases int
}

func (l *lamp) SetIntensity(level float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.ons = append(l.ons, level)
	return nil
}

func (l *lamp) SetTone(hz float64) error { return nil }

func (l *lamp) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = 0
	return nil
}

func (l *lamp) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	return nil
}

func (l *lamp) Level() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *lamp) Ons() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.ons...)
}

// servo is a mocked gate.Driver.
type servo struct {
	mock.Mock
}

func (s *servo) SetDuty(percent float64) error {
	return s.Called(percent).Error(0)
}

func (s *servo) Release() error {
	return s.Called().Error(0)
}

type ControllerSuite struct {
	suite.Suite
	lamps map[output.Channel]*lamp
	servo *servo
	gate  *gate.Gate
	rc    *runconfig.RunConfig
	ctl   *Controller

	mu     sync.Mutex
	events []Event
}

func (s *ControllerSuite) SetupTest() {
	s.lamps = make(map[output.Channel]*lamp)
	drivers := make(map[output.Channel]output.Driver)
	for _, ch := range output.Channels {
		l := &lamp{}
		s.lamps[ch] = l
		drivers[ch] = l
	}
	s.servo = &servo{}
	s.servo.On("SetDuty", mock.Anything).Return(nil)
	s.servo.On("Release").Return(nil)
	s.gate = gate.NewGate(s.servo)
	s.rc = runconfig.New(runconfig.Snapshot{BlinkRate: 0.1, RedDuration: 1, GreenDuration: 1})
	s.ctl = New(s.rc, output.NewBank(drivers), s.gate, Options{
		Presets: gate.Config{}.Presets(),
		Settle:  10 * time.Millisecond,
		Timing: sequencer.Timing{
			YellowHold: 100 * time.Millisecond,
			IdlePoll:   10 * time.Millisecond,
		},
	})
	s.events = nil
	s.ctl.Subscribe(func(ev Event) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, ev)
	})
}

func (s *ControllerSuite) controlEvents() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Action
	for _, ev := range s.events {
		if ev.Kind == ControlAction {
			out = append(out, ev.Action)
		}
	}
	return out
}

func (s *ControllerSuite) phaseEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Kind == PhaseChanged {
			out = append(out, ev)
		}
	}
	return out
}

func (s *ControllerSuite) TestStartIsIdempotent() {
	s.ctl.Start()
	s.ctl.Start()
	s.True(s.ctl.Snapshot().Running)
	s.Equal([]Action{ActionStart}, s.controlEvents())

	s.ctl.Stop()
	s.ctl.Stop()
	s.False(s.ctl.Snapshot().Running)
	s.Equal([]Action{ActionStart, ActionStop}, s.controlEvents())
}

func (s *ControllerSuite) TestNightModeWhileStopped() {
	s.Require().NoError(s.ctl.EnableNightMode())
	s.Equal(1.0, s.lamps[output.Blue].Level())
	snap := s.ctl.Snapshot()
	s.True(snap.NightMode)
	s.False(snap.Running)

	s.Require().NoError(s.ctl.DisableNightMode())
	s.Zero(s.lamps[output.Blue].Level())
	s.Equal([]Action{ActionNightOn, ActionNightOff}, s.controlEvents())
}

func (s *ControllerSuite) TestNightModeThenStartRunsDimmed() {
	s.Require().NoError(s.ctl.SetPhaseConfig(0.1, 2, 2))
	s.Require().NoError(s.ctl.EnableNightMode())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ctl.Run(ctx) }()

	s.ctl.Start()
	s.Eventually(func() bool {
		for _, ev := range s.phaseEvents() {
			if ev.Phase == sequencer.YellowHold {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	s.ctl.Stop()
	cancel()
	s.NoError(<-done)

	var redAt, yellowAt time.Time
	for _, ev := range s.phaseEvents() {
		switch ev.Phase {
		case sequencer.RedBlink:
			redAt = ev.At
			s.True(ev.State.NightMode)
		case sequencer.YellowHold:
			yellowAt = ev.At
		}
	}
	s.InDelta(1.0, yellowAt.Sub(redAt).Seconds(), 0.25)
	for _, level := range s.lamps[output.Red].Ons() {
		s.Equal(0.2, level)
	}
	s.Equal(1.0, s.lamps[output.Blue].Level(), "blue stays lit through the cycle")
}

func (s *ControllerSuite) TestSetPhaseConfigTextKeepsInvalid() {
	err := s.ctl.SetPhaseConfigText("fast", "4", "")
	s.ErrorIs(err, runconfig.ErrInvalidInput)

	snap := s.ctl.Snapshot()
	s.Equal(0.1, snap.BlinkRate)
	s.Equal(4, snap.RedDuration)
	s.Equal(1, snap.GreenDuration)
	s.Equal([]Action{ActionParams}, s.controlEvents())

	s.Require().NoError(s.ctl.SetPhaseConfigText("", "", ""))
	s.Len(s.controlEvents(), 1, "no-op updates are not reported")
}

func (s *ControllerSuite) TestMoveGatePresets() {
	s.Require().NoError(s.ctl.MoveGatePreset("left"))
	s.Require().NoError(s.ctl.MoveGatePreset("right"))
	s.Require().NoError(s.ctl.MoveGatePreset("center"))

	pos, moved := s.ctl.GatePosition()
	s.True(moved)
	s.Equal(gate.DefaultCenter, pos)
	s.servo.AssertCalled(s.T(), "SetDuty", 5.0)
	s.servo.AssertCalled(s.T(), "SetDuty", 10.0)
	s.servo.AssertCalled(s.T(), "SetDuty", 7.5)

	s.ErrorIs(s.ctl.MoveGatePreset("up"), gate.ErrUnknownPreset)
	s.ErrorIs(s.ctl.MoveGate(150), gate.ErrPositionRange)
	s.ErrorIs(s.ctl.MoveGate(gate.Position(math.NaN())), gate.ErrPositionRange)
	s.servo.AssertNumberOfCalls(s.T(), "SetDuty", 6)
	s.NotContains(s.controlEvents(), ActionGateFault)
}

func (s *ControllerSuite) TestCloseReleasesOnce() {
	s.ctl.Start()
	s.lamps[output.Red].SetIntensity(1)

	s.Require().NoError(s.ctl.Close())
	s.Require().NoError(s.ctl.Close())

	s.False(s.ctl.Snapshot().Running)
	for ch, l := range s.lamps {
		s.Zero(l.Level(), ch.String())
		s.Equal(1, l.releases, ch.String())
	}
	s.servo.AssertNumberOfCalls(s.T(), "Release", 1)
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func TestClose_JoinsErrors(t *testing.T) {
	sv := &servo{}
	sv.On("Release").Return(errors.New("pwm busy"))
	rc := runconfig.New(runconfig.Snapshot{})
	ctl := New(rc, output.NewBank(nil), gate.NewGate(sv), Options{Presets: gate.Config{}.Presets()})

	err := ctl.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pwm busy")
	assert.Equal(t, err, ctl.Close())
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "phase red_blink (cycle 3)", Event{Kind: PhaseChanged, Phase: sequencer.RedBlink, Cycle: 3}.String())
	assert.Equal(t, "start", Event{Kind: ControlAction, Action: ActionStart}.String())
	assert.Equal(t, "gate 7.50", Event{Kind: ControlAction, Action: ActionMoveGate, Detail: "7.50"}.String())
}
