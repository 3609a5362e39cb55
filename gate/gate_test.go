package gate

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDriver notes every duty written and flags overlapping moves.
type recordingDriver struct {
	mu       sync.Mutex
	duties   []float64
	inMove   atomic.Int32
	overlaps atomic.Int32
	releases atomic.Int32
	failOn   float64
}

func (d *recordingDriver) SetDuty(percent float64) error {
	if percent != 0 {
		if d.inMove.Add(1) > 1 {
			d.overlaps.Add(1)
		}
	} else {
		d.inMove.Add(-1)
	}
	d.mu.Lock()
	d.duties = append(d.duties, percent)
	d.mu.Unlock()
	if d.failOn != 0 && percent == d.failOn {
		d.inMove.Add(-1)
		return errors.New("pwm fault")
	}
	return nil
}

func (d *recordingDriver) Release() error {
	d.releases.Add(1)
	return nil
}

func (d *recordingDriver) recorded() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.duties...)
}

func TestMoveTo_StopsPulsesAfterSettle(t *testing.T) {
	drv := &recordingDriver{}
	g := NewGate(drv)

	_, moved := g.Position()
	assert.False(t, moved)

	start := time.Now()
	require.NoError(t, g.MoveTo(DefaultOpen, 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	assert.Equal(t, []float64{10, 0}, drv.recorded())
	pos, moved := g.Position()
	assert.True(t, moved)
	assert.Equal(t, DefaultOpen, pos)
}

func TestMoveTo_Range(t *testing.T) {
	g := NewGate(&recordingDriver{})
	assert.ErrorIs(t, g.MoveTo(-1, 0), ErrPositionRange)
	assert.ErrorIs(t, g.MoveTo(100.5, 0), ErrPositionRange)
}

func TestMoveTo_NotANumber(t *testing.T) {
	drv := &recordingDriver{}
	g := NewGate(drv)
	assert.ErrorIs(t, g.MoveTo(Position(math.NaN()), 0), ErrPositionRange)
	assert.ErrorIs(t, g.MoveTo(Position(math.Inf(1)), 0), ErrPositionRange)
	assert.Empty(t, drv.recorded(), "the driver never sees the value")

	_, moved := g.Position()
	assert.False(t, moved)
}

func TestMoveTo_DriverFaultKeepsPosition(t *testing.T) {
	drv := &recordingDriver{failOn: 7.5}
	g := NewGate(drv)
	require.NoError(t, g.MoveTo(DefaultClosed, 0))

	err := g.MoveTo(DefaultCenter, 0)
	assert.ErrorContains(t, err, "pwm fault")
	pos, _ := g.Position()
	assert.Equal(t, DefaultClosed, pos)
}

func TestMoveTo_Serialized(t *testing.T) {
	drv := &recordingDriver{}
	g := NewGate(drv)

	var wg sync.WaitGroup
	positions := []Position{DefaultClosed, DefaultOpen, DefaultCenter, DefaultOpen, DefaultClosed}
	for _, p := range positions {
		wg.Add(1)
		go func(p Position) {
			defer wg.Done()
			assert.NoError(t, g.MoveTo(p, 10*time.Millisecond))
		}(p)
	}
	wg.Wait()

	assert.Zero(t, drv.overlaps.Load(), "moves must never interleave")
	duties := drv.recorded()
	require.Len(t, duties, 2*len(positions))
	for i := 0; i < len(duties); i += 2 {
		assert.NotZero(t, duties[i])
		assert.Zero(t, duties[i+1], "each move ends by stopping pulses")
	}
}

func TestRelease_Once(t *testing.T) {
	drv := &recordingDriver{}
	g := NewGate(drv)
	require.NoError(t, g.Release())
	require.NoError(t, g.Release())
	assert.EqualValues(t, 1, drv.releases.Load())
	assert.Error(t, g.MoveTo(DefaultOpen, 0), "moves after release are refused")
}

func TestPresets(t *testing.T) {
	p := Config{}.Presets()
	assert.Equal(t, Presets{Closed: 5, Open: 10, Center: 7.5}, p)

	p = Config{Closed: 4, Open: 11}.Presets()
	for name, want := range map[string]Position{
		"left": 4, "closed": 4, "right": 11, "open": 11, "center": 7.5, " Centre ": 7.5,
	} {
		got, err := p.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := p.Lookup("up")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestConfig_SettleDelay(t *testing.T) {
	assert.Equal(t, DefaultSettle, Config{}.SettleDelay())
	assert.Equal(t, time.Second, Config{Settle: time.Second}.SettleDelay())
}

func TestNew_NoPin(t *testing.T) {
	g, err := New(Config{Type: "servo"})
	require.NoError(t, err)
	assert.IsType(t, &Noop{}, g.drv)

	pin := 18
	_, err = New(Config{Type: "stepper", Pin: &pin})
	assert.ErrorContains(t, err, "unknown gate type")
}
