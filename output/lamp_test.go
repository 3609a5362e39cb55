//go:build linux

package output

import (
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLine records values and fails while broken is set.
type fakeLine struct {
	mu     sync.Mutex
	values []int
	broken error
	closed bool
}

func (f *fakeLine) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return f.broken
	}
	f.values = append(f.values, v)
	return nil
}

func (f *fakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLine) last() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0, false
	}
	return f.values[len(f.values)-1], true
}

func (f *fakeLine) breakWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = err
}

func TestLamp_FullAndOff(t *testing.T) {
	ln := &fakeLine{}
	l := newLamp(ln, 0, log.WithField("component", "test"))

	require.NoError(t, l.SetIntensity(1))
	assert.Eventually(t, func() bool {
		v, ok := ln.last()
		return ok && v == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Off())
	assert.Eventually(t, func() bool {
		v, _ := ln.last()
		return v == 0
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, l.SetTone(440), ErrUnsupported)
	require.NoError(t, l.Release())
	assert.True(t, ln.closed)
	assert.Error(t, l.SetIntensity(1), "released lamp refuses levels")
}

func TestLamp_LineFaultReported(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ln := &fakeLine{}
	l := newLamp(ln, 1000, log.NewEntry(logger))
	defer l.Release()

	bad := errors.New("line busy")
	ln.breakWith(bad)
	require.NoError(t, l.SetIntensity(0.5))

	// the PWM loop keeps failing but logs once per level change
	assert.Eventually(t, func() bool { return len(hook.AllEntries()) > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)

	err := l.SetIntensity(1)
	assert.ErrorIs(t, err, bad)

	ln.breakWith(nil)
	l.SetIntensity(1) // drains the fault left by the failed level
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, l.SetIntensity(1), "fault cleared once the line recovers")
}
