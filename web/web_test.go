package web

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semafor/eventlog"
	"semafor/gate"
	"semafor/output"
	"semafor/rig"
	"semafor/runconfig"
)

func newServer(t *testing.T) (*Server, *rig.Controller, *eventlog.Log) {
	t.Helper()
	rc := runconfig.New(runconfig.Snapshot{})
	ctl := rig.New(rc, output.NewBank(nil), gate.NewGate(&gate.Noop{}), rig.Options{
		Presets: gate.Config{}.Presets(),
		Settle:  time.Millisecond,
	})
	t.Cleanup(func() { ctl.Close() })

	events := eventlog.New(10)
	ctl.Subscribe(func(ev rig.Event) { events.Add(ev.At, ev.String()) })

	s, err := New(Config{}, ctl, events)
	require.NoError(t, err)
	return s, ctl, events
}

func post(t *testing.T, h http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex_RendersSnapshot(t *testing.T) {
	s, _, _ := newServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="flicker_rate" value="0.5"`)
	assert.Contains(t, body, `name="red_duration" value="3"`)
	assert.Contains(t, body, `name="green_duration" value="3"`)
	assert.Contains(t, body, "Stopped")
	assert.Contains(t, body, "Phase: idle")
}

func TestIndex_StartAppliesParams(t *testing.T) {
	s, ctl, events := newServer(t)
	rec := post(t, s.Handler(), url.Values{
		"flicker_rate":   {"0.25"},
		"red_duration":   {"4"},
		"green_duration": {"6"},
		"start_button":   {""},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, runconfig.Snapshot{BlinkRate: 0.25, RedDuration: 4, GreenDuration: 6, Running: true}, ctl.Snapshot())
	assert.Contains(t, rec.Body.String(), `value="0.25"`)
	assert.Contains(t, rec.Body.String(), "Running")
	assert.Equal(t, 2, events.Len(), "params then start")
}

func TestIndex_InvalidInputKeepsPrevious(t *testing.T) {
	s, ctl, _ := newServer(t)
	rec := post(t, s.Handler(), url.Values{
		"flicker_rate":   {"fast"},
		"red_duration":   {"-2"},
		"green_duration": {"5"},
		"start_button":   {""},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	snap := ctl.Snapshot()
	assert.Equal(t, 0.5, snap.BlinkRate)
	assert.Equal(t, 3, snap.RedDuration)
	assert.Equal(t, 5, snap.GreenDuration)
	assert.True(t, snap.Running)
}

func TestIndex_Markers(t *testing.T) {
	s, ctl, _ := newServer(t)
	h := s.Handler()

	post(t, h, url.Values{"night_mode_on": {""}})
	assert.True(t, ctl.Snapshot().NightMode)
	assert.False(t, ctl.Snapshot().Running)

	post(t, h, url.Values{"night_mode_off": {""}})
	assert.False(t, ctl.Snapshot().NightMode)

	post(t, h, url.Values{"servo_right_button": {""}})
	pos, moved := ctl.GatePosition()
	assert.True(t, moved)
	assert.Equal(t, gate.DefaultOpen, pos)

	post(t, h, url.Values{"servo_center_button": {""}})
	pos, _ = ctl.GatePosition()
	assert.Equal(t, gate.DefaultCenter, pos)

	rec := post(t, h, url.Values{"servo_left_button": {""}})
	pos, _ = ctl.GatePosition()
	assert.Equal(t, gate.DefaultClosed, pos)
	assert.Contains(t, rec.Body.String(), "Gate: 5.0%")

	ctl.Start()
	post(t, h, url.Values{"stop_button": {""}, "flicker_rate": {"9"}})
	assert.False(t, ctl.Snapshot().Running)
	assert.Equal(t, 0.5, ctl.Snapshot().BlinkRate, "only start applies the fields")
}

func TestStartStopRedirect(t *testing.T) {
	s, ctl, _ := newServer(t)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/start", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.True(t, ctl.Snapshot().Running)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stop", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.False(t, ctl.Snapshot().Running)
}

func TestRoutes(t *testing.T) {
	s, _, _ := newServer(t)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIndex_ShowsEvents(t *testing.T) {
	s, ctl, _ := newServer(t)
	ctl.Start()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "Recent events")
	assert.Contains(t, rec.Body.String(), " start</li>")
}
