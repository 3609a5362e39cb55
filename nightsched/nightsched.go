// Package nightsched switches night mode at sunset and back at sunrise.
package nightsched

import (
	"context"
	"time"

	"github.com/nathan-osman/go-sunrise"
	log "github.com/sirupsen/logrus"
)

// Config holds the location used for sunrise and sunset.
type Config struct {
	Enabled   bool    `yaml:"enabled"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Target receives the night mode transitions.
type Target interface {
	EnableNightMode() error
	DisableNightMode() error
}

// polarRecheck is how long to wait when the sun neither rises nor sets.
const polarRecheck = time.Hour

// IsNight reports whether now is between sunset and sunrise at the given
// location, and when that will next change.
func IsNight(latitude, longitude float64, now time.Time) (bool, time.Time) {
	now = now.UTC()
	next := now.Add(24 * time.Hour)
	rise, set := sunrise.SunriseSunset(latitude, longitude, now.Year(), now.Month(), now.Day())
	if rise.IsZero() || set.IsZero() {
		return false, now.Add(polarRecheck)
	}

	switch {
	case now.After(rise) && now.Before(set):
		return false, set
	case now.Before(rise):
		return true, rise
	default:
		riseNext, _ := sunrise.SunriseSunset(latitude, longitude, next.Year(), next.Month(), next.Day())
		if riseNext.IsZero() {
			return true, now.Add(polarRecheck)
		}
		return true, riseNext
	}
}

// Scheduler drives a Target from the sun's position. Manual toggles in
// between are left alone until the next transition.
type Scheduler struct {
	cfg    Config
	target Target
	now    func() time.Time
	log    *log.Entry
}

// New creates a Scheduler.
func New(cfg Config, target Target) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		target: target,
		now:    time.Now,
		log:    log.WithField("component", "nightsched"),
	}
}

// Run applies the current state, then each transition, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	for {
		now := s.now()
		night, next := IsNight(s.cfg.Latitude, s.cfg.Longitude, now)
		s.apply(night, next)

		// a little past the edge so the next evaluation lands on the far side
		wait := next.Sub(now) + time.Second
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Scheduler) apply(night bool, next time.Time) {
	var err error
	if night {
		err = s.target.EnableNightMode()
	} else {
		err = s.target.DisableNightMode()
	}
	entry := s.log.WithFields(log.Fields{"night": night, "next": next.Local().Format(time.Kitchen)})
	if err != nil {
		entry.Warnf("Scheduled night mode change: %v", err)
		return
	}
	entry.Info("Scheduled night mode")
}
