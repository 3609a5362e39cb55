package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDelay lets an editor finish writing before the file is re-read.
const reloadDelay = 200 * time.Millisecond

// watchConfig calls apply with the sequence section of path each time the
// file is written, until ctx is cancelled. The directory is watched so that
// editors replacing the file are seen too.
func watchConfig(ctx context.Context, path string, apply func(SequenceConfig)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger := log.WithField("component", "configwatch")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			pending = time.After(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("Watcher: %v", err)
		case <-pending:
			pending = nil
			seq, err := readSequence(path)
			if err != nil {
				logger.Warnf("Reload: %v", err)
				continue
			}
			logger.Infof("Reloaded sequence: flicker_rate=%g red_duration=%d green_duration=%d",
				seq.FlickerRate, seq.RedDuration, seq.GreenDuration)
			apply(seq)
		}
	}
}
