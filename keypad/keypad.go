// Package keypad maps key presses on a USB keypad to rig commands.
package keypad

import (
	"context"
	"fmt"
	"strings"

	"github.com/kenshaw/evdev"
	log "github.com/sirupsen/logrus"

	"semafor/command"
)

// DefaultKeys is the binding used when the config names none.
var DefaultKeys = map[string]string{
	"1": "start",
	"2": "stop",
	"4": "night on",
	"5": "night off",
	"7": "gate left",
	"8": "gate center",
	"9": "gate right",
}

// Config holds configuration for the keypad.
type Config struct {
	Device string            `yaml:"device"` // e.g. /dev/input/event0, empty = no keypad
	Keys   map[string]string `yaml:"keys"`   // key name -> command line
}

// Bindings maps normalized key names to commands.
type Bindings map[string]command.Command

// Compile parses every bound command line.
func Compile(keys map[string]string) (Bindings, error) {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	b := make(Bindings, len(keys))
	for key, line := range keys {
		cmd, ok, err := command.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if !ok {
			return nil, fmt.Errorf("key %q: empty command", key)
		}
		b[normalize(key)] = cmd
	}
	return b, nil
}

// Lookup returns the command bound to an evdev key name such as "KEY_1",
// "KP1" or "1".
func (b Bindings) Lookup(key string) (command.Command, bool) {
	cmd, ok := b[normalize(key)]
	return cmd, ok
}

func normalize(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "key_")
	k = strings.TrimPrefix(k, "kp")
	return k
}

// Keypad reads key presses from an input device.
type Keypad struct {
	device   *evdev.Evdev
	bindings Bindings
	log      *log.Entry
}

// New opens the configured device. Returns nil if no device is configured.
func New(cfg Config) (*Keypad, error) {
	if cfg.Device == "" {
		return nil, nil
	}
	bindings, err := Compile(cfg.Keys)
	if err != nil {
		return nil, err
	}

	dev, err := evdev.OpenFile(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", cfg.Device, err)
	}

	l := log.WithField("component", "keypad")
	l.Infof("Opened keypad device: %s", dev.Name())
	return &Keypad{device: dev, bindings: bindings, log: l}, nil
}

// Run delivers the command for every bound key press until ctx is done or
// the device goes away.
func (k *Keypad) Run(ctx context.Context, handle func(command.Command)) error {
	ch := k.device.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-ch:
			if event == nil {
				return fmt.Errorf("keypad device closed")
			}

			switch event.Type.(type) {
			case evdev.KeyType:
				if event.Value != 1 {
					continue
				}
				name := evdev.KeyType(event.Code).String()
				cmd, ok := k.bindings.Lookup(name)
				if !ok {
					k.log.WithField("key", name).Debug("Unbound key")
					continue
				}
				k.log.WithFields(log.Fields{"key": name, "command": cmd.Kind}).Info("Key")
				handle(cmd)
			}
		}
	}
}

// Close releases the input device.
func (k *Keypad) Close() error {
	if k == nil || k.device == nil {
		return nil
	}
	return k.device.Close()
}
