package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"semafor/button"
	"semafor/display"
	"semafor/eventpipe"
	"semafor/gate"
	"semafor/keypad"
	"semafor/mqtt"
	"semafor/nightsched"
	"semafor/output"
	"semafor/runconfig"
	"semafor/sequencer"
	"semafor/serialctl"
	"semafor/web"
)

// Config is the main configuration structure for semafor.
type Config struct {
	// Boot values of the phase parameters, also re-read on file change
	Sequence SequenceConfig `yaml:"sequence"`

	// Fixed cycle timings
	Timing sequencer.Timing `yaml:"timing"`

	// Signal head and gate hardware
	Output output.Config `yaml:"output"`
	Gate   gate.Config   `yaml:"gate"`

	// Control surfaces
	Buttons button.Config    `yaml:"buttons"`
	Keypad  keypad.Config    `yaml:"keypad"`
	Serial  serialctl.Config `yaml:"serial"`
	Pipe    eventpipe.Config `yaml:"pipe"`
	Web     web.Config       `yaml:"web"`
	MQTT    mqtt.Config      `yaml:"mqtt"`

	NightSchedule nightsched.Config `yaml:"night_schedule"`
	Display       display.Config    `yaml:"display"`

	// General settings
	ClientID     string `yaml:"client_id"`
	StartRunning bool   `yaml:"start_running"`
	EventLog     int    `yaml:"event_log"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // "text" or "json"
}

// SequenceConfig holds the phase parameters.
type SequenceConfig struct {
	FlickerRate   float64 `yaml:"flicker_rate"`
	RedDuration   int     `yaml:"red_duration"`
	GreenDuration int     `yaml:"green_duration"`
}

// Snapshot converts the section into RunConfig boot values.
func (s SequenceConfig) Snapshot() runconfig.Snapshot {
	return runconfig.Snapshot{
		BlinkRate:     s.FlickerRate,
		RedDuration:   s.RedDuration,
		GreenDuration: s.GreenDuration,
	}
}

func intPtr(v int) *int {
	return &v
}

// DefaultConfig returns the wiring of the stock rig.
func DefaultConfig() Config {
	return Config{
		Sequence: SequenceConfig{
			FlickerRate:   runconfig.DefaultBlinkRate,
			RedDuration:   runconfig.DefaultRedDuration,
			GreenDuration: runconfig.DefaultGreenDuration,
		},
		Timing: sequencer.DefaultTiming(),
		Output: output.Config{
			Backend:   "gpiocdev",
			Chip:      "gpiochip0",
			RedPin:    intPtr(27),
			YellowPin: intPtr(22),
			GreenPin:  intPtr(23),
			BluePin:   intPtr(24),
			BuzzerPin: intPtr(13),
		},
		Gate: gate.Config{
			Type: "servo",
			Pin:  intPtr(18),
		},
		Buttons: button.Config{
			StartPin: intPtr(button.DefaultStartPin),
			StopPin:  intPtr(button.DefaultStopPin),
		},
		Web:       web.Config{Listen: web.DefaultListen},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads path over the defaults. Keys absent from the file keep
// their default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ClientID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.ClientID = host
		}
	}
	return cfg, cfg.Validate()
}

// readSequence re-reads only the sequence section of path.
func readSequence(path string) (SequenceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SequenceConfig{}, fmt.Errorf("read config: %w", err)
	}
	var partial struct {
		Sequence SequenceConfig `yaml:"sequence"`
	}
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return SequenceConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return partial.Sequence, nil
}

// Validate reports every setting the rig cannot run with.
func (c Config) Validate() error {
	var errs []error
	if !runconfig.ValidBlinkRate(c.Sequence.FlickerRate) {
		errs = append(errs, fmt.Errorf("sequence.flicker_rate must be a finite number of seconds >= %g, got %g", runconfig.MinBlinkRate, c.Sequence.FlickerRate))
	}
	if c.Sequence.RedDuration <= 0 {
		errs = append(errs, fmt.Errorf("sequence.red_duration must be positive, got %d", c.Sequence.RedDuration))
	}
	if c.Sequence.GreenDuration <= 0 {
		errs = append(errs, fmt.Errorf("sequence.green_duration must be positive, got %d", c.Sequence.GreenDuration))
	}

	p := c.Gate.Presets()
	for name, pos := range map[string]gate.Position{"closed": p.Closed, "open": p.Open, "center": p.Center} {
		if !pos.Valid() {
			errs = append(errs, fmt.Errorf("gate.%s: %w", name, gate.ErrPositionRange))
		}
	}

	if c.Timing.NightIntensity < 0 || c.Timing.NightIntensity > 1 {
		errs = append(errs, fmt.Errorf("timing.night_intensity must be within 0..1, got %g", c.Timing.NightIntensity))
	}
	if c.Timing.DayIntensity < 0 || c.Timing.DayIntensity > 1 {
		errs = append(errs, fmt.Errorf("timing.day_intensity must be within 0..1, got %g", c.Timing.DayIntensity))
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	if c.MQTT.Host != "" && c.ClientID == "" {
		errs = append(errs, errors.New("client_id missing in config file"))
	}
	if c.NightSchedule.Enabled {
		if c.NightSchedule.Latitude < -90 || c.NightSchedule.Latitude > 90 ||
			c.NightSchedule.Longitude < -180 || c.NightSchedule.Longitude > 180 {
			errs = append(errs, errors.New("night_schedule: latitude/longitude out of range"))
		}
	}
	return errors.Join(errs...)
}
