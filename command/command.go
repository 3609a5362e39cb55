// Package command parses rig commands from the text, form and JSON control
// surfaces and applies them to a controller.
//
// Line grammar, one command per line:
//
//	start
//	stop
//	night on|off
//	gate left|right|center|closed|open|<percent>
//	params <flicker_rate> <red_duration> <green_duration>
//	status
//
// Blank lines and lines starting with # are ignored.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"semafor/gate"
	"semafor/runconfig"
	"semafor/sequencer"
)

// ErrUnknownCommand is returned for input that matches no command.
var ErrUnknownCommand = errors.New("unknown command")

// Kind identifies a command.
type Kind int

const (
	Start Kind = iota
	Stop
	NightOn
	NightOff
	GatePreset
	GateTo
	Params
	Status
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case NightOn:
		return "night_on"
	case NightOff:
		return "night_off"
	case GatePreset:
		return "gate_preset"
	case GateTo:
		return "gate"
	case Params:
		return "params"
	case Status:
		return "status"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one parsed control action. Phase parameters travel as text so
// every surface gets the same validation.
type Command struct {
	Kind     Kind
	Preset   string
	Position gate.Position

	// Set for Params, and for Start when the surface sends parameters with it.
	WithParams    bool
	BlinkRate     string
	RedDuration   string
	GreenDuration string
}

// Parse reads one line. ok is false for blank lines and comments.
func Parse(line string) (cmd Command, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{}, false, nil
	}
	fields := strings.Fields(strings.ToLower(line))

	switch fields[0] {
	case "start":
		cmd.Kind = Start
	case "stop":
		cmd.Kind = Stop
	case "status":
		cmd.Kind = Status
	case "night":
		if len(fields) != 2 {
			return Command{}, false, fmt.Errorf("%w: night needs on or off", ErrUnknownCommand)
		}
		switch fields[1] {
		case "on":
			cmd.Kind = NightOn
		case "off":
			cmd.Kind = NightOff
		default:
			return Command{}, false, fmt.Errorf("%w: night %q", ErrUnknownCommand, fields[1])
		}
		return cmd, true, nil
	case "gate":
		if len(fields) != 2 {
			return Command{}, false, fmt.Errorf("%w: gate needs a preset or a percentage", ErrUnknownCommand)
		}
		if v, perr := strconv.ParseFloat(fields[1], 64); perr == nil {
			return Command{Kind: GateTo, Position: gate.Position(v)}, true, nil
		}
		return Command{Kind: GatePreset, Preset: fields[1]}, true, nil
	case "params":
		if len(fields) != 4 {
			return Command{}, false, fmt.Errorf("%w: params needs three values", ErrUnknownCommand)
		}
		return Command{
			Kind:          Params,
			WithParams:    true,
			BlinkRate:     fields[1],
			RedDuration:   fields[2],
			GreenDuration: fields[3],
		}, true, nil
	default:
		return Command{}, false, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}

	if len(fields) != 1 {
		return Command{}, false, fmt.Errorf("%w: %s takes no arguments", ErrUnknownCommand, fields[0])
	}
	return cmd, true, nil
}

// Form field names of the web control page.
const (
	FieldFlickerRate   = "flicker_rate"
	FieldRedDuration   = "red_duration"
	FieldGreenDuration = "green_duration"

	MarkerStart       = "start_button"
	MarkerStop        = "stop_button"
	MarkerNightOn     = "night_mode_on"
	MarkerNightOff    = "night_mode_off"
	MarkerServoLeft   = "servo_left_button"
	MarkerServoRight  = "servo_right_button"
	MarkerServoCenter = "servo_center_button"
)

// FromForm maps a submitted control form to a command. Markers are checked
// in page order and the first one present wins. ok is false when the form
// carries no marker.
func FromForm(form url.Values) (cmd Command, ok bool) {
	has := func(name string) bool {
		_, present := form[name]
		return present
	}
	switch {
	case has(MarkerStart):
		return Command{
			Kind:          Start,
			WithParams:    true,
			BlinkRate:     form.Get(FieldFlickerRate),
			RedDuration:   form.Get(FieldRedDuration),
			GreenDuration: form.Get(FieldGreenDuration),
		}, true
	case has(MarkerStop):
		return Command{Kind: Stop}, true
	case has(MarkerNightOn):
		return Command{Kind: NightOn}, true
	case has(MarkerNightOff):
		return Command{Kind: NightOff}, true
	case has(MarkerServoLeft):
		return Command{Kind: GatePreset, Preset: "left"}, true
	case has(MarkerServoRight):
		return Command{Kind: GatePreset, Preset: "right"}, true
	case has(MarkerServoCenter):
		return Command{Kind: GatePreset, Preset: "center"}, true
	}
	return Command{}, false
}

type message struct {
	Action        string          `json:"action"`
	Position      *float64        `json:"position"`
	FlickerRate   json.RawMessage `json:"flicker_rate"`
	RedDuration   json.RawMessage `json:"red_duration"`
	GreenDuration json.RawMessage `json:"green_duration"`
}

// DecodeJSON reads an MQTT control message such as
// {"action":"params","flicker_rate":0.5,"red_duration":3,"green_duration":3}.
func DecodeJSON(payload []byte) (Command, error) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Command{}, fmt.Errorf("decode control message: %w", err)
	}

	var cmd Command
	switch strings.ToLower(m.Action) {
	case "start":
		cmd.Kind = Start
	case "stop":
		cmd.Kind = Stop
	case "status":
		cmd.Kind = Status
	case "night_on":
		cmd.Kind = NightOn
	case "night_off":
		cmd.Kind = NightOff
	case "gate_left", "gate_right", "gate_center":
		cmd.Kind = GatePreset
		cmd.Preset = strings.TrimPrefix(strings.ToLower(m.Action), "gate_")
	case "gate":
		if m.Position == nil {
			return Command{}, fmt.Errorf("%w: gate without position", ErrUnknownCommand)
		}
		cmd.Kind = GateTo
		cmd.Position = gate.Position(*m.Position)
	case "params":
		cmd.Kind = Params
	default:
		return Command{}, fmt.Errorf("%w: action %q", ErrUnknownCommand, m.Action)
	}

	if cmd.Kind == Params || cmd.Kind == Start {
		cmd.BlinkRate = rawText(m.FlickerRate)
		cmd.RedDuration = rawText(m.RedDuration)
		cmd.GreenDuration = rawText(m.GreenDuration)
		cmd.WithParams = cmd.BlinkRate != "" || cmd.RedDuration != "" || cmd.GreenDuration != ""
	}
	return cmd, nil
}

// rawText turns a JSON number or string into the text the setters parse.
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

// Target is what commands act on; rig.Controller implements it.
type Target interface {
	Start()
	Stop()
	EnableNightMode() error
	DisableNightMode() error
	SetPhaseConfigText(blinkRate, redDuration, greenDuration string) error
	MoveGate(pos gate.Position) error
	MoveGatePreset(name string) error
	Snapshot() runconfig.Snapshot
	Phase() sequencer.Phase
}

// Apply runs cmd against t and returns a one-line status. For Start with
// parameters, invalid values are reported in the error but the rig is
// started anyway with the values that were valid.
func Apply(t Target, cmd Command) (string, error) {
	var err error
	switch cmd.Kind {
	case Start:
		if cmd.WithParams {
			err = t.SetPhaseConfigText(cmd.BlinkRate, cmd.RedDuration, cmd.GreenDuration)
		}
		t.Start()
	case Stop:
		t.Stop()
	case NightOn:
		err = t.EnableNightMode()
	case NightOff:
		err = t.DisableNightMode()
	case GatePreset:
		err = t.MoveGatePreset(cmd.Preset)
	case GateTo:
		err = t.MoveGate(cmd.Position)
	case Params:
		err = t.SetPhaseConfigText(cmd.BlinkRate, cmd.RedDuration, cmd.GreenDuration)
	case Status:
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
	return FormatStatus(t.Snapshot(), t.Phase()), err
}

// FormatStatus renders a snapshot as a single key=value line.
func FormatStatus(s runconfig.Snapshot, p sequencer.Phase) string {
	return fmt.Sprintf("running=%t night=%t flicker_rate=%g red_duration=%d green_duration=%d phase=%s",
		s.Running, s.NightMode, s.BlinkRate, s.RedDuration, s.GreenDuration, p)
}

// Exec parses and applies one text line and returns the reply for the
// line's sender. Blank lines and comments produce no reply.
func Exec(t Target, line string) string {
	cmd, ok, err := Parse(line)
	if err != nil {
		return "error: " + err.Error()
	}
	if !ok {
		return ""
	}
	status, err := Apply(t, cmd)
	if err != nil {
		return fmt.Sprintf("error: %v; %s", err, status)
	}
	return "ok " + status
}
