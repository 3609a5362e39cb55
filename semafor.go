package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"semafor/button"
	"semafor/command"
	"semafor/display"
	"semafor/eventlog"
	"semafor/eventpipe"
	"semafor/gate"
	"semafor/keypad"
	"semafor/mqtt"
	"semafor/nightsched"
	"semafor/output"
	"semafor/rig"
	"semafor/runconfig"
	"semafor/serialctl"
	"semafor/web"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg     *Config
	cfgPath string
	rig     *rig.Controller
	events  *eventlog.Log
	mqtt    *mqtt.Client
	topics  mqtt.Topics
	web     *web.Server
	buttons *button.Buttons
	keypad  *keypad.Keypad
	serial  *serialctl.Console
	pipe    *eventpipe.EventPipe
	display *display.Display
	redraw  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PhaseStatus is published on every phase change.
type PhaseStatus struct {
	Phase string `json:"phase"`
	Cycle uint64 `json:"cycle"`
	Night bool   `json:"night"`
}

// StateStatus is published after every control action.
type StateStatus struct {
	Running       bool    `json:"running"`
	Night         bool    `json:"night"`
	FlickerRate   float64 `json:"flicker_rate"`
	RedDuration   int     `json:"red_duration"`
	GreenDuration int     `json:"green_duration"`
	Phase         string  `json:"phase"`
	Action        string  `json:"action,omitempty"`
	Detail        string  `json:"detail,omitempty"`
}

func main() {
	fmt.Printf("semafor build %s\n", myBuild)

	cfgfile := flag.String("cfg", "semafor.cfg", "Config file")
	startflag := flag.Bool("start", false, "Start the sequence immediately")
	flag.Parse()

	// MQTT credentials may come from .env
	godotenv.Load()

	cfg, err := LoadConfig(*cfgfile)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	cfg.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")

	if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("Logging: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:     &cfg,
		cfgPath: *cfgfile,
		events:  eventlog.New(cfg.EventLog),
		redraw:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Initialize signal head and gate
	out, err := output.New(cfg.Output)
	if err != nil {
		log.Fatalf("Init outputs: %v", err)
	}
	g, err := gate.New(cfg.Gate)
	if err != nil {
		out.Release()
		log.Fatalf("Init gate: %v", err)
	}
	rc := runconfig.New(cfg.Sequence.Snapshot())
	app.rig = rig.New(rc, out, g, rig.Options{
		Presets: cfg.Gate.Presets(),
		Settle:  cfg.Gate.SettleDelay(),
		Timing:  cfg.Timing,
	})

	// From here on every exit path leaves the hardware dark
	defer func() {
		if r := recover(); r != nil {
			app.rig.Close()
			panic(r)
		}
	}()

	if err := app.initSurfaces(); err != nil {
		app.rig.Close()
		log.Fatalf("%v", err)
	}
	app.rig.Subscribe(app.onRigEvent)

	// Start background goroutines
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.Errorf("MQTT connect: %v", err)
		}
	}()
	app.spawn("sequencer", app.rig.Run)
	app.spawn("web", app.web.Run)
	app.spawn("nightsched", nightsched.New(cfg.NightSchedule, app.rig).Run)
	app.spawn("configwatch", func(ctx context.Context) error {
		return watchConfig(ctx, app.cfgPath, app.applySequence)
	})
	app.spawn("ping", app.pingSender)
	if app.display != nil {
		app.spawn("display", app.displayLoop)
	}
	if app.keypad != nil {
		app.spawn("keypad", func(ctx context.Context) error {
			return app.keypad.Run(ctx, app.runCommand)
		})
	}
	if app.serial != nil {
		app.spawn("serial", func(ctx context.Context) error {
			return app.serial.Run(ctx, func(line string) string {
				return command.Exec(app.rig, line)
			})
		})
	}
	if app.pipe != nil {
		go func() {
			defer app.guard("eventpipe")
			app.pipe.Start()
		}()
	}

	if *startflag || cfg.StartRunning {
		app.rig.Start()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	app.shutdown()
	log.Info("Shutdown complete")
}

// initSurfaces creates every control and status surface from the config.
func (app *App) initSurfaces() error {
	cfg := app.cfg
	var err error

	if cfg.Display.Enabled && !display.ScreenSupported() {
		return fmt.Errorf("display enabled but screen support not compiled in")
	}
	app.display, err = display.New(cfg.Display)
	if err != nil {
		return fmt.Errorf("init display: %w", err)
	}

	app.topics = mqtt.TopicsFor(cfg.MQTT.Prefix, cfg.ClientID)
	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect:    app.guarded("mqtt", app.onMQTTConnect),
		OnDisconnect: app.guarded("mqtt", app.onMQTTDisconnect),
		OnMessage: func(topic string, payload []byte) {
			defer app.guard("mqtt")
			app.onMQTTMessage(topic, payload)
		},
	})
	if err != nil {
		return fmt.Errorf("init MQTT: %w", err)
	}

	app.web, err = web.New(cfg.Web, app.rig, app.events)
	if err != nil {
		return fmt.Errorf("init web: %w", err)
	}

	app.buttons, err = button.New(cfg.Buttons, button.Handlers{
		OnStart: app.guarded("button", app.rig.Start),
		OnStop:  app.guarded("button", app.rig.Stop),
	})
	if err != nil {
		return fmt.Errorf("init buttons: %w", err)
	}

	app.keypad, err = keypad.New(cfg.Keypad)
	if err != nil {
		return fmt.Errorf("init keypad: %w", err)
	}

	app.serial, err = serialctl.New(cfg.Serial)
	if err != nil {
		return fmt.Errorf("init serial console: %w", err)
	}

	app.pipe, err = eventpipe.New(cfg.Pipe, func(cmd command.Command) string {
		status, err := command.Apply(app.rig, cmd)
		if err != nil {
			return fmt.Sprintf("error: %v; %s", err, status)
		}
		return "ok " + status
	})
	if err != nil {
		return fmt.Errorf("init event pipe: %w", err)
	}
	return nil
}

// spawn runs fn until the app context is cancelled.
func (app *App) spawn(name string, fn func(context.Context) error) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		defer app.guard(name)
		if err := fn(app.ctx); err != nil {
			log.WithField("component", name).Errorf("Stopped: %v", err)
		}
	}()
}

// guard is deferred at the top of every goroutine that drives the rig. A
// panic leaves the lamps dark and the gate released before the process
// exits.
func (app *App) guard(name string) {
	if r := recover(); r != nil {
		if err := app.rig.Close(); err != nil {
			log.Errorf("Release rig: %v", err)
		}
		log.WithField("component", name).Fatalf("Panic: %v\n%s", r, debug.Stack())
	}
}

// guarded wraps a hardware or network callback with guard.
func (app *App) guarded(name string, fn func()) func() {
	return func() {
		defer app.guard(name)
		fn()
	}
}

func (app *App) shutdown() {
	app.cancel()

	// Unblock readers before waiting for them
	app.pipe.Close()
	app.keypad.Close()
	app.serial.Close()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn("Timed out waiting for workers")
	}

	// Cleanup
	app.mqtt.Disconnect()
	if err := app.rig.Close(); err != nil {
		log.Errorf("Release rig: %v", err)
	}
	app.buttons.Release()
	app.display.Release()
}

func (app *App) runCommand(cmd command.Command) {
	status, err := command.Apply(app.rig, cmd)
	if err != nil {
		log.WithField("command", cmd.Kind).Warnf("%v", err)
		return
	}
	log.WithField("command", cmd.Kind).Debug(status)
}

func (app *App) applySequence(seq SequenceConfig) {
	if err := app.rig.SetPhaseConfig(seq.FlickerRate, seq.RedDuration, seq.GreenDuration); err != nil {
		log.WithField("component", "configwatch").Warnf("Sequence section: %v", err)
	}
}

// onRigEvent runs on the goroutine that caused the event and must not block.
func (app *App) onRigEvent(ev rig.Event) {
	app.events.Add(ev.At, ev.String())

	switch ev.Kind {
	case rig.PhaseChanged:
		err := app.mqtt.PublishJSON(app.topics.Phase, PhaseStatus{
			Phase: ev.Phase.String(),
			Cycle: ev.Cycle,
			Night: ev.State.NightMode,
		})
		if err != nil {
			log.Errorf("Publish phase: %v", err)
		}
	case rig.ControlAction:
		app.publishState(ev.Action, ev.Detail)
	}

	select {
	case app.redraw <- struct{}{}:
	default:
	}
}

func (app *App) publishState(action rig.Action, detail string) {
	st := app.rig.Snapshot()
	err := app.mqtt.PublishJSON(app.topics.State, StateStatus{
		Running:       st.Running,
		Night:         st.NightMode,
		FlickerRate:   st.BlinkRate,
		RedDuration:   st.RedDuration,
		GreenDuration: st.GreenDuration,
		Phase:         app.rig.Phase().String(),
		Action:        string(action),
		Detail:        detail,
	})
	if err != nil {
		log.Errorf("Publish state: %v", err)
	}
}

func (app *App) onMQTTConnect() {
	if err := app.mqtt.Subscribe(app.topics.Control); err != nil {
		log.Errorf("Subscribe error: %v", err)
	}
	app.publishState("", "")
}

func (app *App) onMQTTDisconnect() {
	app.events.Add(time.Now(), "mqtt connection lost")
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	if topic != app.topics.Control {
		return
	}
	cmd, err := command.DecodeJSON(payload)
	if err != nil {
		log.WithField("component", "mqtt").Warnf("Control message: %v", err)
		return
	}
	app.runCommand(cmd)
	if cmd.Kind == command.Status {
		app.publishState("", "")
	}
}

func (app *App) pingSender(ctx context.Context) error {
	ticker := time.NewTicker(120 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			app.mqtt.Publish(app.topics.Ping, `{"status":"ok"}`)
		}
	}
}

// displayLoop redraws the screen after rig events. Reading the gate
// position can wait out a move, so it happens here and not in onRigEvent.
func (app *App) displayLoop(ctx context.Context) error {
	app.display.Show(app.screenState())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-app.redraw:
			app.display.Show(app.screenState())
		}
	}
}

func (app *App) screenState() display.State {
	st := display.StateFor(app.rig.Phase(), app.rig.Snapshot())
	pos, moved := app.rig.GatePosition()
	st.Gate = float64(pos)
	st.GateKnown = moved
	return st
}

