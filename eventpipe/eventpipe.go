package eventpipe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"semafor/command"
)

// Config holds configuration for the event pipe.
type Config struct {
	Path string `yaml:"path"` // Path to named pipe (e.g., "/run/semafor.cmd")
}

// Handler is called for every command read from the pipe. Its return value
// is logged, since nobody reads a reply from a pipe.
type Handler func(command.Command) string

// EventPipe listens for commands on a named pipe.
type EventPipe struct {
	path    string
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	log     *log.Entry
}

// New creates a new EventPipe. Returns nil if path is empty.
func New(cfg Config, handler Handler) (*EventPipe, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	os.Remove(cfg.Path)

	if err := syscall.Mkfifo(cfg.Path, 0o660); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EventPipe{
		path:    cfg.Path,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.WithField("component", "eventpipe"),
	}, nil
}

// Start reads commands from the pipe until Close. Each writer may send any
// number of lines; the pipe is reopened after a writer goes away.
// This should be called as a goroutine.
func (ep *EventPipe) Start() {
	ep.log.Infof("Event pipe listening on %s", ep.path)

	for {
		if ep.ctx.Err() != nil {
			return
		}

		// blocks until a writer connects
		file, err := os.OpenFile(ep.path, os.O_RDONLY, 0)
		if err != nil {
			if ep.ctx.Err() != nil {
				return
			}
			ep.log.Errorf("Event pipe open error: %v", err)
			return
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if ep.ctx.Err() != nil {
				file.Close()
				return
			}
			ep.dispatch(scanner.Text())
		}
		file.Close()
	}
}

func (ep *EventPipe) dispatch(line string) {
	cmd, ok, err := command.Parse(line)
	if err != nil {
		ep.log.Warnf("Event pipe parse error: %v", err)
		return
	}
	if !ok || ep.handler == nil {
		return
	}
	if reply := ep.handler(cmd); reply != "" {
		ep.log.WithField("command", cmd.Kind).Info(reply)
	}
}

// Close stops the listener and removes the pipe.
func (ep *EventPipe) Close() error {
	if ep == nil {
		return nil
	}
	ep.cancel()
	// Wake a reader blocked in open. ENXIO means no reader yet; it may be
	// between writers, so retry briefly.
	for i := 0; i < 20; i++ {
		if f, err := os.OpenFile(ep.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
			f.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return os.Remove(ep.path)
}
