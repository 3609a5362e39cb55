// Package serialctl accepts rig commands on a serial console and answers
// each with a status line.
package serialctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// DefaultBaud is used when the config gives none.
const DefaultBaud = 115200

const idleBackoff = 10 * time.Millisecond

// maxLine bounds a command line; longer input is dropped.
const maxLine = 256

// Config holds configuration for the serial console.
type Config struct {
	Device string `yaml:"device"` // e.g. /dev/serial0, empty = disabled
	Baud   int    `yaml:"baud"`
}

// Handler executes one line and returns the reply, empty for none.
type Handler func(line string) string

// Console is an open serial port.
type Console struct {
	port   *serial.Port
	device string
	log    *log.Entry
}

// New opens the configured port. Returns nil if no device is configured.
func New(cfg Config) (*Console, error) {
	if cfg.Device == "" {
		return nil, nil
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	c := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Second,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	return &Console{
		port:   port,
		device: cfg.Device,
		log:    log.WithField("component", "serialctl").WithField("device", cfg.Device),
	}, nil
}

// Run serves the port until ctx is done.
func (c *Console) Run(ctx context.Context, handle Handler) error {
	c.log.Info("Serial console ready")
	return Serve(ctx, c.port, handle)
}

// Close releases the port.
func (c *Console) Close() error {
	if c == nil || c.port == nil {
		return nil
	}
	return c.port.Close()
}

// Serve reads CR or LF terminated lines from rw and writes each reply
// followed by CRLF. Reads that time out with no data are retried, so ctx is
// checked at least once per read timeout.
func Serve(ctx context.Context, rw io.ReadWriter, handle Handler) error {
	buf := make([]byte, 64)
	var line bytes.Buffer
	overflow := false

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := rw.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' && b != '\r' {
				if line.Len() >= maxLine {
					overflow = true
					continue
				}
				line.WriteByte(b)
				continue
			}
			if overflow {
				reply(rw, "error: line too long")
			} else if line.Len() > 0 {
				if r := handle(line.String()); r != "" {
					if werr := reply(rw, r); werr != nil {
						return werr
					}
				}
			}
			line.Reset()
			overflow = false
		}
		if err != nil {
			// tarm/serial reports a read timeout as EOF
			if errors.Is(err, io.EOF) {
				if n == 0 {
					time.Sleep(idleBackoff)
				}
				continue
			}
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

func reply(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s+"\r\n"); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}
