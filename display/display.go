package display

import (
	"image"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Config holds display configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"` // default /dev/fb0
	Font    string `yaml:"font"`   // TTF path, empty = built-in face
}

// Sink receives finished frames.
type Sink interface {
	Size() (width, height int)
	Blit(img *image.RGBA) error
	Close() error
}

// Display renders States to a Sink.
type Display struct {
	mu   sync.Mutex
	r    *Renderer
	sink Sink
	last State
	log  *log.Entry
}

// New opens the framebuffer. Returns nil when the display is disabled.
func New(cfg Config) (*Display, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Device == "" {
		cfg.Device = "/dev/fb0"
	}
	fb, err := OpenFramebuffer(cfg.Device)
	if err != nil {
		return nil, err
	}
	return NewWithSink(fb, cfg.Font), nil
}

// NewWithSink creates a Display drawing to sink.
func NewWithSink(sink Sink, font string) *Display {
	return &Display{
		r:    NewRenderer(font),
		sink: sink,
		log:  log.WithField("component", "display"),
	}
}

// Show draws st unless it is what is already on screen.
func (d *Display) Show(st State) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if st == d.last {
		return
	}
	d.last = st

	w, h := d.sink.Size()
	frame := Scale(d.r.Draw(st), w, h)
	if err := d.sink.Blit(frame); err != nil {
		d.log.Warnf("Blit: %v", err)
	}
}

// Release blanks the screen and closes the sink.
func (d *Display) Release() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w, h := d.sink.Size()
	d.sink.Blit(image.NewRGBA(image.Rect(0, 0, w, h)))
	return d.sink.Close()
}
