// Package web serves the rig's control page.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"semafor/command"
	"semafor/eventlog"
	"semafor/gate"
	"semafor/runconfig"
	"semafor/sequencer"
)

//go:embed templates/index.html
var templateFS embed.FS

// DefaultListen is the address used when none is configured.
const DefaultListen = ":82"

// Config holds HTTP settings.
type Config struct {
	Listen string `yaml:"listen"`
	Events int    `yaml:"events"` // entries shown on the page
}

// Controller is the rig as seen by the page.
type Controller interface {
	command.Target
	GatePosition() (gate.Position, bool)
}

// Events supplies the recent event list.
type Events interface {
	Recent(n int) []eventlog.Entry
}

type page struct {
	State     runconfig.Snapshot
	Phase     sequencer.Phase
	Gate      float64
	GateMoved bool
	Events    []eventlog.Entry
}

// Server is the HTTP control surface.
type Server struct {
	cfg    Config
	ctl    Controller
	events Events
	tmpl   *template.Template
	log    *log.Entry
}

// New creates a Server. events may be nil.
func New(cfg Config, ctl Controller, events Events) (*Server, error) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Events <= 0 {
		cfg.Events = 20
	}
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Server{
		cfg:    cfg,
		ctl:    ctl,
		events: events,
		tmpl:   tmpl,
		log:    log.WithField("component", "web"),
	}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", s.handleIndex)
	mux.HandleFunc("GET /start", s.handleStart)
	mux.HandleFunc("GET /stop", s.handleStop)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("Listening on %s", s.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}
		if cmd, ok := command.FromForm(r.PostForm); ok {
			if _, err := command.Apply(s.ctl, cmd); err != nil {
				// invalid values keep the previous ones; the page shows what is in effect
				s.log.WithField("action", cmd.Kind).Warnf("Form action: %v", err)
			}
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.render(w)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.ctl.Start()
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctl.Stop()
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter) {
	p := page{
		State: s.ctl.Snapshot(),
		Phase: s.ctl.Phase(),
	}
	pos, moved := s.ctl.GatePosition()
	p.Gate, p.GateMoved = float64(pos), moved
	if s.events != nil {
		p.Events = s.events.Recent(s.cfg.Events)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, p); err != nil {
		s.log.Errorf("Render: %v", err)
	}
}
