package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/noise"
	"github.com/hark-voice/hark/internal/observe"
	"github.com/hark-voice/hark/internal/session"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 5 * time.Second

// Status is the live pipeline state served at /state.
type Status struct {
	Floor       float64 `json:"floor"`
	Margin      float64 `json:"margin"`
	Threshold   float64 `json:"threshold"`
	Overridden  bool    `json:"overridden"`
	Turns       int     `json:"turns"`
	SuccessRate float64 `json:"success_rate"`
	Subscribers int     `json:"subscribers"`
}

// Option configures a [Server].
type Option func(*Server)

// WithCheckers registers readiness checks evaluated on /readyz.
func WithCheckers(checkers ...Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, checkers...) }
}

// WithMetrics sets the metrics instance used by the HTTP middleware.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the diagnostics HTTP server. Construct with [New], run with
// [Server.Start], and stop with [Server.Shutdown].
type Server struct {
	tracker  *noise.Tracker
	history  *session.Manager
	hub      *Hub
	checkers []Checker
	metrics  *observe.Metrics

	srv *http.Server
}

// New builds a Server listening on cfg.ListenAddr.
func New(cfg config.ServerConfig, tracker *noise.Tracker, history *session.Manager, opts ...Option) *Server {
	s := &Server{
		tracker: tracker,
		history: history,
		hub:     NewHub(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /state", s.state)
	mux.Handle("GET /events", s.hub)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(s.metrics)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Hub returns the turn event hub, to be attached to the pipeline as its
// notifier.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until [Server.Shutdown] is called. It blocks.
func (s *Server) Start() error {
	slog.Info("monitor server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// state serves the current threshold and session statistics.
func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	st := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, Status{
		Floor:       st.Floor,
		Margin:      st.Margin,
		Threshold:   st.Threshold,
		Overridden:  st.Overridden,
		Turns:       s.history.Len(),
		SuccessRate: s.history.SuccessRate(),
		Subscribers: s.hub.Subscribers(),
	})
}
