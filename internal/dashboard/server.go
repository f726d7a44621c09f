// Package dashboard serves the operational HTTP surface: health, open
// positions, and prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/scalpline/mt4-scalper/internal/metrics"
	"github.com/scalpline/mt4-scalper/internal/models"
	"github.com/scalpline/mt4-scalper/internal/storage"
)

// BridgePinger reports bridge liveness for the health endpoint.
type BridgePinger interface {
	PingBridge(ctx context.Context) *models.BridgeStatus
}

// Server is the read-only ops endpoint. It never mutates trading state.
type Server struct {
	router  *chi.Mux
	httpSrv *http.Server
	broker  BridgePinger
	storage storage.Interface
	log     zerolog.Logger
}

// Config holds the listen settings.
type Config struct {
	Addr string
}

// NewServer builds the dashboard router.
func NewServer(cfg Config, b BridgePinger, store storage.Interface, log zerolog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		broker:  b,
		storage: store,
		log:     log.With().Str("component", "dashboard").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/positions", s.handlePositions)
	s.router.Handle("/metrics", metrics.Handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("dashboard listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.broker.PingBridge(r.Context())
	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	docs, err := s.storage.OpenPositions()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(docs),
		"positions": docs,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response write failed")
	}
}
