// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"specials-notifier/pkg/notifier"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store exposes the latest announcement.
type Store interface {
	LatestAnnouncement(ctx context.Context) (*notifier.Announcement, error)
}

// Poller accepts manual poll requests.
type Poller interface {
	Trigger() bool
}

// Server handles HTTP requests.
type Server struct {
	store    Store
	poller   Poller
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	addr     string
}

// Config holds server configuration. Store, Poller and Gatherer are optional.
type Config struct {
	Store    Store
	Poller   Poller
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Addr     string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	s := &Server{
		store:    cfg.Store,
		poller:   cfg.Poller,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
		addr:     cfg.Addr,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/specials", s.handleSpecials)
	mux.HandleFunc("/pollz", s.handlePoll)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", s.addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type specialsResponse struct {
	AnnouncedOn *time.Time `json:"announced_on,omitempty"`
	DateLabel   string     `json:"date_label"`
	Items       []string   `json:"items"`
	Announced   bool       `json:"announced"`
}

func (s *Server) handleSpecials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Storage not configured", http.StatusServiceUnavailable)
		return
	}

	a, err := s.store.LatestAnnouncement(r.Context())
	if err != nil {
		s.logger.Error("Failed to load latest announcement", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := specialsResponse{Items: []string{}}
	if a != nil {
		announcedOn := a.AnnouncedOn
		resp = specialsResponse{
			AnnouncedOn: &announcedOn,
			DateLabel:   a.DateLabel,
			Items:       a.Items,
			Announced:   true,
		}
		if resp.Items == nil {
			resp.Items = []string{}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.poller == nil {
		http.Error(w, "Poller not configured", http.StatusServiceUnavailable)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	status := "triggered"
	if !s.poller.Trigger() {
		status = "pending"
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
