package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsecam/pulsecam-agent/internal/measurement"
)

// MeasurementService is the part of measurement.Service the API serves.
type MeasurementService interface {
	Snapshot() measurement.Snapshot
	History() *measurement.History
	BeginRecording() error
}

// JobQueue accepts spooled measurement jobs.
type JobQueue interface {
	Submit(ctx context.Context, data []byte, contentType string) (*measurement.Job, error)
	IsPaused() bool
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port          int
	Service       MeasurementService
	Jobs          JobQueue
	Repository    measurement.Repository
	Gatherer      prometheus.Gatherer
	MaxVideoBytes int64
	Logger        *slog.Logger
	StartTime     time.Time
	Version       string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       2 * time.Minute,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
