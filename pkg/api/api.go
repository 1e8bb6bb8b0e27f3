package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/dperf/pkg/api/store"
	"github.com/ethpandaops/dperf/pkg/archive"
	"github.com/ethpandaops/dperf/pkg/config"
	"github.com/ethpandaops/dperf/pkg/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log          logrus.FieldLogger
	cfg          *config.Config
	store        store.Store
	archiver     archive.Archiver
	registry     *prometheus.Registry
	metrics      *metrics
	validateOpts run.ValidateOptions
	maxBodyBytes int64
	httpServer   *http.Server
	listener     net.Listener
	wg           sync.WaitGroup
	done         chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		registry: registry,
		metrics:  newMetrics(registry),
		validateOpts: run.ValidateOptions{
			StrictNumeric: cfg.Validation.StrictNumeric,
		},
		done: make(chan struct{}),
	}
}

// Start opens the store, prepares the archiver and starts the HTTP server.
// A store that cannot be reached is a fatal startup error.
func (s *server) Start(ctx context.Context) error {
	maxBody, err := s.cfg.Server.MaxBodyBytes()
	if err != nil {
		return err
	}

	s.maxBodyBytes = maxBody

	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if s.cfg.Archive.S3.Enabled {
		archiver, err := archive.NewS3Archiver(s.log, &s.cfg.Archive.S3)
		if err != nil {
			_ = s.store.Stop()

			return fmt.Errorf("initializing archiver: %w", err)
		}

		if err := archiver.Preflight(ctx); err != nil {
			s.log.WithError(err).Warn("Archive preflight failed")
		}

		s.archiver = archiver

		s.log.WithField("bucket", s.cfg.Archive.S3.Bucket).
			Info("Run archiving enabled")
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		_ = s.store.Stop()

		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.listener = ln

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("Listening for requests")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (s *server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Server.Listen
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
