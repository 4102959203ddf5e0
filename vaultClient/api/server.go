// Package api serves ceremony status, vaults and metrics over HTTP.
package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config lists the sources the server reads from. Nil sources serve empty results.
type Config struct {
	Ceremonies CeremonyStatuses
	Vaults     VaultLister
	Broadcasts BroadcastLister
	Chains     ChainLister
	Gatherer   prometheus.Gatherer
}

// Server provides HTTP endpoints
type Server struct {
	ceremonies CeremonyStatuses
	vaults     VaultLister
	broadcasts BroadcastLister
	chains     ChainLister
	gatherer   prometheus.Gatherer
	logger     zerolog.Logger
	server     *http.Server
}

// NewServer creates a new Server instance
func NewServer(cfg Config, logger zerolog.Logger, port int) *Server {
	s := &Server{
		ceremonies: cfg.Ceremonies,
		vaults:     cfg.Vaults,
		broadcasts: cfg.Broadcasts,
		chains:     cfg.Chains,
		gatherer:   cfg.Gatherer,
		logger:     logger.With().Str("component", "status_server").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("status server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")

	go func() {
		err := s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("status server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("status server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("status server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
