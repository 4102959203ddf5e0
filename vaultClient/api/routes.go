package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes for the status server
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// API v1 endpoints
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/ceremonies", s.handleCeremonies).Methods(http.MethodGet)
	v1.HandleFunc("/ceremonies/{sessionId}", s.handleCeremony).Methods(http.MethodGet)
	v1.HandleFunc("/vaults", s.handleVaults).Methods(http.MethodGet)
	v1.HandleFunc("/chains", s.handleChains).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}
