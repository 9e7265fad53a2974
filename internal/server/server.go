// Package server owns the HTTP listener lifecycle for the admin
// surface.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"lead-enricher/internal/common/logging"
)

// Server wraps an http.Server with graceful shutdown and optional TLS.
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
}

// New creates a Server bound to the given port. tlsCert/tlsKey enable
// TLS when both are set.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    ":" + port,
			Handler: handler,
			// Write timeout must outlast a synchronous provider call
			// on the enrich endpoint.
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start begins serving in a background goroutine and returns
// immediately. Listener failures after startup are logged, not
// returned.
func (s *Server) Start() error {
	serve := s.srv.ListenAndServe
	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		cert, key := s.tlsCert, s.tlsKey
		serve = func() error { return s.srv.ListenAndServeTLS(cert, key) }
	}

	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server stopped unexpectedly", err,
				logging.Field{Key: "addr", Value: s.srv.Addr})
		}
	}()
	return nil
}

// Shutdown stops accepting new connections and drains in-flight
// requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
