// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package observability serves the Prometheus metrics and health probes of a
// tet process.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Probe paths.
const (
	PathMetrics   = "/metrics"
	PathLiveness  = "/healthz/liveness"
	PathReadiness = "/healthz/readiness"
)

// SessionStatus reports the name of the current session state and whether
// the session can take traffic in it.
type SessionStatus func() (state string, ready bool)

// RegisterFunc registers a component's collectors, such as
// server.RegisterMetrics.
type RegisterFunc func(prometheus.Registerer)

// Server exposes the metrics registry and the liveness and readiness probes.
// Readiness answers with the session state name.
type Server struct {
	addr     string
	status   SessionStatus
	registry *prometheus.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

// NewServer creates a server for addr ("host:port") with its own registry
// holding the Go and process collectors plus whatever register adds. A nil
// status is always ready.
func NewServer(addr string, status SessionStatus, register ...RegisterFunc) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, fn := range register {
		fn(registry)
	}
	return &Server{
		addr:     addr,
		status:   status,
		registry: registry,
		logger:   slog.Default().With("component", "observability"),
	}
}

// Registry returns the registry served on PathMetrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc(PathLiveness, func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, "ok")
	})
	mux.HandleFunc(PathReadiness, s.readiness)
	return mux
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeProbe(w, http.StatusOK, "ok")
		return
	}
	state, ready := s.status()
	if !ready {
		writeProbe(w, http.StatusServiceUnavailable, state)
		return
	}
	writeProbe(w, http.StatusOK, state)
}

func writeProbe(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = fmt.Fprintln(w, body)
}

// Start listens and serves in the background. The returned channel receives
// a serve failure and is closed when serving ends.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil, oops.In("observability").With("addr", s.addr).Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.In("observability").With("addr", s.addr).Wrapf(err, "listen")
	}
	srv := &http.Server{Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	s.listener, s.http = listener, srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		err := srv.Serve(listener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		s.logger.Error("serve failed", "error", err)
		errCh <- oops.In("observability").With("addr", listener.Addr().String()).Wrapf(err, "serve")
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return oops.In("observability").Wrapf(err, "shutdown")
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
