// Package api serves the guard operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/Ajpantuso/replset-guard/internal/health"
	"github.com/Ajpantuso/replset-guard/internal/service"
	"github.com/Ajpantuso/replset-guard/internal/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	svc    *service.Service
	health *health.HealthChecker
	mux    *http.ServeMux
	cfg    *ServerConfig
}

func NewServer(svc *service.Service, hc *health.HealthChecker, opts ...ServerOption) *Server {
	var cfg ServerConfig
	cfg.Options(opts...)
	cfg.Default()

	s := &Server{
		svc:    svc,
		health: hc,
		mux:    http.NewServeMux(),
		cfg:    &cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("GET /cluster/snapshot", s.getSnapshot)
	s.handle("GET /cluster/assessment", s.getAssessment)
	s.handle("GET /cluster/alerts", s.getAlerts)
	s.handle("GET /cluster/recommendations", s.getRecommendations)
	s.handle("GET /cluster/heal-plan", s.getHealPlan)

	s.handle("GET /replication/oplog", s.getOplog)
	s.handle("GET /replication/oplog/tail", s.getOplogTail)

	s.handle("GET /monitor/status", s.getMonitorStatus)

	s.handle("POST /writes", s.postWrite)

	s.handle("POST /recovery/resync", s.recovery(s.svc.Resync))
	s.handle("POST /recovery/force-sync", s.recovery(s.svc.ForceSync))
	s.handle("POST /recovery/rollback", s.recovery(s.svc.Rollback))

	s.handle("GET /audit", s.getAudit)
	s.handle("DELETE /audit", s.pruneAudit)
	s.handle("GET /audit/stats", s.getAuditStats)
	s.handle("GET /audit/verify", s.verifyAudit)

	s.handle("POST /faults/stop", s.stopNode)
	s.handle("POST /faults/start", s.startNode)
	s.handle("GET /faults/pending", s.getPending)
	s.handle("DELETE /faults/pending/{node}", s.cancelPending)

	s.handle("GET /healthz", s.health.Liveness)
	s.handle("GET /ready", s.health.Readiness)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.instrument(pattern, h))
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Infow("HTTP server listening", "address", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.cfg.Logger.Errorw("HTTP server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		s.cfg.Logger.Info("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	s.cfg.Logger.Info("Gracefully shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument logs each request and records its count and latency under the
// route pattern.
func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.cfg.Logger.Debugw("HTTP request received",
			"route", route,
			"remote_addr", r.RemoteAddr,
		)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		elapsed := time.Since(start)

		s.cfg.Metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.cfg.Metrics.HTTPRequestLatency.WithLabelValues(route).Observe(elapsed.Seconds())

		if rec.status >= http.StatusInternalServerError {
			s.cfg.Logger.Warnw("HTTP request failed",
				"route", route,
				"status", rec.status,
				"duration", elapsed,
			)
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.cfg.Logger.Warnw("Failed to encode response", "error", err)
	}
}

// writeError renders err. entry is included when it was recorded.
func (s *Server) writeError(w http.ResponseWriter, err error, entry *audit.Entry) {
	status, reason := classify(err)
	if reason == util.CodeUnknown && entry != nil && entry.Reason != "" {
		reason = entry.Reason
	}
	body := errorBody{Reason: reason, Message: err.Error()}
	if entry != nil && entry.Hash != "" {
		body.Entry = entry
	}
	s.writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
