// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

// Package observability provides HTTP endpoints for metrics and health
// probes, plus the process-wide scheduler metrics.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept traffic.
type ReadinessChecker func() bool

// Package-level collectors so the dispatcher, broadcaster and transport can
// record without holding a Server reference.
var (
	connectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedlive_connections_open",
		Help: "Number of currently registered client connections",
	})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedlive_inbound_queue_depth",
		Help: "Number of messages waiting in the inbound queue",
	})
	messagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedlive_messages_processed_total",
			Help: "Total messages processed by the dispatcher, by type and outcome",
		},
		[]string{"type", "status"},
	)
	broadcastSends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedlive_broadcast_sends_total",
		Help: "Total per-connection sends performed by the broadcaster",
	})
	sendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedlive_send_failures_total",
		Help: "Total outbound sends that failed and dropped the connection",
	})
)

// ConnectionOpened records a newly admitted connection.
func ConnectionOpened() { connectionsOpen.Inc() }

// ConnectionClosed records a removed connection.
func ConnectionClosed() { connectionsOpen.Dec() }

// SetQueueDepth records the inbound queue length.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// RecordMessageProcessed counts one dispatched message by type and outcome.
func RecordMessageProcessed(messageType, status string) {
	messagesProcessed.WithLabelValues(messageType, status).Inc()
}

// RecordBroadcastSend counts one successful fan-out send.
func RecordBroadcastSend() { broadcastSends.Inc() }

// RecordSendFailure counts one failed send that dropped its connection.
func RecordSendFailure() { sendFailures.Inc() }

// Server provides /metrics, /healthz and /readyz.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates an observability server on its own registry so tests and
// repeated construction never collide on the global one.
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(connectionsOpen, queueDepth, messagesProcessed, broadcastSends, sendFailures)

	return &Server{
		addr:     addr,
		registry: registry,
		isReady:  readinessChecker,
	}
}

// Start begins serving. The returned channel receives a server failure, if
// any, and is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown observability server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or empty if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.isReady != nil && !s.isReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		//nolint:errcheck
		w.Write([]byte("not ready\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck
	w.Write([]byte("ok\n"))
}
