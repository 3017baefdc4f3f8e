// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

// Package ws exposes the scheduler over persistent WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/plusclinic/schedlive/internal/core"
	"github.com/plusclinic/schedlive/internal/observability"
)

// HealthCheck reports whether the backing store is reachable.
type HealthCheck func(ctx context.Context) error

// Server owns the client-facing HTTP listener: the scheduler WebSocket
// endpoint plus the original health surface.
type Server struct {
	addr           string
	registry       *core.ConnectionRegistry
	queue          *core.InboundQueue
	directory      core.DirectoryService
	health         HealthCheck
	callTimeout    time.Duration
	writeTimeout   time.Duration
	allowedOrigins []string

	mu       sync.RWMutex
	listener net.Listener
}

// NewServer wires the transport. callTimeout bounds the admission-time
// directory call; writeTimeout bounds every outbound frame.
func NewServer(
	addr string,
	registry *core.ConnectionRegistry,
	queue *core.InboundQueue,
	directory core.DirectoryService,
	health HealthCheck,
	callTimeout, writeTimeout time.Duration,
	allowedOrigins []string,
) *Server {
	return &Server{
		addr:           addr,
		registry:       registry,
		queue:          queue,
		directory:      directory,
		health:         health,
		callTimeout:    callTimeout,
		writeTimeout:   writeTimeout,
		allowedOrigins: allowedOrigins,
	}
}

// Addr returns the bound listen address, or empty before Run.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the HTTP handler; split out so tests can mount it on
// httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /scheduler/{clinicID}/{$}", s.handleScheduler)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Debug("ws server shutdown", "error", err)
		}
		// Shutdown does not reach hijacked websocket connections.
		httpSrv.Close()
	}()

	slog.Info("scheduler server started", "addr", listener.Addr().String())
	if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return oops.Code("SERVE_FAILED").Wrap(err)
	}
	return nil
}

// handleScheduler admits one terminal and runs its receive loop until the
// connection drops.
func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	clinicID, err := strconv.ParseInt(r.PathValue("clinicID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid clinic id", http.StatusBadRequest)
		return
	}

	wsConn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		slog.Debug("websocket accept failed", "clinic_id", clinicID, "error", err)
		return
	}

	conn, ok := s.admit(r.Context(), wsConn, clinicID)
	if !ok {
		return
	}

	observability.ConnectionOpened()
	defer observability.ConnectionClosed()

	s.readLoop(r.Context(), conn, wsConn)
}

// admit performs the admission protocol: the clinic must exist before the
// connection is registered and acknowledged with a fresh session identifier.
// On failure the terminal gets an ERROR frame (when still writable) and the
// connection is closed without ever entering the registry.
func (s *Server) admit(ctx context.Context, wsConn *websocket.Conn, clinicID int64) (*core.Connection, bool) {
	transport := newClientTransport(wsConn, s.writeTimeout)

	checkCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	exists, err := s.directory.ClinicExists(checkCtx, clinicID)
	if err != nil || !exists {
		if err != nil {
			slog.Warn("clinic lookup failed", "clinic_id", clinicID, "error", err)
		}
		if sendErr := transport.Send(core.Outbound{
			Type:     core.TypeError,
			ClinicID: clinicID,
			Data:     core.ErrorResponse{Error: "invalid token or unknown clinic"},
		}); sendErr != nil {
			slog.Debug("admission error frame not delivered", "clinic_id", clinicID, "error", sendErr)
		}
		wsConn.Close(websocket.StatusPolicyViolation, "unknown clinic")
		return nil, false
	}

	conn := core.NewConnection(uuid.New(), clinicID, transport)
	if err := s.registry.Register(conn); err != nil {
		slog.Error("connection registration failed",
			"conn_id", conn.ID().String(),
			"clinic_id", clinicID,
			"error", err,
		)
		wsConn.Close(websocket.StatusInternalError, "registration failed")
		return nil, false
	}

	if err := conn.Send(core.Outbound{
		Type:     core.TypeCreateUUID,
		ClinicID: clinicID,
		Data:     core.CreateUUIDResponse{UUID: conn.ID().String()},
	}); err != nil {
		slog.Warn("session ack not delivered, dropping connection",
			"conn_id", conn.ID().String(),
			"error", err,
		)
		s.registry.Unregister(conn)
		return nil, false
	}

	slog.Info("connection admitted",
		"conn_id", conn.ID().String(),
		"clinic_id", clinicID,
	)
	return conn, true
}

// readLoop decodes one frame at a time. A malformed frame answers INVALID to
// this terminal only and enqueues nothing; a transport error unregisters the
// connection, whatever its authentication state.
func (s *Server) readLoop(ctx context.Context, conn *core.Connection, wsConn *websocket.Conn) {
	defer s.registry.Unregister(conn)

	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && ctx.Err() == nil {
				slog.Debug("connection read error",
					"conn_id", conn.ID().String(),
					"error", err,
				)
			}
			return
		}

		msg, err := core.DecodeMessage(data)
		if err != nil {
			slog.Debug("malformed frame",
				"conn_id", conn.ID().String(),
				"error", err,
			)
			conn.SendInvalid()
			continue
		}
		s.queue.Enqueue(core.QueueItem{Conn: conn, Msg: msg})
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	for _, origin := range s.allowedOrigins {
		if origin == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
		defer cancel()
		if err := s.health(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			//nolint:errcheck
			json.NewEncoder(w).Encode(map[string]string{"status": "database connection error"})
			return
		}
	}
	//nolint:errcheck
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
