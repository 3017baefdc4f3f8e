// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// AuthState tracks where a connection is in the authentication protocol.
type AuthState int

const (
	// StateUnauthenticated is the initial state after admission. Only a
	// CONNECTION message (or DISCONNECT) is accepted.
	StateUnauthenticated AuthState = iota
	// StateAuthenticated allows the full operation set.
	StateAuthenticated
	// StateClosed is terminal; there is no way back.
	StateClosed
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the write side of a client connection. Implementations must
// be safe for concurrent Send calls.
type Transport interface {
	Send(msg Outbound) error
	Close() error
}

// Connection is one admitted terminal. The clinic binding is fixed at
// admission; state and the resolved user change only through the dispatcher.
type Connection struct {
	id        uuid.UUID
	clinicID  int64
	transport Transport

	mu     sync.Mutex
	state  AuthState
	userID int64
}

// NewConnection binds a transport to a clinic under a fresh session id.
func NewConnection(id uuid.UUID, clinicID int64, transport Transport) *Connection {
	return &Connection{id: id, clinicID: clinicID, transport: transport}
}

// ID returns the connection's session identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// ClinicID returns the clinic the connection was admitted for.
func (c *Connection) ClinicID() int64 { return c.clinicID }

// State returns the current authentication state.
func (c *Connection) State() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID returns the resolved user, zero until authenticated.
func (c *Connection) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Authenticate records a successful token validation. No-op once closed.
func (c *Connection) Authenticate(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateAuthenticated
	c.userID = userID
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

// Send writes one outbound frame to the terminal.
func (c *Connection) Send(msg Outbound) error {
	if err := c.transport.Send(msg); err != nil {
		return oops.Code("SEND_FAILED").
			With("conn_id", c.id.String()).
			With("message_type", msg.Type.String()).
			Wrap(err)
	}
	return nil
}

// SendError sends an ERROR frame; failures are logged, not propagated, since
// the caller is usually already on a failure path.
func (c *Connection) SendError(message string) {
	if err := c.Send(Outbound{Type: TypeError, ClinicID: c.clinicID, Data: ErrorResponse{Error: message}}); err != nil {
		slog.Debug("error frame not delivered", "conn_id", c.id.String(), "error", err)
	}
}

// SendInvalid sends an INVALID frame for malformed or mistyped messages.
func (c *Connection) SendInvalid() {
	if err := c.Send(Outbound{Type: TypeInvalid, ClinicID: c.clinicID}); err != nil {
		slog.Debug("invalid frame not delivered", "conn_id", c.id.String(), "error", err)
	}
}

// Close shuts the underlying transport.
func (c *Connection) Close() error {
	c.markClosed()
	return c.transport.Close() //nolint:wrapcheck
}

// ConnectionRegistry is the process-wide set of live connections. It is the
// only structure mutated concurrently (admission and removal race with the
// dispatcher's broadcast reads), so every operation holds the lock.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
}

// NewConnectionRegistry creates an empty registry. One instance is built by
// the composition root and handed to every component that needs it.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[uuid.UUID]*Connection)}
}

// Register adds a connection. Registering the same identifier twice is a
// caller bug and is rejected.
func (r *ConnectionRegistry) Register(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID()]; exists {
		return oops.Code("DUPLICATE_CONNECTION").
			With("conn_id", c.ID().String()).
			Errorf("connection already registered")
	}
	r.conns[c.ID()] = c
	return nil
}

// Unregister removes a connection if present and closes its transport if it
// is still open. Unregistering an unknown connection is a no-op.
func (r *ConnectionRegistry) Unregister(c *Connection) {
	r.mu.Lock()
	_, present := r.conns[c.ID()]
	delete(r.conns, c.ID())
	r.mu.Unlock()

	if err := c.Close(); err != nil {
		slog.Debug("closing transport on unregister",
			"conn_id", c.ID().String(),
			"was_registered", present,
			"error", err,
		)
	}
}

// ByUUID returns the connection with the given identifier, or nil.
func (r *ConnectionRegistry) ByUUID(id uuid.UUID) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// ByClinic returns a snapshot of every connection bound to the clinic.
// Iterating the result never races with concurrent registry mutation.
func (r *ConnectionRegistry) ByClinic(clinicID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, c := range r.conns {
		if c.ClinicID() == clinicID {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
