// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import (
	"log/slog"

	"github.com/plusclinic/schedlive/internal/observability"
)

// Broadcaster fans an outbound message to every connection of a clinic.
type Broadcaster struct {
	registry *ConnectionRegistry
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *ConnectionRegistry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Broadcast sends msg to every connection bound to clinicID at call time.
// A failed send never blocks the remaining sends; the failing connection is
// treated as disconnected and removed from the registry.
func (b *Broadcaster) Broadcast(clinicID int64, msg Outbound) {
	for _, conn := range b.registry.ByClinic(clinicID) {
		if err := conn.Send(msg); err != nil {
			slog.Warn("broadcast send failed, dropping connection",
				"conn_id", conn.ID().String(),
				"clinic_id", clinicID,
				"message_type", msg.Type.String(),
				"error", err,
			)
			observability.RecordSendFailure()
			b.registry.Unregister(conn)
			continue
		}
		observability.RecordBroadcastSend()
	}
}
