// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/plusclinic/schedlive/internal/observability"
)

// Dispatcher is the single consumer of the inbound queue. Messages are
// processed strictly in arrival order, one at a time to completion, which is
// the system's only ordering guarantee: one slow handler stalls every
// clinic's traffic. Failures are contained per message; the loop never dies.
type Dispatcher struct {
	queue       *InboundQueue
	registry    *ConnectionRegistry
	store       EventStore
	directory   DirectoryService
	broadcaster *Broadcaster
	callTimeout time.Duration
	now         func() time.Time
}

// NewDispatcher wires the consumer. callTimeout bounds every DirectoryService
// and EventStore call made from the processing path.
func NewDispatcher(
	queue *InboundQueue,
	registry *ConnectionRegistry,
	store EventStore,
	directory DirectoryService,
	broadcaster *Broadcaster,
	callTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		queue:       queue,
		registry:    registry,
		store:       store,
		directory:   directory,
		broadcaster: broadcaster,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Run drains the queue until ctx is cancelled (which closes the queue) or
// the queue is closed by the composition root.
func (d *Dispatcher) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, d.queue.Close)
	defer stop()

	slog.Info("dispatcher started")
	for {
		item, ok := d.queue.Dequeue()
		if !ok {
			slog.Info("dispatcher stopped")
			return nil
		}
		d.process(ctx, item)
		observability.SetQueueDepth(d.queue.Len())
	}
}

// process routes one message. Panics and uncategorized errors surface as a
// generic ERROR to the sender; the connection stays open.
func (d *Dispatcher) process(ctx context.Context, item QueueItem) {
	conn, msg := item.Conn, item.Msg
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			slog.Error("message processing panicked",
				"conn_id", conn.ID().String(),
				"message_type", msg.Type.String(),
				"panic", r,
			)
			conn.SendError("internal error while processing the message")
			status = "panic"
		}
		observability.RecordMessageProcessed(msg.Type.String(), status)
	}()

	switch conn.State() {
	case StateClosed:
		// Messages queued before the disconnect raced in; nothing to do.
		status = "dropped"
		return

	case StateUnauthenticated:
		switch msg.Type {
		case TypeConnection:
			if !d.handleConnection(ctx, conn, msg) {
				status = "auth_rejected"
			}
		case TypeDisconnect:
			d.registry.Unregister(conn)
		default:
			// No operational traffic before authentication.
			conn.SendError("authentication required")
			d.registry.Unregister(conn)
			status = "unauthenticated"
		}

	case StateAuthenticated:
		if msg.Type != TypeDisconnect && msg.ClinicID != conn.ClinicID() {
			conn.SendError("clinic does not match this connection")
			status = "clinic_mismatch"
			return
		}
		switch msg.Type {
		case TypeConnection:
			if !d.handleConnection(ctx, conn, msg) {
				status = "auth_rejected"
			}
		case TypeGetFullMonthCalendar, TypeGetFullWeekCalendar, TypeGetDayCalendar:
			if !d.handleCalendarQuery(ctx, conn, msg) {
				status = "error"
			}
		case TypeAddEvent:
			if !d.handleAddEvent(ctx, conn, msg) {
				status = "error"
			}
		case TypeEditEvent:
			if !d.handleEditEvent(ctx, conn, msg) {
				status = "error"
			}
		case TypeRemoveEvent:
			if !d.handleRemoveEvent(ctx, conn, msg) {
				status = "error"
			}
		case TypeDisconnect:
			d.registry.Unregister(conn)
		default:
			conn.SendInvalid()
			status = "invalid"
		}
	}
}

// handleConnection validates the token and moves the connection to
// Authenticated. Any rejection before authentication forcibly closes the
// connection; re-authentication needs a new one.
func (d *Dispatcher) handleConnection(ctx context.Context, conn *Connection, msg InboundMessage) bool {
	payload, ok := msg.Payload.(*ConnectionPayload)
	if !ok {
		conn.SendInvalid()
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	valid, err := d.directory.TokenValid(callCtx, payload.Token)
	if err != nil || !valid {
		if err != nil {
			slog.Warn("token validation failed",
				"conn_id", conn.ID().String(),
				"error", err,
			)
		}
		conn.SendError("invalid token")
		d.registry.Unregister(conn)
		return false
	}

	userID, err := d.directory.UserForToken(callCtx, payload.Token)
	if err != nil {
		slog.Warn("user resolution failed",
			"conn_id", conn.ID().String(),
			"error", err,
		)
		conn.SendError("could not resolve the authenticated user")
		d.registry.Unregister(conn)
		return false
	}

	conn.Authenticate(userID)
	if err := conn.Send(Outbound{Type: TypeConnection, ClinicID: conn.ClinicID()}); err != nil {
		slog.Debug("authentication ack not delivered",
			"conn_id", conn.ID().String(),
			"error", err,
		)
	}
	slog.Info("connection authenticated",
		"conn_id", conn.ID().String(),
		"clinic_id", conn.ClinicID(),
		"user_id", userID,
	)
	return true
}

// handleCalendarQuery serves the three read variants. The result goes to the
// sender only, tagged with the request's own message type.
func (d *Dispatcher) handleCalendarQuery(ctx context.Context, conn *Connection, msg InboundMessage) bool {
	var filter DateFilter
	switch payload := msg.Payload.(type) {
	case *GetFullMonthCalendarPayload:
		filter = MonthFilter(payload.Year, time.Month(payload.Month), time.UTC)
	case *GetFullWeekCalendarPayload:
		day := time.Date(payload.Year, time.Month(payload.Month), payload.Day, 0, 0, 0, 0, time.UTC)
		filter = WeekFilter(day)
	case *GetDayCalendarPayload:
		filter = DayFilter(payload.Date.Time)
	default:
		conn.SendInvalid()
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	events, err := d.store.Query(callCtx, conn.ClinicID(), filter)
	if err != nil {
		slog.Error("calendar query failed",
			"conn_id", conn.ID().String(),
			"clinic_id", conn.ClinicID(),
			"message_type", msg.Type.String(),
			"error", err,
		)
		conn.SendError("could not load the calendar")
		return false
	}

	err = conn.Send(Outbound{
		Type:     msg.Type,
		ClinicID: conn.ClinicID(),
		Data:     NewEventsCalendarResponse(events),
	})
	if err != nil {
		slog.Debug("calendar response not delivered", "conn_id", conn.ID().String(), "error", err)
	}
	return true
}

// handleAddEvent creates an event and notifies the whole clinic. The acting
// user is always the connection's resolved identity.
func (d *Dispatcher) handleAddEvent(ctx context.Context, conn *Connection, msg InboundMessage) bool {
	payload, ok := msg.Payload.(*AddEventPayload)
	if !ok {
		conn.SendInvalid()
		return false
	}

	event := SchedulerEvent{
		Status:      StatusWaitingConfirmation,
		Date:        payload.Date.Time,
		Description: payload.Description,
		IsReturn:    payload.IsReturn,
		IsOff:       payload.IsOff,
		OffReason:   payload.OffReason,
		ClinicID:    conn.ClinicID(),
		PatientID:   payload.PatientID,
		Patient:     payload.Patient,
		UserID:      conn.UserID(),
		DeskID:      payload.DeskID,
		Desk:        payload.Desk,
	}
	if err := event.Validate(d.now()); err != nil {
		conn.SendError(err.Error())
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	created, err := d.store.Create(callCtx, event)
	if err != nil {
		slog.Error("event creation failed",
			"conn_id", conn.ID().String(),
			"clinic_id", conn.ClinicID(),
			"error", err,
		)
		conn.SendError("could not add the event")
		return false
	}

	d.broadcaster.Broadcast(conn.ClinicID(), Outbound{
		Type:     TypeAddEvent,
		ClinicID: conn.ClinicID(),
		Data:     NewEventResponse(created),
	})
	return true
}

// handleEditEvent patches an event and notifies the whole clinic. A payload
// field is applied only when present and non-zero, so a false flag or empty
// string never clears a stored value.
func (d *Dispatcher) handleEditEvent(ctx context.Context, conn *Connection, msg InboundMessage) bool {
	payload, ok := msg.Payload.(*EditEventPayload)
	if !ok {
		conn.SendInvalid()
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	event, err := d.store.Get(callCtx, payload.EventID)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			conn.SendError("event not found")
		} else {
			slog.Error("event load failed",
				"conn_id", conn.ID().String(),
				"event_id", payload.EventID,
				"error", err,
			)
			conn.SendError("could not edit the event")
		}
		return false
	}

	applyEdit(&event, payload)
	if err := event.Validate(d.now()); err != nil {
		conn.SendError(err.Error())
		return false
	}

	if err := d.store.Update(callCtx, event); err != nil {
		slog.Error("event update failed",
			"conn_id", conn.ID().String(),
			"event_id", event.ID,
			"error", err,
		)
		conn.SendError("could not edit the event")
		return false
	}

	d.broadcaster.Broadcast(conn.ClinicID(), Outbound{
		Type:     TypeEditEvent,
		ClinicID: conn.ClinicID(),
		Data:     NewEventResponse(event),
	})
	return true
}

func applyEdit(event *SchedulerEvent, p *EditEventPayload) {
	if p.Status != nil && *p.Status != "" {
		event.Status = *p.Status
	}
	if !p.Date.IsZero() {
		event.Date = p.Date.Time
	}
	if p.Description != "" {
		event.Description = p.Description
	}
	if p.IsReturn {
		event.IsReturn = true
	}
	if p.IsOff {
		event.IsOff = true
	}
	if p.OffReason != nil && *p.OffReason != "" {
		event.OffReason = p.OffReason
	}
	if p.PatientID != 0 {
		event.PatientID = p.PatientID
	}
	if p.Patient != "" {
		event.Patient = p.Patient
	}
	if p.DeskID != 0 {
		event.DeskID = p.DeskID
	}
	if p.Desk != "" {
		event.Desk = p.Desk
	}
}

// handleRemoveEvent deletes an event and echoes its identifier to the clinic.
func (d *Dispatcher) handleRemoveEvent(ctx context.Context, conn *Connection, msg InboundMessage) bool {
	payload, ok := msg.Payload.(*RemoveEventPayload)
	if !ok {
		conn.SendInvalid()
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	if _, err := d.store.Get(callCtx, payload.EventID); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			conn.SendError("event not found")
		} else {
			slog.Error("event load failed",
				"conn_id", conn.ID().String(),
				"event_id", payload.EventID,
				"error", err,
			)
			conn.SendError("could not remove the event")
		}
		return false
	}
	if err := d.store.Delete(callCtx, payload.EventID); err != nil {
		slog.Error("event delete failed",
			"conn_id", conn.ID().String(),
			"event_id", payload.EventID,
			"error", err,
		)
		conn.SendError("could not remove the event")
		return false
	}

	d.broadcaster.Broadcast(conn.ClinicID(), Outbound{
		Type:     TypeRemoveEvent,
		ClinicID: conn.ClinicID(),
		Data:     RemoveEventResponse{EventID: payload.EventID},
	})
	return true
}
