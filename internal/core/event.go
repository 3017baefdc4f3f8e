// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

// Package core contains the connection registry, inbound queue, dispatcher
// and broadcast engine behind the scheduler's persistent connections.
package core

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Status is the lifecycle state of a scheduler event.
type Status string

const (
	StatusWaitingConfirmation Status = "WAITING_CONFIRMATION"
	StatusConfirmed           Status = "CONFIRMED"
	StatusCanceled            Status = "CANCELED"
	StatusDone                Status = "DONE"
)

// ErrEventNotFound is returned by an EventStore when no event has the
// requested identifier.
var ErrEventNotFound = errors.New("scheduler event not found")

// SchedulerEvent is one appointment or absence record on a clinic's calendar.
// The core references events but never owns them; the EventStore does.
type SchedulerEvent struct {
	ID          int64
	Status      Status
	Date        time.Time
	Description string
	IsReturn    bool
	IsOff       bool
	OffReason   *string
	ClinicID    int64
	PatientID   int64
	Patient     string
	UserID      int64
	DeskID      int64
	Desk        string
}

// Validate enforces the domain rules that must hold before any store
// mutation is attempted: an absence needs a reason and the date must not be
// in the past. now is injected so the dispatcher's clock drives the check.
func (e SchedulerEvent) Validate(now time.Time) error {
	if e.Date.IsZero() {
		return oops.Code("EVENT_VALIDATION_FAILED").Errorf("event date is required")
	}
	if e.Date.Before(now) {
		return oops.Code("EVENT_VALIDATION_FAILED").
			With("date", e.Date.Format(time.RFC3339)).
			Errorf("event date must not be in the past")
	}
	if e.IsOff && (e.OffReason == nil || *e.OffReason == "") {
		return oops.Code("EVENT_VALIDATION_FAILED").Errorf("an absence requires a reason")
	}
	return nil
}
