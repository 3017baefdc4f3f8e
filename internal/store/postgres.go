// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

// Package store provides the PostgreSQL persistence layer.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/plusclinic/schedlive/internal/core"
)

// Querier is the pgxpool surface the repositories use. pgxmock satisfies it,
// keeping the unit tests off a live database.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresEventStore implements core.EventStore using PostgreSQL.
type PostgresEventStore struct {
	db   Querier
	pool *pgxpool.Pool
}

// Connect opens a pool on the DSN and returns a store backed by it.
func Connect(ctx context.Context, dsn string) (*PostgresEventStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").Wrap(err)
	}
	return &PostgresEventStore{db: pool, pool: pool}, nil
}

// NewPostgresEventStore wraps an existing pool or mock.
func NewPostgresEventStore(db Querier) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// Close releases the pool when the store owns one.
func (s *PostgresEventStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// DB exposes the underlying querier so sibling repositories can share the
// pool.
func (s *PostgresEventStore) DB() Querier {
	return s.db
}

// Ping verifies database connectivity.
func (s *PostgresEventStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return oops.Code("STORE_PING_FAILED").Wrap(err)
	}
	return nil
}

const eventColumns = `id, status, date, description, is_return, is_off, off_reason,
	       clinic_id, patient_id, patient, user_id, desk_id, desk`

// Create stores a new event and returns it with the generated identifier.
func (s *PostgresEventStore) Create(ctx context.Context, event core.SchedulerEvent) (core.SchedulerEvent, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO scheduler_events (
			status, date, description, is_return, is_off, off_reason,
			clinic_id, patient_id, patient, user_id, desk_id, desk
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		string(event.Status),
		event.Date,
		event.Description,
		event.IsReturn,
		event.IsOff,
		event.OffReason,
		event.ClinicID,
		event.PatientID,
		event.Patient,
		event.UserID,
		event.DeskID,
		event.Desk,
	)
	if err := row.Scan(&event.ID); err != nil {
		return core.SchedulerEvent{}, oops.Code("STORE_FAILED").
			With("operation", "insert scheduler event").
			With("clinic_id", event.ClinicID).
			Wrap(err)
	}
	return event, nil
}

// Get retrieves an event by identifier.
func (s *PostgresEventStore) Get(ctx context.Context, id int64) (core.SchedulerEvent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM scheduler_events
		WHERE id = $1
	`, id)

	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.SchedulerEvent{}, oops.Code("EVENT_NOT_FOUND").
			With("id", id).
			Wrap(core.ErrEventNotFound)
	}
	if err != nil {
		return core.SchedulerEvent{}, oops.Code("STORE_FAILED").
			With("operation", "get scheduler event").
			With("id", id).
			Wrap(err)
	}
	return event, nil
}

// Update persists every field of an existing event.
func (s *PostgresEventStore) Update(ctx context.Context, event core.SchedulerEvent) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduler_events
		SET status = $2, date = $3, description = $4, is_return = $5,
		    is_off = $6, off_reason = $7, patient_id = $8, patient = $9,
		    user_id = $10, desk_id = $11, desk = $12, updated_at = now()
		WHERE id = $1
	`,
		event.ID,
		string(event.Status),
		event.Date,
		event.Description,
		event.IsReturn,
		event.IsOff,
		event.OffReason,
		event.PatientID,
		event.Patient,
		event.UserID,
		event.DeskID,
		event.Desk,
	)
	if err != nil {
		return oops.Code("STORE_FAILED").
			With("operation", "update scheduler event").
			With("id", event.ID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("EVENT_NOT_FOUND").
			With("id", event.ID).
			Wrap(core.ErrEventNotFound)
	}
	return nil
}

// Delete removes an event by identifier.
func (s *PostgresEventStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduler_events WHERE id = $1`, id)
	if err != nil {
		return oops.Code("STORE_FAILED").
			With("operation", "delete scheduler event").
			With("id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("EVENT_NOT_FOUND").
			With("id", id).
			Wrap(core.ErrEventNotFound)
	}
	return nil
}

// Query returns a clinic's events inside the half-open date range, ordered
// by date.
func (s *PostgresEventStore) Query(ctx context.Context, clinicID int64, filter core.DateFilter) ([]core.SchedulerEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM scheduler_events
		WHERE clinic_id = $1 AND date >= $2 AND date < $3
		ORDER BY date
	`, clinicID, filter.From, filter.To)
	if err != nil {
		return nil, oops.Code("STORE_FAILED").
			With("operation", "query scheduler events").
			With("clinic_id", clinicID).
			Wrap(err)
	}
	defer rows.Close()

	var events []core.SchedulerEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, oops.Code("STORE_FAILED").
				With("operation", "scan scheduler event row").
				Wrap(err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("STORE_FAILED").
			With("operation", "iterate scheduler events").
			Wrap(err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (core.SchedulerEvent, error) {
	var (
		event  core.SchedulerEvent
		status string
	)
	err := row.Scan(
		&event.ID,
		&status,
		&event.Date,
		&event.Description,
		&event.IsReturn,
		&event.IsOff,
		&event.OffReason,
		&event.ClinicID,
		&event.PatientID,
		&event.Patient,
		&event.UserID,
		&event.DeskID,
		&event.Desk,
	)
	if err != nil {
		return core.SchedulerEvent{}, err //nolint:wrapcheck // callers wrap with context
	}
	event.Status = core.Status(status)
	return event, nil
}
