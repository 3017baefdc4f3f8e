// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package store

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// Holiday is one imported national or state holiday.
type Holiday struct {
	Date  time.Time
	Name  string
	Type  string
	Level string
}

// HolidayRepository persists imported holidays.
type HolidayRepository struct {
	db Querier
}

// NewHolidayRepository creates a repository over a pool or mock.
func NewHolidayRepository(db Querier) *HolidayRepository {
	return &HolidayRepository{db: db}
}

// Upsert stores a holiday, replacing any previous entry for the same date
// and name so the yearly import is re-runnable.
func (r *HolidayRepository) Upsert(ctx context.Context, holiday Holiday) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO holidays (date, name, type, level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, name) DO UPDATE
		SET type = EXCLUDED.type, level = EXCLUDED.level
	`,
		holiday.Date,
		holiday.Name,
		holiday.Type,
		holiday.Level,
	)
	if err != nil {
		return oops.Code("STORE_FAILED").
			With("operation", "upsert holiday").
			With("name", holiday.Name).
			Wrap(err)
	}
	return nil
}
