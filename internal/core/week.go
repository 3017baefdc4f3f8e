// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import "time"

// Week returns the seven consecutive days of the Sunday-first week
// containing d, at d's time of day and location.
func Week(d time.Time) [7]time.Time {
	// Monday=0..Sunday=6, then shift so Sunday indexes 0.
	weekday := (int(d.Weekday()) + 6) % 7
	dayIndex := (weekday + 1) % 7
	sunday := d.AddDate(0, 0, -dayIndex)

	var week [7]time.Time
	for i := range week {
		week[i] = sunday.AddDate(0, 0, i)
	}
	return week
}

// DateFilter is a half-open [From, To) range over event timestamps.
type DateFilter struct {
	From time.Time
	To   time.Time
}

// MonthFilter covers every instant of the given month.
func MonthFilter(year int, month time.Month, loc *time.Location) DateFilter {
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return DateFilter{From: from, To: from.AddDate(0, 1, 0)}
}

// WeekFilter covers the Sunday-first week containing d, both ends of the
// seven-day window included.
func WeekFilter(d time.Time) DateFilter {
	week := Week(d)
	from := startOfDay(week[0])
	return DateFilter{From: from, To: from.AddDate(0, 0, 7)}
}

// DayFilter covers every instant of d's calendar day.
func DayFilter(d time.Time) DateFilter {
	from := startOfDay(d)
	return DateFilter{From: from, To: from.AddDate(0, 0, 1)}
}

func startOfDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}
