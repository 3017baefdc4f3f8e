// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import (
	"context"
	"sort"
	"sync"
)

// EventStore persists and retrieves scheduler events.
type EventStore interface {
	// Create stores a new event and returns it with its identifier set.
	Create(ctx context.Context, event SchedulerEvent) (SchedulerEvent, error)

	// Get returns the event with the given identifier, or ErrEventNotFound.
	Get(ctx context.Context, id int64) (SchedulerEvent, error)

	// Update persists every field of an existing event, or ErrEventNotFound.
	Update(ctx context.Context, event SchedulerEvent) error

	// Delete removes an event, or ErrEventNotFound.
	Delete(ctx context.Context, id int64) error

	// Query returns the clinic's events whose date falls inside the filter,
	// ordered by date.
	Query(ctx context.Context, clinicID int64, filter DateFilter) ([]SchedulerEvent, error)
}

// DirectoryService resolves clinics, tokens and users. It is an external
// collaborator; every call is blocking I/O and callers bound it with a
// timeout.
type DirectoryService interface {
	ClinicExists(ctx context.Context, clinicID int64) (bool, error)
	TokenValid(ctx context.Context, token string) (bool, error)
	UserForToken(ctx context.Context, token string) (int64, error)
}

// MemoryEventStore is an in-memory EventStore for tests.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[int64]SchedulerEvent
	nextID int64
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[int64]SchedulerEvent), nextID: 1}
}

// Create stores the event under a fresh identifier.
func (s *MemoryEventStore) Create(_ context.Context, event SchedulerEvent) (SchedulerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextID
	s.nextID++
	s.events[event.ID] = event
	return event, nil
}

// Get returns a stored event by identifier.
func (s *MemoryEventStore) Get(_ context.Context, id int64) (SchedulerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return SchedulerEvent{}, ErrEventNotFound
	}
	return event, nil
}

// Update overwrites a stored event.
func (s *MemoryEventStore) Update(_ context.Context, event SchedulerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; !ok {
		return ErrEventNotFound
	}
	s.events[event.ID] = event
	return nil
}

// Delete removes a stored event.
func (s *MemoryEventStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(s.events, id)
	return nil
}

// Query filters the clinic's events by date range, ordered by date.
func (s *MemoryEventStore) Query(_ context.Context, clinicID int64, filter DateFilter) ([]SchedulerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SchedulerEvent
	for _, e := range s.events {
		if e.ClinicID != clinicID {
			continue
		}
		if e.Date.Before(filter.From) || !e.Date.Before(filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
