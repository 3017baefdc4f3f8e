// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubDirectory struct {
	clinicOK bool
	tokenOK  bool
	tokenErr error
	userID   int64
	userErr  error
}

func (s *stubDirectory) ClinicExists(context.Context, int64) (bool, error) {
	return s.clinicOK, nil
}

func (s *stubDirectory) TokenValid(context.Context, string) (bool, error) {
	return s.tokenOK, s.tokenErr
}

func (s *stubDirectory) UserForToken(context.Context, string) (int64, error) {
	return s.userID, s.userErr
}

var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

type dispatcherFixture struct {
	queue      *InboundQueue
	registry   *ConnectionRegistry
	store      *MemoryEventStore
	directory  *stubDirectory
	dispatcher *Dispatcher
}

func newDispatcherFixture() *dispatcherFixture {
	f := &dispatcherFixture{
		queue:     NewInboundQueue(),
		registry:  NewConnectionRegistry(),
		store:     NewMemoryEventStore(),
		directory: &stubDirectory{clinicOK: true, tokenOK: true, userID: 42},
	}
	f.dispatcher = NewDispatcher(f.queue, f.registry, f.store, f.directory, NewBroadcaster(f.registry), time.Second)
	f.dispatcher.now = func() time.Time { return testNow }
	return f
}

// authenticatedConn registers a connection already past the auth handshake.
func (f *dispatcherFixture) authenticatedConn(t *testing.T, clinicID int64) (*Connection, *fakeTransport) {
	t.Helper()
	conn, transport := newTestConnection(clinicID)
	require.NoError(t, f.registry.Register(conn))
	conn.Authenticate(42)
	return conn, transport
}

func (f *dispatcherFixture) process(conn *Connection, msg InboundMessage) {
	f.dispatcher.process(context.Background(), QueueItem{Conn: conn, Msg: msg})
}

func addPayload(clinicID int64) *AddEventPayload {
	return &AddEventPayload{
		Date:        DateTime{testNow.AddDate(0, 0, 14)},
		Description: "checkup",
		ClinicID:    clinicID,
		PatientID:   9,
		Patient:     "Ana Souza",
		DeskID:      2,
		Desk:        "Room B",
	}
}

func TestDispatcher_AuthenticationFlow(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := newTestConnection(3)
	require.NoError(t, f.registry.Register(conn))

	f.process(conn, InboundMessage{Type: TypeConnection, ClinicID: 3, Payload: &ConnectionPayload{Token: "tok"}})

	assert.Equal(t, StateAuthenticated, conn.State())
	assert.Equal(t, int64(42), conn.UserID())

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeConnection, sent[0].Type)
	assert.Equal(t, int64(3), sent[0].ClinicID)
}

func TestDispatcher_InvalidTokenClosesConnection(t *testing.T) {
	f := newDispatcherFixture()
	f.directory.tokenOK = false
	conn, transport := newTestConnection(3)
	require.NoError(t, f.registry.Register(conn))

	f.process(conn, InboundMessage{Type: TypeConnection, ClinicID: 3, Payload: &ConnectionPayload{Token: "bad"}})

	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 0, f.registry.Len())

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeError, sent[0].Type)
}

func TestDispatcher_OperationalMessageBeforeAuth(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := newTestConnection(3)
	require.NoError(t, f.registry.Register(conn))

	f.process(conn, InboundMessage{Type: TypeAddEvent, ClinicID: 3, Payload: addPayload(3)})

	// No store mutation, an ERROR frame, and the connection is gone.
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 0, f.registry.Len())

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeError, sent[0].Type)
}

func TestDispatcher_ClosedConnectionMessagesAreDropped(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := newTestConnection(3)
	require.NoError(t, f.registry.Register(conn))
	f.registry.Unregister(conn)

	f.process(conn, InboundMessage{Type: TypeAddEvent, ClinicID: 3, Payload: addPayload(3)})

	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, transport.messages())
}

func TestDispatcher_ClinicMismatchRejectedButConnectionSurvives(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := f.authenticatedConn(t, 7)

	f.process(conn, InboundMessage{Type: TypeAddEvent, ClinicID: 8, Payload: addPayload(8)})

	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, StateAuthenticated, conn.State())
	assert.Equal(t, 1, f.registry.Len())

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeError, sent[0].Type)
}

func TestDispatcher_AddEventBroadcastsToClinic(t *testing.T) {
	f := newDispatcherFixture()
	sender, senderTransport := f.authenticatedConn(t, 7)
	_, peerTransport := f.authenticatedConn(t, 7)
	_, otherClinicTransport := f.authenticatedConn(t, 8)

	f.process(sender, InboundMessage{Type: TypeAddEvent, ClinicID: 7, Payload: addPayload(7)})

	assert.Equal(t, 1, f.store.Len())

	// Sender and peer both get the notification; the other clinic stays silent.
	for _, transport := range []*fakeTransport{senderTransport, peerTransport} {
		sent := transport.messages()
		require.Len(t, sent, 1)
		assert.Equal(t, TypeAddEvent, sent[0].Type)
		resp, ok := sent[0].Data.(EventResponse)
		require.True(t, ok)
		assert.Equal(t, int64(1), resp.ID)
		assert.Equal(t, "Ana Souza", resp.Patient)
	}
	assert.Empty(t, otherClinicTransport.messages())

	// The stored event carries the connection's identity, not a payload field.
	stored, err := f.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), stored.UserID)
	assert.Equal(t, int64(7), stored.ClinicID)
	assert.Equal(t, StatusWaitingConfirmation, stored.Status)
}

func TestDispatcher_AddEventValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AddEventPayload)
	}{
		{
			name:   "past date",
			mutate: func(p *AddEventPayload) { p.Date = DateTime{testNow.AddDate(0, 0, -1)} },
		},
		{
			name:   "zero date",
			mutate: func(p *AddEventPayload) { p.Date = DateTime{} },
		},
		{
			name:   "absence without reason",
			mutate: func(p *AddEventPayload) { p.IsOff = true; p.OffReason = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture()
			conn, transport := f.authenticatedConn(t, 7)

			payload := addPayload(7)
			tt.mutate(payload)
			f.process(conn, InboundMessage{Type: TypeAddEvent, ClinicID: 7, Payload: payload})

			// Rejected before any store call; the connection stays open.
			assert.Equal(t, 0, f.store.Len())
			assert.Equal(t, StateAuthenticated, conn.State())

			sent := transport.messages()
			require.Len(t, sent, 1)
			assert.Equal(t, TypeError, sent[0].Type)
		})
	}
}

func TestDispatcher_CalendarQueryMirrorsRequestType(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := f.authenticatedConn(t, 7)

	inWindow := SchedulerEvent{ClinicID: 7, Date: time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC), Patient: "A"}
	outOfWindow := SchedulerEvent{ClinicID: 7, Date: time.Date(2026, 10, 2, 10, 0, 0, 0, time.UTC), Patient: "B"}
	otherClinic := SchedulerEvent{ClinicID: 8, Date: time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC), Patient: "C"}
	for _, e := range []SchedulerEvent{inWindow, outOfWindow, otherClinic} {
		_, err := f.store.Create(context.Background(), e)
		require.NoError(t, err)
	}

	f.process(conn, InboundMessage{
		Type:     TypeGetFullMonthCalendar,
		ClinicID: 7,
		Payload:  &GetFullMonthCalendarPayload{Month: 9, Year: 2026},
	})

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeGetFullMonthCalendar, sent[0].Type, "response carries the request's own type")

	calendar, ok := sent[0].Data.(EventsCalendarResponse)
	require.True(t, ok)
	require.Len(t, calendar.Events, 1)
	assert.Equal(t, "A", calendar.Events[0].Patient)
}

func TestDispatcher_WeekQueryWindow(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := f.authenticatedConn(t, 7)

	// Week of Wednesday 2026-09-16 runs Sunday 13th through Saturday 19th.
	inside := SchedulerEvent{ClinicID: 7, Date: time.Date(2026, 9, 13, 8, 0, 0, 0, time.UTC), Patient: "edge"}
	outside := SchedulerEvent{ClinicID: 7, Date: time.Date(2026, 9, 20, 8, 0, 0, 0, time.UTC), Patient: "next week"}
	for _, e := range []SchedulerEvent{inside, outside} {
		_, err := f.store.Create(context.Background(), e)
		require.NoError(t, err)
	}

	f.process(conn, InboundMessage{
		Type:     TypeGetFullWeekCalendar,
		ClinicID: 7,
		Payload:  &GetFullWeekCalendarPayload{Day: 16, Month: 9, Year: 2026},
	})

	sent := transport.messages()
	require.Len(t, sent, 1)
	calendar, ok := sent[0].Data.(EventsCalendarResponse)
	require.True(t, ok)
	require.Len(t, calendar.Events, 1)
	assert.Equal(t, "edge", calendar.Events[0].Patient)
}

func TestDispatcher_EditEventAppliesOnlyTruthyFields(t *testing.T) {
	f := newDispatcherFixture()
	conn, _ := f.authenticatedConn(t, 7)
	_, peerTransport := f.authenticatedConn(t, 7)

	created, err := f.store.Create(context.Background(), SchedulerEvent{
		Status:      StatusWaitingConfirmation,
		ClinicID:    7,
		Date:        time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC),
		Description: "checkup",
		Patient:     "Ana Souza",
		PatientID:   9,
		Desk:        "Room B",
		DeskID:      2,
	})
	require.NoError(t, err)

	confirmed := StatusConfirmed
	f.process(conn, InboundMessage{Type: TypeEditEvent, ClinicID: 7, Payload: &EditEventPayload{
		EventID: created.ID,
		Status:  &confirmed,
		Desk:    "Room C",
		DeskID:  3,
	}})

	stored, err := f.store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.Equal(t, "Room C", stored.Desk)
	// Untouched fields keep their stored values.
	assert.Equal(t, "checkup", stored.Description)
	assert.Equal(t, "Ana Souza", stored.Patient)
	assert.True(t, stored.Date.Equal(created.Date))

	sent := peerTransport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeEditEvent, sent[0].Type)
}

func TestDispatcher_EditMissingEvent(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := f.authenticatedConn(t, 7)
	_, peerTransport := f.authenticatedConn(t, 7)

	f.process(conn, InboundMessage{Type: TypeEditEvent, ClinicID: 7, Payload: &EditEventPayload{EventID: 999}})

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeError, sent[0].Type)
	assert.Empty(t, peerTransport.messages(), "no broadcast for a failed edit")
}

func TestDispatcher_RemoveEventBroadcastsID(t *testing.T) {
	f := newDispatcherFixture()
	conn, _ := f.authenticatedConn(t, 7)
	_, peerTransport := f.authenticatedConn(t, 7)

	created, err := f.store.Create(context.Background(), SchedulerEvent{
		ClinicID: 7,
		Date:     time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	f.process(conn, InboundMessage{Type: TypeRemoveEvent, ClinicID: 7, Payload: &RemoveEventPayload{EventID: created.ID}})

	assert.Equal(t, 0, f.store.Len())

	sent := peerTransport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeRemoveEvent, sent[0].Type)
	resp, ok := sent[0].Data.(RemoveEventResponse)
	require.True(t, ok)
	assert.Equal(t, created.ID, resp.EventID)
}

func TestDispatcher_RemoveMissingEvent(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := f.authenticatedConn(t, 7)

	f.process(conn, InboundMessage{Type: TypeRemoveEvent, ClinicID: 7, Payload: &RemoveEventPayload{EventID: 404}})

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeError, sent[0].Type)
}

func TestDispatcher_DisconnectUnregisters(t *testing.T) {
	f := newDispatcherFixture()
	conn, transport := f.authenticatedConn(t, 7)

	f.process(conn, InboundMessage{Type: TypeDisconnect, ClinicID: 7})

	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, StateClosed, conn.State())
	assert.True(t, transport.isClosed())
}

// panicStore blows up on Create so the recovery path can be exercised.
type panicStore struct {
	*MemoryEventStore
}

func (p *panicStore) Create(context.Context, SchedulerEvent) (SchedulerEvent, error) {
	panic("store exploded")
}

func TestDispatcher_PanicInHandlerIsContained(t *testing.T) {
	f := newDispatcherFixture()
	f.dispatcher.store = &panicStore{f.store}
	conn, transport := f.authenticatedConn(t, 7)

	f.process(conn, InboundMessage{Type: TypeAddEvent, ClinicID: 7, Payload: addPayload(7)})

	// The sender hears about the failure and the connection survives.
	assert.Equal(t, StateAuthenticated, conn.State())
	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeError, sent[0].Type)

	// The dispatcher still processes the next message.
	f.dispatcher.store = f.store
	f.process(conn, InboundMessage{Type: TypeAddEvent, ClinicID: 7, Payload: addPayload(7)})
	assert.Equal(t, 1, f.store.Len())
}

func TestDispatcher_RunDrainsInOrderAndStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newDispatcherFixture()
	conn, transport := f.authenticatedConn(t, 7)

	for day := 10; day < 13; day++ {
		payload := addPayload(7)
		payload.Date = DateTime{time.Date(2026, 9, day, 9, 0, 0, 0, time.UTC)}
		f.queue.Enqueue(QueueItem{Conn: conn, Msg: InboundMessage{Type: TypeAddEvent, ClinicID: 7, Payload: payload}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.dispatcher.Run(ctx) }()

	require.Eventually(t, func() bool { return f.store.Len() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// Broadcasts arrived strictly in enqueue order.
	sent := transport.messages()
	require.Len(t, sent, 3)
	var last time.Time
	for _, out := range sent {
		resp, ok := out.Data.(EventResponse)
		require.True(t, ok)
		assert.True(t, last.Before(resp.Date.Time))
		last = resp.Date.Time
	}
}
