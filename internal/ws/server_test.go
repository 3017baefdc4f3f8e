// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plusclinic/schedlive/internal/core"
)

type stubDirectory struct {
	exists bool
	err    error
}

func (s *stubDirectory) ClinicExists(context.Context, int64) (bool, error) {
	return s.exists, s.err
}

func (s *stubDirectory) TokenValid(context.Context, string) (bool, error) { return true, nil }

func (s *stubDirectory) UserForToken(context.Context, string) (int64, error) { return 42, nil }

// frame mirrors the wire envelope for assertions on received messages.
type frame struct {
	Type     int             `json:"messageType"`
	ClinicID int64           `json:"clinicId"`
	Data     json.RawMessage `json:"data"`
}

type testFixture struct {
	server   *Server
	registry *core.ConnectionRegistry
	queue    *core.InboundQueue
	http     *httptest.Server
}

func newTestFixture(t *testing.T, directory core.DirectoryService, health HealthCheck) *testFixture {
	t.Helper()

	registry := core.NewConnectionRegistry()
	queue := core.NewInboundQueue()
	server := NewServer("127.0.0.1:0", registry, queue, directory, health,
		time.Second, time.Second, []string{"*"})

	httpSrv := httptest.NewServer(server.Handler())
	t.Cleanup(httpSrv.Close)
	t.Cleanup(queue.Close)

	return &testFixture{server: server, registry: registry, queue: queue, http: httpSrv}
}

func (f *testFixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got frame
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	return got
}

func TestServer_AdmissionAck(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{exists: true}, nil)

	conn := f.dial(t, "/scheduler/7/")

	ack := readFrame(t, conn)
	assert.Equal(t, int(core.TypeCreateUUID), ack.Type)
	assert.Equal(t, int64(7), ack.ClinicID)

	var payload struct {
		UUID string `json:"uuid"`
	}
	require.NoError(t, json.Unmarshal(ack.Data, &payload))
	assert.NotEmpty(t, payload.UUID)

	require.Eventually(t, func() bool { return f.registry.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_UnknownClinicRejected(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{exists: false}, nil)

	conn := f.dial(t, "/scheduler/99/")

	errFrame := readFrame(t, conn)
	assert.Equal(t, int(core.TypeError), errFrame.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	assert.Equal(t, 0, f.registry.Len(), "rejected connection never enters the registry")
}

func TestServer_DirectoryFailureRejectsAdmission(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{err: errors.New("directory down")}, nil)

	conn := f.dial(t, "/scheduler/7/")

	errFrame := readFrame(t, conn)
	assert.Equal(t, int(core.TypeError), errFrame.Type)
	assert.Equal(t, 0, f.registry.Len())
}

func TestServer_ValidFrameIsEnqueued(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{exists: true}, nil)

	conn := f.dial(t, "/scheduler/7/")
	readFrame(t, conn) // admission ack

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"messageType":7,"clinicId":7,"data":{"token":"tok"}}`)))

	require.Eventually(t, func() bool { return f.queue.Len() == 1 }, time.Second, 5*time.Millisecond)

	item, ok := f.queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, core.TypeConnection, item.Msg.Type)
	assert.Equal(t, int64(7), item.Msg.ClinicID)
}

func TestServer_MalformedFrameAnswersInvalidAndStaysOpen(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{exists: true}, nil)

	conn := f.dial(t, "/scheduler/7/")
	readFrame(t, conn) // admission ack

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{not json`)))

	invalid := readFrame(t, conn)
	assert.Equal(t, int(core.TypeInvalid), invalid.Type)
	assert.Equal(t, 0, f.queue.Len(), "malformed frames never reach the queue")

	// The connection is still usable afterwards.
	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"messageType":11,"clinicId":7}`)))
	require.Eventually(t, func() bool { return f.queue.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_ClientDropUnregisters(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{exists: true}, nil)

	conn := f.dial(t, "/scheduler/7/")
	readFrame(t, conn)
	require.Eventually(t, func() bool { return f.registry.Len() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_BadClinicPath(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{exists: true}, nil)

	resp, err := http.Get(f.http.URL + "/scheduler/not-a-number/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthCheck
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthy",
			health:     func(context.Context) error { return nil },
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name:       "database down",
			health:     func(context.Context) error { return errors.New("no database") },
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "database connection error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFixture(t, &stubDirectory{exists: true}, tt.health)

			resp, err := http.Get(f.http.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestServer_RootRedirectsToHealth(t *testing.T) {
	f := newTestFixture(t, &stubDirectory{exists: true}, nil)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(f.http.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/health", resp.Header.Get("Location"))
}
