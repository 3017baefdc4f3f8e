// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package ws

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/samber/oops"

	"github.com/plusclinic/schedlive/internal/core"
)

// clientTransport adapts a websocket connection to core.Transport. The
// websocket write side serializes internally, so concurrent Sends from the
// dispatcher and the broadcaster are safe.
type clientTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newClientTransport(conn *websocket.Conn, writeTimeout time.Duration) *clientTransport {
	return &clientTransport{conn: conn, writeTimeout: writeTimeout}
}

// Send writes one JSON frame under the write timeout.
func (t *clientTransport) Send(msg core.Outbound) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, t.conn, msg); err != nil {
		return oops.Code("SEND_FAILED").
			With("message_type", msg.Type.String()).
			Wrap(err)
	}
	return nil
}

// Close performs a normal websocket closure. Closing an already-closed
// connection returns an error the caller may ignore.
func (t *clientTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "") //nolint:wrapcheck
}
