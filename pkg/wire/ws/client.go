// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/url"

	"github.com/coder/websocket"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/wire"
)

// Client is the executor side of the hub connection.
type Client struct {
	conn    *websocket.Conn
	exec    wire.Executor
	logger  *slog.Logger
	onEvent func(events.Envelope)
}

// Dial connects executorID to the hub at rawURL.
func Dial(ctx context.Context, rawURL, executorID string, exec wire.Executor) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set(ExecutorParam, executorID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, exec: exec, logger: slog.Default()}, nil
}

// OnEvent sets the handler for forwarded domain events.
func (c *Client) OnEvent(fn func(events.Envelope)) { c.onEvent = fn }

// Run announces the executor as ready and serves execute frames until
// ctx is done or the connection drops. Each request runs in its own
// goroutine.
func (c *Client) Run(ctx context.Context) error {
	if err := writeFrame(ctx, c.conn, Frame{Type: FrameReady}); err != nil {
		return err
	}
	for {
		f, err := readFrame(ctx, c.conn)
		if stderrors.Is(err, errBadFrame) {
			c.logger.Warn("wire.ws.client.bad_frame", "error", err)
			continue
		}
		if err != nil {
			return err
		}
		switch f.Type {
		case FrameExecute:
			if f.Execute == nil {
				continue
			}
			go func(msg wire.ExecuteSkillMsg) {
				res := wire.Handle(ctx, c.exec, msg)
				if err := writeFrame(ctx, c.conn, Frame{Type: FrameResult, Result: &res}); err != nil {
					c.logger.Warn("wire.ws.client.write_error", "call_id", msg.CallID, "error", err)
				}
			}(*f.Execute)
		case FrameEvent:
			if f.Event != nil && c.onEvent != nil {
				c.onEvent(*f.Event)
			}
		}
	}
}

// ReportPredicate publishes a wait predicate value for netID.
func (c *Client) ReportPredicate(ctx context.Context, netID int64, key string, value bool) error {
	return writeFrame(ctx, c.conn, Frame{Type: FramePredicate, NetID: netID, Key: key, Value: value})
}

// ReportPosition publishes the world position of netID.
func (c *Client) ReportPosition(ctx context.Context, netID int64, pos core.Vec3) error {
	return writeFrame(ctx, c.conn, Frame{Type: FramePosition, NetID: netID, Position: &pos})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
