// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package ws carries the net fallback channel over websockets. The hub
// runs on the server and accepts executor connections; Client runs in
// executor processes.
package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/wire"
)

// Frame types.
const (
	FrameReady     = "ready"
	FrameExecute   = "execute"
	FrameResult    = "result"
	FramePredicate = "predicate"
	FramePosition  = "position"
	FrameEvent     = "event"
)

// Frame is the JSON text message exchanged in both directions.
type Frame struct {
	Type     string                `json:"type"`
	Execute  *wire.ExecuteSkillMsg `json:"execute,omitempty"`
	Result   *wire.SkillResultMsg  `json:"result,omitempty"`
	Event    *events.Envelope      `json:"event,omitempty"`
	NetID    int64                 `json:"netId,omitempty"`
	Key      string                `json:"key,omitempty"`
	Value    bool                  `json:"value,omitempty"`
	Position *core.Vec3            `json:"position,omitempty"`
}

// errBadFrame marks a message that was read but could not be decoded.
var errBadFrame = stderrors.New("bad frame")

func writeFrame(ctx context.Context, c *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}

func readFrame(ctx context.Context, c *websocket.Conn) (Frame, error) {
	_, data, err := c.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return f, nil
}
