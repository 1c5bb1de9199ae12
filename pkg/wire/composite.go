// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"log/slog"

	"github.com/jllopis/kairos-npc/pkg/telemetry"
)

// Composite tries Primary and, when it fails, retries once on Secondary.
type Composite struct {
	Primary   Caller
	Secondary Caller
	Logger    *slog.Logger
	Metrics   *telemetry.RuntimeMetrics
}

// NewComposite builds a composite caller. secondary may be nil.
func NewComposite(primary, secondary Caller) *Composite {
	return &Composite{Primary: primary, Secondary: secondary}
}

// Call implements Caller. Without a secondary the primary error is
// returned unchanged.
func (c *Composite) Call(ctx context.Context, name string, args ...any) (any, error) {
	res, err := c.Primary.Call(ctx, name, args...)
	if err == nil || c.Secondary == nil {
		return res, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "wire.failover", "rpc", name, "error", err)
	c.Metrics.RecordWireFailover(ctx, name)
	return c.Secondary.Call(ctx, name, args...)
}
