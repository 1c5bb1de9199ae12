// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import "context"

// FallbackFunc produces a value after the primary operation failed.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// WithFallback executes primary and, on error, hands the error to fallback.
// The fallback result (value and error) is returned unchanged.
func WithFallback[T any](ctx context.Context, primary func(ctx context.Context) (T, error), fallback FallbackFunc[T]) (T, error) {
	value, err := primary(ctx)
	if err == nil {
		return value, nil
	}
	return fallback(ctx, err)
}
