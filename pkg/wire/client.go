// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"fmt"
)

// Executor runs skills on the executor side of the wire.
type Executor interface {
	Execute(ctx context.Context, msg ExecuteSkillMsg) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, msg ExecuteSkillMsg) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, msg ExecuteSkillMsg) (any, error) {
	return f(ctx, msg)
}

// Handle runs msg on exec and maps the outcome to a result envelope.
// Executor panics become failed results.
func Handle(ctx context.Context, exec Executor, msg ExecuteSkillMsg) (res SkillResultMsg) {
	res.CallID = msg.CallID
	defer func() {
		if r := recover(); r != nil {
			res = SkillResultMsg{CallID: msg.CallID, Error: fmt.Sprint(r)}
		}
	}()
	data, err := exec.Execute(ctx, msg)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	res.Data = data
	return res
}
