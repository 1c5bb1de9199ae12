// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
)

// decodeArgs converts planner args into T. Typed values pass through;
// anything else goes through JSON so map and struct inputs behave alike.
// Unknown keys are ignored.
func decodeArgs[T any](input any) (T, error) {
	var out T
	if v, ok := input.(T); ok {
		return v, nil
	}
	if input == nil {
		input = map[string]any{}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return out, errors.New(errors.CodeInvalidInput, "args are not serializable", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.New(errors.CodeInvalidInput, describe(err), nil)
	}
	return out, nil
}

func describe(err error) string {
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s: expected %s, received %s", typeErr.Field, typeErr.Type, typeErr.Value)
	}
	return strings.TrimPrefix(err.Error(), "json: ")
}

// required reports the names of nil fields.
func required(fields map[string]bool) error {
	var missing []string
	for _, name := range []string{"x", "y", "z", "entity", "vehicleNetId", "dest"} {
		if isNil, ok := fields[name]; ok && isNil {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.Newf(errors.CodeInvalidInput, "required: %s", strings.Join(missing, ", "))
}

func or[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

type pointArgs struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

func (p pointArgs) check() error {
	return required(map[string]bool{"x": p.X == nil, "y": p.Y == nil, "z": p.Z == nil})
}

func (p pointArgs) vec() core.Vec3 { return core.Vec3{X: *p.X, Y: *p.Y, Z: *p.Z} }
