// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the movement boundary used by skills.
// Delegating forwards each primitive to a remote executor through the
// wire bridge; Simulated moves entities inside an in-process world and
// serves offline runs and tests.
package transport

import (
	"fmt"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
)

// Transport is the boundary skills talk to.
type Transport = core.Transport

// Reasons a primitive could not be delegated.
const (
	ReasonConnectedDisabled = "connected_disabled"
	ReasonNoExecutor        = "no_executor"
	ReasonMissingIdentifier = "missing_identifier"
)

// Wait predicate keys answered by this package.
const (
	PredInVehicle       = "inVehicle"
	PredNotInVehicle    = "notInVehicle"
	PredNearVehicle     = "nearVehicle"
	PredNearDestination = "nearDestination"
)

// DelegationError reports a primitive that needed a connected executor.
type DelegationError struct {
	Skill  string
	Reason string
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("%s requires connected mode executor in current server transport (%s)", e.Skill, e.Reason)
}

func delegationFailure(skill, reason string) error {
	return errors.New(errors.CodeConnectivity, "delegation unavailable", &DelegationError{Skill: skill, Reason: reason}).
		WithContext("skill", skill).
		WithContext("reason", reason)
}
