// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"github.com/jllopis/kairos-npc/pkg/errors"
)

// WaitKind distinguishes fixed duration waits from predicate waits.
type WaitKind string

const (
	WaitDuration WaitKind = "ms"
	WaitUntilKey WaitKind = "until"
)

// Wait tells the engine to park the active frame.
type Wait struct {
	Kind     WaitKind
	Duration time.Duration
	Key      string
	Timeout  time.Duration
}

// WaitFor parks the frame for d.
func WaitFor(d time.Duration) *Wait {
	return &Wait{Kind: WaitDuration, Duration: d}
}

// WaitUntil parks the frame until predicate key holds or timeout elapses.
func WaitUntil(key string, timeout time.Duration) *Wait {
	return &Wait{Kind: WaitUntilKey, Key: key, Timeout: timeout}
}

// NextKind is the follow-up a skill requests once it returns.
type NextKind string

const (
	NextContinue NextKind = "continue"
	NextReplan   NextKind = "replan"
	NextRun      NextKind = "run"
)

// Next is a follow-up instruction.
type Next struct {
	Kind   NextKind
	Skill  string
	Args   any
	Reason string
}

// Continue re-runs the same skill with the same args on the next tick.
func Continue() *Next { return &Next{Kind: NextContinue} }

// Replan clears the frame so the planner runs again.
func Replan(reason string) *Next { return &Next{Kind: NextReplan, Reason: reason} }

// Run switches the frame to another skill.
func Run(skill string, args any) *Next { return &Next{Kind: NextRun, Skill: skill, Args: args} }

// Result is what a skill returns to the engine. It is the only channel
// for continuation intent.
type Result struct {
	OK   bool
	Data any

	Error string
	// Code classifies a failure. The engine uses it to size the cooldown.
	Code            errors.ErrorCode
	RetryIn         time.Duration
	CooldownPenalty time.Duration

	Next *Next
	Wait *Wait
}

// Ok builds a successful result.
func Ok(data any) Result {
	return Result{OK: true, Data: data}
}

// Fail builds a failed result from err, keeping its error code if typed.
func Fail(err error) Result {
	if err == nil {
		return Result{Error: "skill failed", Code: errors.CodeSkillFailure}
	}
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.CodeSkillFailure
	}
	return Result{Error: err.Error(), Code: code}
}

// Failf builds a failed result from a message.
func Failf(code errors.ErrorCode, format string, args ...any) Result {
	return Fail(errors.Newf(code, format, args...))
}

// WithWait returns r with a wait attached.
func (r Result) WithWait(w *Wait) Result {
	r.Wait = w
	return r
}

// Then returns r with a follow-up attached.
func (r Result) Then(next *Next) Result {
	r.Next = next
	return r
}

// RetryAfter marks a failure as retryable after d.
func (r Result) RetryAfter(d time.Duration) Result {
	r.RetryIn = d
	return r
}

// Penalty overrides the cooldown applied if the failure is terminal.
func (r Result) Penalty(d time.Duration) Result {
	r.CooldownPenalty = d
	return r
}

// Terminal reports whether the result ends the frame with a failure.
func (r Result) Terminal() bool {
	return !r.OK && r.Wait == nil && r.RetryIn <= 0
}
