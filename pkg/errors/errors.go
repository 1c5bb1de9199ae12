// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors for the NPC runtime.
//
// Every failure that crosses a component boundary (engine, planner, wire
// bridge, controller setup) carries an ErrorCode so callers can branch on
// the category instead of matching message text.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies runtime errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates skill arguments or a payload were malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodePolicyRejected indicates a decision violated the agent constraints.
	CodePolicyRejected ErrorCode = "POLICY_REJECTED"

	// CodeSkillFailure indicates a skill failed with no retry semantics.
	CodeSkillFailure ErrorCode = "SKILL_FAILURE"

	// CodeConnectivity indicates delegation to a remote executor was impossible.
	CodeConnectivity ErrorCode = "CONNECTIVITY"

	// CodeWaitTimeout indicates a wait predicate never became true in time.
	CodeWaitTimeout ErrorCode = "WAIT_TIMEOUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCorrelation indicates a remote response did not match its request.
	CodeCorrelation ErrorCode = "CORRELATION"

	// CodeRateLimit indicates a budget or rate limit was hit.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeDuplicate indicates a key was registered twice.
	CodeDuplicate ErrorCode = "DUPLICATE"

	// CodeConfiguration indicates invalid setup, fatal at registration time.
	CodeConfiguration ErrorCode = "CONFIGURATION"

	// CodeLLMError indicates a remote decision provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As returns err as *Error if anything in its chain is one, or wraps it
// as an internal error otherwise.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if stderrors.As(err, &te) {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) ErrorCode {
	var te *Error
	if stderrors.As(err, &te) {
		return te.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// RecoverableString returns "true" or "false" for metric attributes.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
