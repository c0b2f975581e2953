// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package lua

import (
	"context"
	"errors"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Error names reported for failed evaluations.
const (
	NameSyntaxError   = "SyntaxError"
	NameRuntimeError  = "RuntimeError"
	NameTimeoutError  = "TimeoutError"
	NameInternalError = "InternalError"
)

// EvalError is a failed script evaluation or handler call.
type EvalError struct {
	name    string
	message string
	stack   string
	cause   error
}

func (e *EvalError) Error() string {
	if e.message == "" {
		return e.name
	}
	return e.name + ": " + e.message
}

// Name is the error class, one of the Name constants.
func (e *EvalError) Name() string { return e.name }

// Message is the script level error message.
func (e *EvalError) Message() string { return e.message }

// Stack is the Lua traceback, when one was captured.
func (e *EvalError) Stack() string { return e.stack }

func (e *EvalError) Unwrap() error { return e.cause }

// newEvalError converts an error returned by gopher-lua. callCtx is the
// context the call ran under; its expiry turns the failure into a timeout.
func newEvalError(callCtx context.Context, err error) *EvalError {
	if ctxErr := callCtx.Err(); ctxErr != nil {
		name := NameTimeoutError
		if errors.Is(ctxErr, context.Canceled) {
			name = NameInternalError
		}
		return &EvalError{name: name, message: "script interrupted: " + ctxErr.Error(), cause: ctxErr}
	}

	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &EvalError{name: NameInternalError, message: err.Error(), cause: err}
	}
	e := &EvalError{name: NameRuntimeError, stack: strings.TrimSpace(apiErr.StackTrace), cause: apiErr.Cause}
	switch apiErr.Type {
	case lua.ApiErrorSyntax:
		e.name = NameSyntaxError
	case lua.ApiErrorFile, lua.ApiErrorPanic:
		e.name = NameInternalError
	}
	if apiErr.Object != nil && apiErr.Object != lua.LNil {
		e.message = apiErr.Object.String()
	} else {
		e.message = apiErr.Error()
	}
	return e
}
