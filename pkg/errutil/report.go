// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package errutil

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// UnknownMessage replaces the message of errors that carry none.
const UnknownMessage = "Unknown error"

// Report is the JSON shape of an error published to operators.
type Report struct {
	Message string         `json:"message"`
	Name    string         `json:"name,omitempty"`
	Code    string         `json:"code,omitempty"`
	Stack   string         `json:"stack,omitempty"`
	Cause   string         `json:"cause,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Error implements error so a report received from elsewhere can travel the
// same paths as a local failure.
func (r Report) Error() string {
	if r.Name != "" {
		return r.Name + ": " + r.Message
	}
	return r.Message
}

// Named is implemented by errors that know their own display name.
type Named interface {
	Name() string
}

// Stacked is implemented by errors that carry a script stack trace.
type Stacked interface {
	Stack() string
}

// NewReport normalizes err into a Report. A nil error, or one whose message
// is blank, yields UnknownMessage.
func NewReport(err error) Report {
	if err == nil {
		return Report{Message: UnknownMessage, Name: "Error"}
	}
	var r Report
	if errors.As(err, &r) {
		if strings.TrimSpace(r.Message) == "" {
			r.Message = UnknownMessage
		}
		return r
	}

	r.Message = strings.TrimSpace(err.Error())
	var named Named
	if errors.As(err, &named) {
		r.Name = named.Name()
	}
	var stacked Stacked
	if errors.As(err, &stacked) {
		r.Stack = stacked.Stack()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		r.Message = strings.TrimSpace(oopsErr.Error())
		if code, ok := oopsErr.Code().(string); ok {
			r.Code = code
		}
		if ctx := jsonSafe(oopsErr.Context()); len(ctx) > 0 {
			r.Context = ctx
		}
	}
	if cause := errors.Unwrap(err); cause != nil && cause.Error() != err.Error() {
		r.Cause = cause.Error()
	}
	if r.Message == "" {
		r.Message = UnknownMessage
	}
	if r.Name == "" && r.Code == "" && r.Message == UnknownMessage {
		r.Name = "Error"
	}
	return r
}

// jsonSafe drops context values that cannot be encoded.
func jsonSafe(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if _, err := json.Marshal(v); err != nil {
			continue
		}
		out[k] = v
	}
	return out
}
