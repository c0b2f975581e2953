// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package errutil_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetgame/tet/pkg/errutil"
)

type scriptError struct{ msg string }

func (e scriptError) Error() string { return e.msg }
func (e scriptError) Name() string  { return "RuntimeError" }
func (e scriptError) Stack() string { return "stack traceback:\n\t[G]: in main chunk" }

func TestNewReport_Nil(t *testing.T) {
	r := errutil.NewReport(nil)
	assert.Equal(t, errutil.UnknownMessage, r.Message)
}

func TestNewReport_EmptyMessage(t *testing.T) {
	r := errutil.NewReport(errors.New("   "))
	assert.Equal(t, errutil.UnknownMessage, r.Message)
	assert.Equal(t, "Error", r.Name)
}

func TestNewReport_OopsError(t *testing.T) {
	err := oops.Code("UNKNOWN_DEVICE").With("device", "lamp").Errorf("unknown device lamp")

	r := errutil.NewReport(err)

	assert.Equal(t, "unknown device lamp", r.Message)
	assert.Equal(t, "UNKNOWN_DEVICE", r.Code)
	assert.Equal(t, "lamp", r.Context["device"])
}

func TestNewReport_NamedAndStacked(t *testing.T) {
	r := errutil.NewReport(scriptError{msg: "attempt to call a nil value"})

	assert.Equal(t, "RuntimeError", r.Name)
	assert.Contains(t, r.Stack, "main chunk")
	assert.Equal(t, "attempt to call a nil value", r.Message)
}

func TestNewReport_Cause(t *testing.T) {
	err := fmt.Errorf("script failed: %w", errors.New("context deadline exceeded"))

	r := errutil.NewReport(err)

	assert.Equal(t, "context deadline exceeded", r.Cause)
}

func TestNewReport_PassesReportsThrough(t *testing.T) {
	in := errutil.Report{Message: "from worker", Code: "SCRIPT_ERROR"}

	r := errutil.NewReport(fmt.Errorf("wrapped: %w", in))

	assert.Equal(t, in, r)
}

func TestReport_JSONShape(t *testing.T) {
	data, err := json.Marshal(errutil.NewReport(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Unknown error","name":"Error"}`, string(data))
}
