// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oe, ok := oops.AsOops(err)
	require.Truef(t, ok, "want an oops error, got %T: %v", err, err)
	return oe
}

// AssertErrorCode fails t unless err is an oops error carrying code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equalf(t, code, requireOops(t, err).Code(), "code of %v", err)
}

// AssertErrorContext fails t unless err carries key with value in its oops
// context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Containsf(t, ctx, key, "context of %v", err) {
		assert.Equal(t, value, ctx[key])
	}
}

// AssertReportCode fails t unless the published report carries code.
func AssertReportCode(t *testing.T, r Report, code string) {
	t.Helper()
	assert.Equalf(t, code, r.Code, "report %+v", r)
}
