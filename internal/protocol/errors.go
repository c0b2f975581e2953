// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol

import (
	"github.com/samber/oops"
)

// Decode error codes. Every decoding failure carries exactly one of them.
const (
	CodeInvalidTopic    = "INVALID_TOPIC"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeSchemaViolation = "SCHEMA_VIOLATION"
)

// IsDecodeError reports whether err is a decoding failure.
func IsDecodeError(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	switch oopsErr.Code() {
	case CodeInvalidTopic, CodeInvalidPayload, CodeSchemaViolation:
		return true
	}
	return false
}

func invalidTopic(topic, reason string) error {
	return oops.In("protocol").
		Code(CodeInvalidTopic).
		With("topic", topic).
		Errorf("invalid topic %q: %s", topic, reason)
}

func invalidPayload(topic string, err error) error {
	return oops.In("protocol").
		Code(CodeInvalidPayload).
		With("topic", topic).
		Errorf("invalid payload on %q: %v", topic, err)
}

func schemaViolation(topic, path string, reason any) error {
	return oops.In("protocol").
		Code(CodeSchemaViolation).
		With("topic", topic).
		With("path", path).
		Errorf("schema violation at %s: %v", path, reason)
}
