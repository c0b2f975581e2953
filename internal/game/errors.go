// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package game

import "github.com/samber/oops"

// Error codes returned by the registry.
const (
	CodeUnknownClass  = "UNKNOWN_CLASS"
	CodeUnknownDevice = "UNKNOWN_DEVICE"
	CodeUnknownEvent  = "UNKNOWN_EVENT"
	CodeInvalidState  = "INVALID_STATE"
	CodeInvalidClass  = "INVALID_CLASS"
	CodeUnlinkedTag   = "UNLINKED_TAG"
	CodeClassExists   = "CLASS_EXISTS"
	CodeHandlerFailed = "HANDLER_FAILED"
)

func unknownClass(name string) error {
	return oops.In("game").Code(CodeUnknownClass).With("class", name).Errorf("unknown device class %q", name)
}

func unknownDevice(id, class string) error {
	return oops.In("game").Code(CodeUnknownDevice).With("device", id).With("class", class).Errorf("unknown device %q of class %q", id, class)
}

func invalidState(class string, err error) error {
	return oops.In("game").Code(CodeInvalidState).With("class", class).Errorf("invalid state for class %q: %v", class, err)
}

func unlinkedTag(tag string) error {
	return oops.In("game").Code(CodeUnlinkedTag).With("tag", tag).Errorf("type tag %q is not linked to a device class", tag)
}
