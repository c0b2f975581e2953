// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

//go:build tools

// Package main pins test frameworks that only tagged or test builds import.
package main

import (
	_ "github.com/onsi/ginkgo/v2"
	_ "github.com/onsi/gomega"
	_ "github.com/stretchr/testify/mock"
)
