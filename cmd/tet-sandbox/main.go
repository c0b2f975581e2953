// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Command tet-sandbox hosts a game script worker for a tet server. It is
// started by the server, not by hand.
package main

import (
	"fmt"
	"os"

	"github.com/tetgame/tet/internal/logging"
	"github.com/tetgame/tet/internal/sandbox/process"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println(version)
		return
	}
	logger := logging.Setup("tet-sandbox", version, "json", os.Getenv(process.LogLevelEnv), os.Stderr)
	process.Serve(logger)
}
