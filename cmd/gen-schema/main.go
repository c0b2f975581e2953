// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Command gen-schema writes the JSON Schemas of the wire payloads and worker
// messages under schemas/.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
)

func main() {
	groups := []struct {
		dir    string
		render func() (map[string][]byte, error)
	}{
		{"protocol", protocol.Schemas},
		{"worker", sandbox.Schemas},
	}
	for _, g := range groups {
		schemas, err := g.render()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s schemas: %v\n", g.dir, err)
			os.Exit(1)
		}
		dir := filepath.Join("schemas", g.dir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
			os.Exit(1)
		}
		for name, data := range schemas {
			outPath := filepath.Join(dir, name+".schema.json")
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Generated %s\n", outPath)
		}
	}
}
