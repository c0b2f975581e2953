// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/samber/oops"
)

// parseLine splits "name [json]" into a name and decoded data. Data is nil
// when the line carries none.
func parseLine(line string) (string, any, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	if name == "" {
		return "", nil, nil
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return name, nil, nil
	}
	var data any
	if err := json.Unmarshal([]byte(rest), &data); err != nil {
		return "", nil, oops.In("console").With("line", line).Wrapf(err, "data is not JSON")
	}
	return name, data, nil
}

// readLines calls fn for every non-empty line of in until in ends or ctx is
// done. A failing fn is reported on errOut and reading goes on.
func readLines(ctx context.Context, in io.Reader, errOut io.Writer, fn func(name string, data any) error) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			name, data, err := parseLine(line)
			if err == nil && name != "" {
				err = fn(name, data)
			}
			if err != nil {
				fmt.Fprintf(errOut, "error: %v\n", err)
			}
		}
	}
}

func printJSON(out io.Writer, prefix string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(out, "%s <unprintable: %v>\n", prefix, err)
		return
	}
	fmt.Fprintf(out, "%s %s\n", prefix, data)
}
