// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package connection

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Filter is a compiled subscription filter.
type Filter struct {
	raw    string
	g      glob.Glob
	parent string // "a/b" for "a/b/#", which also matches its parent level
}

// CompileFilter compiles an MQTT style topic filter into a glob with '/' as
// the level separator.
func CompileFilter(filter string) (*Filter, error) {
	if filter == "" {
		return nil, invalidFilter(filter, "empty filter")
	}
	levels := strings.Split(filter, "/")
	parts := make([]string, len(levels))
	f := &Filter{raw: filter}
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return nil, invalidFilter(filter, "'#' must be the last level")
			}
			parts[i] = "**"
			if i > 0 {
				f.parent = strings.Join(levels[:i], "/")
			}
		case level == "+":
			parts[i] = "*"
		case strings.ContainsAny(level, "+#"):
			return nil, invalidFilter(filter, "wildcards must occupy a whole level")
		default:
			parts[i] = glob.QuoteMeta(level)
		}
	}
	g, err := glob.Compile(strings.Join(parts, "/"), '/')
	if err != nil {
		return nil, oops.In("connection").Code(CodeInvalidFilter).With("filter", filter).Wrap(err)
	}
	f.g = g
	return f, nil
}

// Match reports whether topic matches the filter.
func (f *Filter) Match(topic string) bool {
	if f.parent != "" && topic == f.parent {
		return true
	}
	return f.g.Match(topic)
}

// String returns the filter as written.
func (f *Filter) String() string { return f.raw }

// ValidTopic reports whether topic can be published to: non-empty and
// free of wildcard characters.
func ValidTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}

func invalidFilter(filter, reason string) error {
	return oops.In("connection").Code(CodeInvalidFilter).With("filter", filter).Errorf("invalid filter %q: %s", filter, reason)
}
