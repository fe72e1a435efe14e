// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety implements the deterministic Layer-1 hazard detector.
//
// The catalogue of hazard patterns is embedded in the binary (see the
// enforcement subpackage) and loaded once. Matching is a case-insensitive
// substring test run before any LLM call.
package safety

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/homeops/services/safety/enforcement"
	"gopkg.in/yaml.v3"
)

// Matcher checks free text against the hazard catalogue. It is immutable
// after construction and safe for concurrent use.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher loads the catalogue embedded in the binary.
//
// Returns an error if the embedded YAML is malformed or a pattern breaks the
// catalogue rules enforced by Pattern.UnmarshalYAML.
func NewMatcher() (*Matcher, error) {
	return NewMatcherFromYAML(enforcement.SafetyPatterns)
}

// NewMatcherFromYAML builds a Matcher from a catalogue document. Pattern
// order in the document is the match priority.
func NewMatcherFromYAML(data []byte) (*Matcher, error) {
	var file PatternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the safety pattern file: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("safety pattern file defines no patterns")
	}
	seen := make(map[string]bool, len(file.Patterns))
	for _, p := range file.Patterns {
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate safety pattern %q", p.Name)
		}
		seen[p.Name] = true
	}
	return &Matcher{patterns: file.Patterns}, nil
}

// Match returns the first pattern, in catalogue order, with a keyword
// contained in the lowercased "text deviceHint".
func (m *Matcher) Match(text, deviceHint string) (Match, bool) {
	combined := strings.ToLower(text + " " + deviceHint)
	for _, p := range m.patterns {
		for _, kw := range p.Keywords {
			if strings.Contains(combined, kw) {
				return Match{Pattern: p.clone(), Keyword: kw}, true
			}
		}
	}
	return Match{}, false
}

// Scan reports every keyword hit across all patterns, in catalogue order.
// Used for diagnostics; Match is the decision function.
func (m *Matcher) Scan(text string) []Finding {
	lower := strings.ToLower(text)
	var findings []Finding
	for _, p := range m.patterns {
		for _, kw := range p.Keywords {
			if strings.Contains(lower, kw) {
				findings = append(findings, Finding{PatternName: p.Name, Keyword: kw})
			}
		}
	}
	return findings
}

// Patterns returns a copy of the catalogue in priority order.
func (m *Matcher) Patterns() []Pattern {
	out := make([]Pattern, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.clone()
	}
	return out
}

func (p Pattern) clone() Pattern {
	p.Keywords = append([]string(nil), p.Keywords...)
	return p
}
