// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package safety

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MinKeywordsPerPattern is the minimum keyword count a pattern must carry.
const MinKeywordsPerPattern = 3

// imperativeMarkers are the phrases a safety message must contain at least
// one of. A prohibition alone ("do not ...") does not count.
var imperativeMarkers = []string{"call", "leave", "evacuate", "turn off"}

// PatternFile is the top-level layout of a safety catalogue YAML document.
type PatternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Pattern is one Layer-1 hazard category.
type Pattern struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	Keywords     []string `yaml:"keywords" json:"keywords"`
	Professional string   `yaml:"professional" json:"professional"`
	Message      string   `yaml:"message" json:"message"`
}

// UnmarshalYAML decodes a pattern and enforces the catalogue rules: a name,
// at least MinKeywordsPerPattern non-empty keywords, a professional, and a
// message with an imperative instruction. Keywords are lowercased.
func (p *Pattern) UnmarshalYAML(value *yaml.Node) error {
	type rawPattern Pattern
	var raw rawPattern
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if strings.TrimSpace(raw.Name) == "" {
		return fmt.Errorf("safety pattern at line %d has no name", value.Line)
	}
	keywords := make([]string, 0, len(raw.Keywords))
	for _, kw := range raw.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			return fmt.Errorf("safety pattern %q has an empty keyword", raw.Name)
		}
		keywords = append(keywords, kw)
	}
	if len(keywords) < MinKeywordsPerPattern {
		return fmt.Errorf("safety pattern %q has %d keywords, need at least %d",
			raw.Name, len(keywords), MinKeywordsPerPattern)
	}
	if strings.TrimSpace(raw.Professional) == "" {
		return fmt.Errorf("safety pattern %q has no professional", raw.Name)
	}
	if !hasImperative(raw.Message) {
		return fmt.Errorf("safety pattern %q message must contain one of %v",
			raw.Name, imperativeMarkers)
	}

	raw.Keywords = keywords
	*p = Pattern(raw)
	return nil
}

func hasImperative(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range imperativeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Match is the result of a successful Layer-1 check.
type Match struct {
	Pattern Pattern
	// Keyword is the first keyword of Pattern found in the input.
	Keyword string
}

// Finding is one keyword hit reported by Matcher.Scan.
type Finding struct {
	PatternName string `json:"pattern_name"`
	Keyword     string `json:"keyword"`
}
