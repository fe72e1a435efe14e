// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package partshelper

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// RenderMarkdown formats a lookup result. Parts are grouped by device type
// in order of first appearance.
func RenderMarkdown(r *Result) string {
	lines := []string{"# Parts & Consumables", ""}
	if r.Summary != "" {
		lines = append(lines, r.Summary, "")
	}

	if len(r.Parts) == 0 {
		lines = append(lines, "No parts identified from available documentation.", "")
	} else {
		var order []string
		byDevice := make(map[string][]datatypes.PartRecommendation)
		for _, p := range r.Parts {
			if _, ok := byDevice[p.DeviceType]; !ok {
				order = append(order, p.DeviceType)
			}
			byDevice[p.DeviceType] = append(byDevice[p.DeviceType], p)
		}
		for _, device := range order {
			lines = append(lines, "## "+deviceLabel(device), "")
			for _, p := range byDevice[device] {
				lines = append(lines, partLines(p)...)
				lines = append(lines, "")
			}
		}
	}

	if len(r.ClarificationQuestions) > 0 {
		lines = append(lines, "## Missing Information", "",
			"The following information would help identify parts more precisely:", "")
		for _, q := range r.ClarificationQuestions {
			lines = append(lines, fmt.Sprintf("- **%s**", q.Question))
			if q.Reason != "" {
				lines = append(lines, fmt.Sprintf("  _%s_", q.Reason))
			}
		}
		lines = append(lines, "")
	}

	if sources := r.SourcesUsed(); len(sources) > 0 {
		lines = append(lines, "---", fmt.Sprintf("*Sources: %s*", strings.Join(sources, ", ")))
	}
	return strings.Join(lines, "\n")
}

func partLines(p datatypes.PartRecommendation) []string {
	lines := []string{fmt.Sprintf("### %s [%s]", p.PartName, strings.ToUpper(string(p.Confidence)))}
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", label, value))
		}
	}
	add("Part/Size", p.PartNumber)
	add("For model", p.DeviceModel)
	add("Description", p.Description)
	add("Replace", p.ReplacementInterval)
	add("Where to buy", p.WhereToBuy)
	if p.SourceDoc != "" {
		lines = append(lines, fmt.Sprintf("- *Source: %s*", p.SourceDoc))
	}
	if p.Notes != "" {
		lines = append(lines, "- Note: "+p.Notes)
	}
	return lines
}

// deviceLabel turns water_heater into "Water Heater". An empty type is
// labeled "General".
func deviceLabel(deviceType string) string {
	words := strings.Fields(strings.ReplaceAll(deviceType, "_", " "))
	if len(words) == 0 {
		return "General"
	}
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
