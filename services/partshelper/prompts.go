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

	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// prompts_test.go pins the safety and confidence rules below.
var systemPrompt = `You are a home maintenance parts expert. Your job is to identify the correct replacement parts, filters, and consumables for home systems based on documentation and house profile information.

RULES:
1. Only recommend parts that are mentioned or strongly implied by the provided documentation
2. Include part numbers, filter sizes, and specific identifiers when available from docs
3. Be specific about which device model a part fits
4. Include replacement intervals when documented
5. NEVER fabricate part numbers. If you don't have a specific number, omit it
6. Set confidence levels accurately:
   - confirmed: part number or spec found directly in the source documentation
   - likely: inferred from documentation (e.g. device specs suggest this part)
   - uncertain: general knowledge, not directly supported by indexed documents
7. confirmed parts MUST have a source_doc reference
8. uncertain parts must NOT have a part_number, since it can't be verified

SAFETY RULES:
- For gas-related parts (gas valves, gas lines, burner components): add a note that professional installation is recommended
- For electrical parts (breakers, panels, wiring): add a note that a licensed electrician should install
- For structural components: recommend professional assessment

CLARIFICATION QUESTIONS:
- Generate questions when the query is too vague to give a definitive answer
- Generate questions when the device model is unknown and it matters for part selection
- Keep questions specific and actionable

` + llm.InjectionGuard

const (
	noDocumentation  = "No documentation available."
	noProfileDetails = "No device details available from house profile."
)

func userPrompt(query string, devices []string, profile *datatypes.HouseProfile, chunks []datatypes.RetrievedChunk) string {
	safeDevices := make([]string, len(devices))
	for i, d := range devices {
		safeDevices[i] = sanitizeDeviceName(d)
	}
	target := "all"
	if len(safeDevices) > 0 {
		target = strings.Join(safeDevices, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Parts query:\n%s\n\n", llm.Untrusted("user_query", query))
	fmt.Fprintf(&b, "Target devices: %s\n\n", target)
	fmt.Fprintf(&b, "Device details from house profile:\n%s\n\n", deviceDetails(profile, safeDevices))
	fmt.Fprintf(&b, "Relevant documentation:\n%s\n\n", formatChunks(chunks))
	b.WriteString("Identify the correct replacement parts, filters, and consumables based on the documentation above. " +
		"Include part numbers and replacement intervals when available.")
	return b.String()
}

func deviceDetails(profile *datatypes.HouseProfile, devices []string) string {
	var sections []string
	for _, d := range devices {
		if details := profile.SystemDetails(d); details != "" {
			sections = append(sections, fmt.Sprintf("**%s**:\n%s", d, details))
		}
	}
	if len(sections) == 0 {
		return noProfileDetails
	}
	return strings.Join(sections, "\n\n")
}

// formatChunks renders chunks as numbered sources separated by rules.
func formatChunks(chunks []datatypes.RetrievedChunk) string {
	if len(chunks) == 0 {
		return noDocumentation
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		deviceType := c.DeviceType
		if deviceType == "" {
			deviceType = "general"
		}
		parts[i] = fmt.Sprintf("[Source %d: %s (%s)]\n%s", i+1, c.Source, deviceType, c.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// sanitizeDeviceName keeps letters, digits and underscores. Device names
// from a request are not wrapped in untrusted tags, so they must not carry
// markup or instructions.
func sanitizeDeviceName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, name)
}
