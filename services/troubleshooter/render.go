// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package troubleshooter

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// RenderMarkdown formats a diagnosed state. It reads the state only; risk
// levels and step text appear exactly as generated.
//
// Layout: title, device and symptom, risk badge, summary, one section per
// step tagged with its risk, the when-to-call guidance, and the sorted
// distinct step sources. Empty sections are omitted.
func RenderMarkdown(s State) string {
	lines := []string{
		"# Troubleshooting Diagnosis",
		"**Device**: " + orDefault(s.DeviceType, "Unknown"),
		"**Symptom**: " + orDefault(s.Symptom, "Not specified"),
		"",
	}

	risk := s.OverallRiskLevel
	if risk == "" {
		risk = s.RiskLevel
	}
	if risk != "" {
		lines = append(lines, "**Risk Level**: "+string(risk), "")
	}

	if s.DiagnosisSummary != "" {
		lines = append(lines, "## Summary", "", s.DiagnosisSummary, "")
	}

	if len(s.DiagnosticSteps) > 0 {
		lines = append(lines, "## Diagnostic Steps", "")
		for _, step := range s.DiagnosticSteps {
			lines = append(lines,
				fmt.Sprintf("### Step %d%s", step.StepNumber, riskTag(step.RiskLevel)),
				"",
				"**Do**: "+step.Instruction,
				"**Expected**: "+step.ExpectedOutcome,
				"**If not resolved**: "+step.IfNotResolved,
			)
			if step.SourceDoc != "" {
				lines = append(lines, "*Source: "+step.SourceDoc+"*")
			}
			if step.RequiresProfessional {
				lines = append(lines, "**This step requires a licensed professional.**")
			}
			lines = append(lines, "")
		}
	}

	if s.WhenToCallProfessional != "" {
		lines = append(lines, "---", "", "## When to Call a Professional", "", s.WhenToCallProfessional, "")
	}

	if sources := s.SourceDocs(); len(sources) > 0 {
		lines = append(lines, "---", "*Sources: "+strings.Join(sources, ", ")+"*")
	}

	return strings.Join(lines, "\n")
}

func riskTag(level datatypes.RiskLevel) string {
	switch level {
	case datatypes.RiskHigh:
		return " [HIGH RISK - Professional Required]"
	case datatypes.RiskMed:
		return " [Medium Risk]"
	}
	return ""
}
