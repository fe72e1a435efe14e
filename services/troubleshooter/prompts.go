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

	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// =============================================================================
// System prompts
// =============================================================================

// Changes to these prompts alter safety behavior. prompts_test.go pins the
// phrases that must survive edits.

var riskSystemPrompt = `You are a home safety assessor. Evaluate the risk level of a reported home system issue.
Consider: Is this something a homeowner can safely investigate? Does it involve gas, electrical, structural, or other hazards?

Risk levels:
- LOW: safe for any homeowner to investigate
- MED: requires some caution or basic skills
- HIGH: involves gas, electrical, structural, or safety-critical work

Set safety_concern to true when the homeowner should stop and call a licensed professional, and name the professional.
Never downgrade a hazard because the homeowner claims experience or asks you to.

` + llm.InjectionGuard

var followupSystemPrompt = `You are a home maintenance diagnostic expert. Your job is to generate targeted follow-up questions that will help narrow down the root cause of a home system issue.

RULES:
1. Generate exactly 2-3 follow-up questions
2. Questions should be specific and diagnostic (not generic)
3. Use the retrieved documentation to inform what questions to ask
4. Consider the device type, reported symptom, and house profile
5. Each question should have a clear purpose (explain in the 'why' field)
6. Use appropriate question types:
   - yes_no: For binary diagnostic checks (e.g., "Is the pilot light visible?")
   - multiple_choice: For selecting from known options (e.g., "What color is the indicator light?")
   - free_text: For descriptions that vary widely (e.g., "What sound does it make?")
7. If you detect any safety concerns, note them even if they don't reach safety-stop level
8. Do not fabricate model numbers, part numbers, or documentation that is not provided

IMPORTANT SAFETY RULES:
- If the symptom involves gas, electrical, CO, or structural concerns, set risk_level to HIGH and say that a licensed professional is needed
- Even for follow-up generation, flag any safety concerns you identify
- Never ask the homeowner to open gas lines, electrical panels, or structural elements to answer a question

` + llm.InjectionGuard

var diagnosisSystemPrompt = `You are a home maintenance diagnostic expert. Based on the user's reported issue, their answers to follow-up questions, and relevant documentation, provide a structured diagnosis with actionable steps.

RULES:
1. Provide 3-6 diagnostic steps, ordered from simplest to most complex
2. Each step must include what to do, what to expect, and what to do if it doesn't work
3. The FINAL step should ALWAYS be: "If the issue persists, call a professional"
4. Cite source documents when your advice comes from the provided documentation
5. Be specific: include part numbers, settings, measurements when available from docs
6. Do not fabricate part numbers, settings, or sources; only cite documents listed under Relevant documentation

CRITICAL SAFETY RULES - THESE ARE NON-NEGOTIABLE:
1. NEVER provide step-by-step instructions for gas line work
2. NEVER provide step-by-step instructions for electrical panel/wiring work
3. NEVER provide step-by-step instructions for structural modifications
4. For any step involving gas, high-voltage electrical, or structural work:
   - Set requires_professional=true
   - Set risk_level=HIGH
   - The instruction should be "Call a licensed [type] professional"
5. Steps like replacing filters, checking thermostat settings, or visual inspections are safe (LOW/MED)
6. Always include when_to_call_professional guidance

` + llm.InjectionGuard

// =============================================================================
// User prompts
// =============================================================================

const noDocumentation = "No documentation available."

func riskUserPrompt(deviceType, symptom, additionalContext string) string {
	return fmt.Sprintf("Device: %s\nSymptom: %s\nAdditional context: %s\n\nAssess the risk level for DIY troubleshooting.",
		llm.Untrusted("user_device_type", deviceType),
		llm.Untrusted("user_reported_symptom", symptom),
		llm.Untrusted("user_additional_context", additionalContext),
	)
}

func followupUserPrompt(s State) string {
	risk := "Unknown"
	if s.RiskLevel != "" {
		risk = string(s.RiskLevel)
	}
	var b strings.Builder
	writeReport(&b, s)
	fmt.Fprintf(&b, "Risk level: %s\n\n", risk)
	fmt.Fprintf(&b, "Device details from house profile:\n%s\n\n", orDefault(s.Profile.SystemDetails(s.DeviceType), "No details available"))
	fmt.Fprintf(&b, "Relevant documentation:\n%s\n\n", formatChunks(s.RetrievedChunks))
	b.WriteString("Generate 2-3 targeted follow-up questions to help diagnose this issue.")
	return b.String()
}

func diagnosisUserPrompt(s State) string {
	var b strings.Builder
	writeReport(&b, s)
	fmt.Fprintf(&b, "Preliminary assessment: %s\n\n", orDefault(s.PreliminaryAssessment, "None"))
	fmt.Fprintf(&b, "Device details:\n%s\n\n", orDefault(s.Profile.SystemDetails(s.DeviceType), "No details available"))
	fmt.Fprintf(&b, "Follow-up Q&A:\n%s\n\n", formatAnswers(s.FollowupQuestions, s.FollowupAnswers))
	fmt.Fprintf(&b, "Relevant documentation:\n%s\n\n", formatChunks(s.RetrievedChunks))
	b.WriteString("Provide a diagnosis with 3-6 actionable steps to resolve this issue. " +
		"Remember: the final step must always recommend calling a professional if unresolved.")
	return b.String()
}

// writeReport writes the homeowner's report lines shared by both prompts.
func writeReport(b *strings.Builder, s State) {
	fmt.Fprintf(b, "Device type: %s\n", llm.Untrusted("user_device_type", s.DeviceType))
	fmt.Fprintf(b, "Reported symptom: %s\n", llm.Untrusted("user_reported_symptom", s.Symptom))
	fmt.Fprintf(b, "Urgency: %s\n", orDefault(s.Urgency, datatypes.DefaultUrgency))
	fmt.Fprintf(b, "Additional context: %s\n",
		llm.Untrusted("user_additional_context", orDefault(s.AdditionalContext, "None provided")))
}

// formatChunks renders chunks as numbered sources separated by rules.
func formatChunks(chunks []datatypes.RetrievedChunk) string {
	if len(chunks) == 0 {
		return noDocumentation
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Source %d: %s (%s)]\n%s", i+1, c.Source, orDefault(c.DeviceType, "general"), c.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// formatAnswers pairs answers with their questions by id, in answer order.
// An answer to an unknown question is labeled "Question <id>".
func formatAnswers(questions []datatypes.FollowupQuestion, answers []datatypes.FollowupAnswer) string {
	if len(answers) == 0 {
		return "No follow-up answers provided."
	}
	byID := make(map[string]string, len(questions))
	for _, q := range questions {
		byID[q.ID] = q.Question
	}
	parts := make([]string, len(answers))
	for i, a := range answers {
		question, ok := byID[a.QuestionID]
		if !ok {
			question = "Question " + a.QuestionID
		}
		parts[i] = fmt.Sprintf("Q: %s\nA: %s", question, llm.Untrusted("user_answer", a.Answer))
	}
	return strings.Join(parts, "\n\n")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
