// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders homeops results in the terminal.
//
// Every renderer writes to an io.Writer and respects the current Level:
// machine output is stable "KEY: value" text meant for scripts.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// Palette
var (
	ColorAccent  = lipgloss.Color("#20B9B4")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorMuted   = lipgloss.Color("#5C7A84")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorDanger  = lipgloss.Color("#E74C3C")
	ColorInk     = lipgloss.Color("#0F1923")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box       lipgloss.Style
	DangerBox lipgloss.Style

	BadgeLow  lipgloss.Style
	BadgeMed  lipgloss.Style
	BadgeHigh lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorDanger),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	DangerBox: lipgloss.NewStyle().
		Border(lipgloss.ThickBorder()).
		BorderForeground(ColorDanger).
		Padding(0, 1),

	BadgeLow:  lipgloss.NewStyle().Bold(true).Foreground(ColorInk).Background(ColorSuccess).Padding(0, 1),
	BadgeMed:  lipgloss.NewStyle().Bold(true).Foreground(ColorInk).Background(ColorWarning).Padding(0, 1),
	BadgeHigh: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(ColorDanger).Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with its style.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

const boxWidth = 72

// =============================================================================
// Primitives
// =============================================================================

// Title prints a heading. Machine output omits it.
func Title(w io.Writer, text string) {
	if GetLevel() == LevelMachine {
		return
	}
	fmt.Fprintln(w, Styles.Title.Render(text))
}

// Success prints a confirmation line.
func Success(w io.Writer, text string) {
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(w, "%s %s\n", IconSuccess.Render(), text)
}

// Warning prints a warning line.
func Warning(w io.Writer, text string) {
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error line.
func Error(w io.Writer, text string) {
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Box prints content in a rounded box, or as "TITLE: content" for machines.
func Box(w io.Writer, title, content string) {
	switch GetLevel() {
	case LevelMachine:
		fmt.Fprintf(w, "%s: %s\n", strings.ToUpper(title), content)
	case LevelMinimal:
		fmt.Fprintf(w, "%s\n%s\n", Styles.Bold.Render(title), content)
	default:
		fmt.Fprintln(w, Styles.Box.Width(boxWidth).Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// RiskBadge renders a risk level. Unknown levels render as MED.
func RiskBadge(level datatypes.RiskLevel) string {
	if !level.Valid() {
		level = datatypes.RiskMed
	}
	if GetLevel() == LevelMachine {
		return string(level)
	}
	switch level {
	case datatypes.RiskLow:
		return Styles.BadgeLow.Render(string(level))
	case datatypes.RiskHigh:
		return Styles.BadgeHigh.Render(string(level))
	default:
		return Styles.BadgeMed.Render(string(level))
	}
}

// =============================================================================
// Result renderers
// =============================================================================

// SafetyAlert prints a safety stop. It is never suppressed, even in
// machine mode.
func SafetyAlert(w io.Writer, message, professional string) {
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "SAFETY_STOP: %s\nPROFESSIONAL: %s\n", message, professional)
		return
	}
	body := message
	if professional != "" {
		body += "\n\n" + Styles.Bold.Render("Contact: ") + professional
	}
	title := Styles.Error.Bold(true).Render(string(IconWarning) + " SAFETY STOP")
	fmt.Fprintln(w, Styles.DangerBox.Width(boxWidth).Render(title+"\n"+body))
}

// Answer prints an /ask response with its risk and citations.
func Answer(w io.Writer, resp *datatypes.AskResponse) {
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "RISK: %s\nANSWER: %s\n", RiskBadge(resp.RiskLevel), resp.Answer)
		for _, c := range resp.Citations {
			fmt.Fprintf(w, "CITATION: %s\n", c.Source)
		}
		return
	}
	fmt.Fprintf(w, "%s %s\n\n", Styles.Bold.Render("Risk"), RiskBadge(resp.RiskLevel))
	fmt.Fprintln(w, resp.Answer)
	Citations(w, resp.Citations)
}

// Citations prints a source list. Nothing is printed for an empty list.
func Citations(w io.Writer, citations []datatypes.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", Styles.Title.Render("Sources"))
	for _, c := range citations {
		line := c.Source
		if c.Page != nil {
			line += fmt.Sprintf(" (p. %d)", *c.Page)
		}
		if c.Section != "" {
			line += " / " + c.Section
		}
		fmt.Fprintf(w, "  %s %s\n", IconBullet, line)
		if c.Quote != "" && GetLevel() == LevelStandard {
			fmt.Fprintf(w, "    %s\n", Styles.Muted.Render("\""+c.Quote+"\""))
		}
	}
}

// Intake prints the result of /troubleshoot/start other than the
// follow-up questions, which the caller collects.
func Intake(w io.Writer, resp *datatypes.TroubleshootStartResponse) {
	if resp.IsSafetyStop {
		SafetyAlert(w, resp.SafetyMessage, resp.RecommendedProfessional)
		return
	}
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "SESSION: %s\nRISK: %s\n", resp.SessionID, RiskBadge(resp.RiskLevel))
		if resp.PreliminaryAssessment != "" {
			fmt.Fprintf(w, "ASSESSMENT: %s\n", resp.PreliminaryAssessment)
		}
		return
	}
	fmt.Fprintf(w, "%s %s  %s\n", Styles.Bold.Render("Risk"), RiskBadge(resp.RiskLevel),
		Styles.Muted.Render("session "+resp.SessionID))
	if resp.PreliminaryAssessment != "" {
		fmt.Fprintf(w, "\n%s\n", resp.PreliminaryAssessment)
	}
}

// Diagnosis prints the diagnosis steps with per-step risk.
func Diagnosis(w io.Writer, resp *datatypes.TroubleshootDiagnoseResponse) {
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "RISK: %s\nSUMMARY: %s\n", RiskBadge(resp.OverallRiskLevel), resp.DiagnosisSummary)
		for _, step := range resp.DiagnosticSteps {
			fmt.Fprintf(w, "STEP %d [%s]: %s\n", step.StepNumber, RiskBadge(step.RiskLevel), step.Instruction)
		}
		if resp.WhenToCallProfessional != "" {
			fmt.Fprintf(w, "CALL_PRO: %s\n", resp.WhenToCallProfessional)
		}
		return
	}

	Box(w, "Diagnosis", resp.DiagnosisSummary)
	fmt.Fprintf(w, "%s %s\n\n", Styles.Bold.Render("Overall risk"), RiskBadge(resp.OverallRiskLevel))
	for _, step := range resp.DiagnosticSteps {
		fmt.Fprintf(w, "%s %s %s\n", Styles.Bold.Render(fmt.Sprintf("%d.", step.StepNumber)),
			RiskBadge(step.RiskLevel), step.Instruction)
		if step.RequiresProfessional {
			fmt.Fprintf(w, "   %s\n", Styles.Warning.Render(string(IconWarning)+" professional required"))
		}
		if step.ExpectedOutcome != "" {
			fmt.Fprintf(w, "   %s %s\n", Styles.Muted.Render("expect"), step.ExpectedOutcome)
		}
		if step.IfNotResolved != "" {
			fmt.Fprintf(w, "   %s %s\n", Styles.Muted.Render(string(IconArrow)), step.IfNotResolved)
		}
	}
	if resp.WhenToCallProfessional != "" {
		fmt.Fprintln(w)
		Warning(w, "Call a professional: "+resp.WhenToCallProfessional)
	}
	if len(resp.SourcesUsed) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", Styles.Muted.Render("Sources:"), strings.Join(resp.SourcesUsed, ", "))
	}
}

// Parts prints a parts lookup: the summary, one line per part and any
// clarification questions.
func Parts(w io.Writer, resp *datatypes.PartsLookupResponse) {
	if GetLevel() == LevelMachine {
		fmt.Fprintf(w, "SUMMARY: %s\n", resp.Summary)
		for _, p := range resp.Parts {
			line := p.PartName
			if p.PartNumber != "" {
				line += " (" + p.PartNumber + ")"
			}
			fmt.Fprintf(w, "PART [%s]: %s\n", p.Confidence, line)
		}
		for _, q := range resp.ClarificationQuestions {
			fmt.Fprintf(w, "QUESTION %s: %s\n", q.ID, q.Question)
		}
		for _, src := range resp.SourcesUsed {
			fmt.Fprintf(w, "SOURCE: %s\n", src)
		}
		return
	}

	if resp.Summary != "" {
		Box(w, "Parts & Consumables", resp.Summary)
	}
	if len(resp.Parts) == 0 {
		fmt.Fprintln(w, Styles.Muted.Render("No parts identified from available documentation."))
	}
	for _, p := range resp.Parts {
		fmt.Fprintf(w, "%s %s %s\n", IconBullet, Styles.Bold.Render(p.PartName),
			Styles.Muted.Render("["+string(p.Confidence)+"]"))
		if p.PartNumber != "" {
			fmt.Fprintf(w, "   %s %s\n", Styles.Muted.Render("part"), p.PartNumber)
		}
		if p.ReplacementInterval != "" {
			fmt.Fprintf(w, "   %s %s\n", Styles.Muted.Render("replace"), p.ReplacementInterval)
		}
		if p.Notes != "" {
			fmt.Fprintf(w, "   %s\n", Styles.Warning.Render(string(IconWarning)+" "+p.Notes))
		}
	}
	if len(resp.ClarificationQuestions) > 0 {
		fmt.Fprintf(w, "\n%s\n", Styles.Title.Render("Missing information"))
		for _, q := range resp.ClarificationQuestions {
			fmt.Fprintf(w, "  %s %s\n", IconArrow, q.Question)
		}
	}
	if len(resp.SourcesUsed) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", Styles.Muted.Render("Sources:"), strings.Join(resp.SourcesUsed, ", "))
	}
}
