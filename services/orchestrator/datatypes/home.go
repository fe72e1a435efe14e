// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strconv"
	"strings"
)

// =============================================================================
// Risk
// =============================================================================

// RiskLevel classifies how safe it is for a homeowner to act on advice.
//
//   - LOW: safe for any homeowner to do themselves
//   - MED: requires some caution or basic skills
//   - HIGH: involves gas, electrical, structural, or safety-critical work
type RiskLevel string

const (
	RiskLow  RiskLevel = "LOW"
	RiskMed  RiskLevel = "MED"
	RiskHigh RiskLevel = "HIGH"
)

// Valid reports whether r is one of the three known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMed, RiskHigh:
		return true
	}
	return false
}

// =============================================================================
// Retrieval and citations
// =============================================================================

// RetrievedChunk is one piece of documentation returned by retrieval.
type RetrievedChunk struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	DeviceType string  `json:"device_type,omitempty"`
	Score      float64 `json:"score"`
}

// Citation points at a source document backing an answer.
type Citation struct {
	Source  string `json:"source" description:"The source document name or path"`
	Page    *int   `json:"page,omitempty" description:"Page number if applicable"`
	Section string `json:"section,omitempty" description:"Section name if applicable"`
	Quote   string `json:"quote,omitempty" description:"Relevant quote from the source"`
}

// =============================================================================
// Troubleshooting
// =============================================================================

// QuestionType is the answer format expected for a follow-up question.
type QuestionType string

const (
	QuestionYesNo          QuestionType = "yes_no"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionFreeText       QuestionType = "free_text"
)

// FollowupQuestion is a diagnostic question generated during intake.
type FollowupQuestion struct {
	ID           string       `json:"id" description:"Unique identifier such as q1, q2, q3"`
	Question     string       `json:"question" description:"The question to ask the homeowner"`
	QuestionType QuestionType `json:"question_type" enum:"yes_no,multiple_choice,free_text" description:"Answer format"`
	Options      []string     `json:"options,omitempty" description:"Choices for multiple_choice questions"`
	Why          string       `json:"why" description:"Why this question helps the diagnosis"`
}

// FollowupAnswer is the homeowner's answer to one follow-up question.
type FollowupAnswer struct {
	QuestionID string `json:"question_id" validate:"notblank,max=100"`
	Answer     string `json:"answer" validate:"max=2000"`
}

// DiagnosticStep is one actionable step of a diagnosis.
type DiagnosticStep struct {
	StepNumber           int       `json:"step_number" description:"1-based position of the step"`
	Instruction          string    `json:"instruction" description:"What the homeowner should do"`
	ExpectedOutcome      string    `json:"expected_outcome" description:"What they should observe if this step resolves or isolates the issue"`
	IfNotResolved        string    `json:"if_not_resolved" description:"What to do next if this step does not help"`
	RiskLevel            RiskLevel `json:"risk_level" enum:"LOW,MED,HIGH" description:"Risk of performing this step"`
	SourceDoc            string    `json:"source_doc,omitempty" description:"Document this step is based on"`
	RequiresProfessional bool      `json:"requires_professional" description:"True when only a licensed professional should perform this step"`
}

// =============================================================================
// House profile
// =============================================================================

// ClimateZone is a simplified IECC climate classification.
type ClimateZone string

const (
	ClimateCold     ClimateZone = "cold"
	ClimateMixed    ClimateZone = "mixed"
	ClimateHotHumid ClimateZone = "hot_humid"
	ClimateHotDry   ClimateZone = "hot_dry"
)

// HouseType is the kind of residential building.
type HouseType string

const (
	HouseSingleFamily HouseType = "single_family"
	HouseTownhouse    HouseType = "townhouse"
	HouseCondo        HouseType = "condo"
	HouseDuplex       HouseType = "duplex"
)

// InstalledSystem holds optional details about one installed device.
type InstalledSystem struct {
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	FuelType     string `json:"fuel_type,omitempty"`
	InstallYear  int    `json:"install_year,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// HouseProfile describes the house and its installed systems.
//
// Systems maps device type to optional details; a nil value marks the system
// as present with no details.
type HouseProfile struct {
	Name          string                      `json:"name" validate:"required"`
	YearBuilt     int                         `json:"year_built,omitempty"`
	SquareFootage int                         `json:"square_footage,omitempty"`
	ClimateZone   ClimateZone                 `json:"climate_zone" validate:"required,oneof=cold mixed hot_humid hot_dry"`
	HouseType     HouseType                   `json:"house_type,omitempty" validate:"omitempty,oneof=single_family townhouse condo duplex"`
	Systems       map[string]*InstalledSystem `json:"systems,omitempty"`
}

// HasSystem reports whether deviceType is installed.
func (p *HouseProfile) HasSystem(deviceType string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Systems[deviceType]
	return ok
}

// SystemDetails renders the profile details for deviceType as prompt lines,
// one per populated field. Returns "" when nothing is known.
func (p *HouseProfile) SystemDetails(deviceType string) string {
	if p == nil {
		return ""
	}
	sys := p.Systems[deviceType]
	if sys == nil {
		return ""
	}
	var lines []string
	if sys.Manufacturer != "" {
		lines = append(lines, "Manufacturer: "+sys.Manufacturer)
	}
	if sys.Model != "" {
		lines = append(lines, "Model: "+sys.Model)
	}
	if sys.FuelType != "" {
		lines = append(lines, "Fuel: "+sys.FuelType)
	}
	if sys.InstallYear != 0 {
		lines = append(lines, "Installed: "+strconv.Itoa(sys.InstallYear))
	}
	return strings.Join(lines, "\n")
}
