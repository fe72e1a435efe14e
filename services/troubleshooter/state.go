// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package troubleshooter runs the two-phase guided diagnosis.
//
// # Description
//
// Intake normalizes the report, retrieves documentation, assesses risk and
// either stops for safety or asks follow-up questions. Diagnosis combines the
// intake state with the homeowner's answers into ordered diagnostic steps and
// renders them as markdown. The intake state is held in a SessionStore
// between the two HTTP calls.
//
// Each workflow is an ordered set of Steps. A step reads the State and
// returns a Patch; the driver applies it with State.Apply, which rejects
// fields the step does not own and enforces the safety-stop invariant.
package troubleshooter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

var (
	// ErrMissingInput is returned when the symptom or device type is blank.
	ErrMissingInput = errors.New("missing symptom or device_type")

	// ErrSessionNotFound covers unknown, expired, evicted and consumed
	// sessions alike.
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrSafetyStopped is returned when diagnosis is requested for a session
	// whose intake ended in a safety stop.
	ErrSafetyStopped = errors.New("session ended in a safety stop")

	// ErrInvalidPatch is returned when a step produces a patch it is not
	// allowed to apply.
	ErrInvalidPatch = errors.New("invalid state patch")
)

// =============================================================================
// Phase and Step
// =============================================================================

// Phase is where a troubleshooting session stands.
type Phase string

const (
	PhaseIntake     Phase = "INTAKE"
	PhaseFollowup   Phase = "FOLLOWUP"
	PhaseSafetyStop Phase = "SAFETY_STOP"
	PhaseDiagnosis  Phase = "DIAGNOSIS"
	PhaseComplete   Phase = "COMPLETE"
)

// Step names one workflow transition.
type Step string

const (
	StepIntakeParse       Step = "intake_parse"
	StepRetrieveDocs      Step = "retrieve_docs"
	StepAssessRisk        Step = "assess_risk"
	StepSafetyStop        Step = "safety_stop"
	StepGenerateFollowups Step = "generate_followups"
	StepGenerateDiagnosis Step = "generate_diagnosis"
	StepRenderOutput      Step = "render_output"

	stepEnd Step = ""
)

// =============================================================================
// State
// =============================================================================

// State is the full troubleshooting record for one session.
//
// Invariant: IsSafetyStop implies FollowupQuestions and DiagnosticSteps are
// empty. Apply refuses any patch that would break it.
type State struct {
	DeviceType        string
	Symptom           string
	Urgency           string
	AdditionalContext string
	Profile           *datatypes.HouseProfile

	RetrievedChunks []datatypes.RetrievedChunk
	// RetrievalError is recorded when retrieval fails. Intake continues
	// with no chunks.
	RetrievalError string

	RiskLevel               datatypes.RiskLevel
	IsSafetyStop            bool
	SafetyMessage           string
	RecommendedProfessional string
	// SafetyLayer is 1 for a keyword stop, 2 for an LLM stop, 0 otherwise.
	SafetyLayer int
	// SafetyPattern is the catalogue pattern behind a layer-1 stop.
	SafetyPattern string

	PreliminaryAssessment string
	FollowupQuestions     []datatypes.FollowupQuestion
	FollowupAnswers       []datatypes.FollowupAnswer

	DiagnosisSummary       string
	DiagnosticSteps        []datatypes.DiagnosticStep
	OverallRiskLevel       datatypes.RiskLevel
	WhenToCallProfessional string
	Markdown               string

	Phase Phase
	// Err is a generation failure. The matching result list is empty.
	Err error
}

// validate checks the cross-field invariants.
func (s *State) validate() error {
	if s.IsSafetyStop && (len(s.FollowupQuestions) > 0 || len(s.DiagnosticSteps) > 0) {
		return fmt.Errorf("%w: safety stop with %d questions and %d steps",
			ErrInvalidPatch, len(s.FollowupQuestions), len(s.DiagnosticSteps))
	}
	if s.RiskLevel != "" && !s.RiskLevel.Valid() {
		return fmt.Errorf("%w: risk level %q", ErrInvalidPatch, s.RiskLevel)
	}
	return nil
}

// SourceDocs returns the distinct non-empty step sources, sorted.
func (s *State) SourceDocs() []string {
	seen := make(map[string]struct{}, len(s.DiagnosticSteps))
	var out []string
	for _, step := range s.DiagnosticSteps {
		if step.SourceDoc == "" {
			continue
		}
		if _, ok := seen[step.SourceDoc]; ok {
			continue
		}
		seen[step.SourceDoc] = struct{}{}
		out = append(out, step.SourceDoc)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Patch
// =============================================================================

// field is a bit set of State fields a patch touches.
type field uint32

const (
	fieldDeviceType field = 1 << iota
	fieldRetrievedChunks
	fieldRetrievalError
	fieldRisk
	fieldSafety
	fieldPreliminary
	fieldFollowupQuestions
	fieldDiagnosis
	fieldDiagnosticSteps
	fieldMarkdown
	fieldPhase
	fieldErr
)

// owned lists the fields each step may write.
var owned = map[Step]field{
	StepIntakeParse:       fieldDeviceType | fieldPhase,
	StepRetrieveDocs:      fieldRetrievedChunks | fieldRetrievalError,
	StepAssessRisk:        fieldRisk | fieldSafety,
	StepSafetyStop:        fieldPhase | fieldFollowupQuestions | fieldDiagnosticSteps,
	StepGenerateFollowups: fieldFollowupQuestions | fieldPreliminary | fieldRisk | fieldPhase | fieldErr,
	StepGenerateDiagnosis: fieldDiagnosis | fieldDiagnosticSteps | fieldPhase | fieldErr,
	StepRenderOutput:      fieldMarkdown | fieldPhase,
}

// Patch is a partial update produced by one step. Nil fields are untouched.
type Patch struct {
	DeviceType *string

	RetrievedChunks *[]datatypes.RetrievedChunk
	RetrievalError  *string

	RiskLevel *datatypes.RiskLevel
	Safety    *SafetyDecision

	PreliminaryAssessment *string
	FollowupQuestions     *[]datatypes.FollowupQuestion

	Diagnosis       *DiagnosisResult
	DiagnosticSteps *[]datatypes.DiagnosticStep

	Markdown *string
	Phase    *Phase
	Err      error
}

// SafetyDecision is the safety part of a risk assessment.
type SafetyDecision struct {
	IsSafetyStop            bool
	SafetyMessage           string
	RecommendedProfessional string
	Layer                   int
	Pattern                 string
}

// DiagnosisResult carries the diagnosis fields other than the steps.
type DiagnosisResult struct {
	Summary                string
	OverallRiskLevel       datatypes.RiskLevel
	WhenToCallProfessional string
}

func (p Patch) fields() field {
	var f field
	if p.DeviceType != nil {
		f |= fieldDeviceType
	}
	if p.RetrievedChunks != nil {
		f |= fieldRetrievedChunks
	}
	if p.RetrievalError != nil {
		f |= fieldRetrievalError
	}
	if p.RiskLevel != nil {
		f |= fieldRisk
	}
	if p.Safety != nil {
		f |= fieldSafety
	}
	if p.PreliminaryAssessment != nil {
		f |= fieldPreliminary
	}
	if p.FollowupQuestions != nil {
		f |= fieldFollowupQuestions
	}
	if p.Diagnosis != nil {
		f |= fieldDiagnosis
	}
	if p.DiagnosticSteps != nil {
		f |= fieldDiagnosticSteps
	}
	if p.Markdown != nil {
		f |= fieldMarkdown
	}
	if p.Phase != nil {
		f |= fieldPhase
	}
	if p.Err != nil {
		f |= fieldErr
	}
	return f
}

// Apply returns a copy of s with p applied on behalf of step.
//
// # Outputs
//
//   - ErrInvalidPatch (wrapped) when p touches a field step does not own,
//     when p would clear an existing safety stop or lower its risk, or when
//     the result breaks the safety-stop invariant. s is never modified.
func (s State) Apply(step Step, p Patch) (State, error) {
	allowed, ok := owned[step]
	if !ok {
		return s, fmt.Errorf("%w: unknown step %q", ErrInvalidPatch, step)
	}
	if extra := p.fields() &^ allowed; extra != 0 {
		return s, fmt.Errorf("%w: step %s wrote fields %#x it does not own", ErrInvalidPatch, step, uint32(extra))
	}

	if s.IsSafetyStop {
		if p.Safety != nil && !p.Safety.IsSafetyStop {
			return s, fmt.Errorf("%w: step %s cleared a safety stop", ErrInvalidPatch, step)
		}
		if p.RiskLevel != nil && *p.RiskLevel != datatypes.RiskHigh {
			return s, fmt.Errorf("%w: step %s lowered risk after a safety stop", ErrInvalidPatch, step)
		}
	}

	next := s
	if p.DeviceType != nil {
		next.DeviceType = *p.DeviceType
	}
	if p.RetrievedChunks != nil {
		next.RetrievedChunks = *p.RetrievedChunks
	}
	if p.RetrievalError != nil {
		next.RetrievalError = *p.RetrievalError
	}
	if p.RiskLevel != nil {
		next.RiskLevel = *p.RiskLevel
	}
	if p.Safety != nil {
		next.IsSafetyStop = p.Safety.IsSafetyStop
		next.SafetyMessage = p.Safety.SafetyMessage
		next.RecommendedProfessional = p.Safety.RecommendedProfessional
		next.SafetyLayer = p.Safety.Layer
		next.SafetyPattern = p.Safety.Pattern
	}
	if p.PreliminaryAssessment != nil {
		next.PreliminaryAssessment = *p.PreliminaryAssessment
	}
	if p.FollowupQuestions != nil {
		next.FollowupQuestions = *p.FollowupQuestions
	}
	if p.Diagnosis != nil {
		next.DiagnosisSummary = p.Diagnosis.Summary
		next.OverallRiskLevel = p.Diagnosis.OverallRiskLevel
		next.WhenToCallProfessional = p.Diagnosis.WhenToCallProfessional
	}
	if p.DiagnosticSteps != nil {
		next.DiagnosticSteps = *p.DiagnosticSteps
	}
	if p.Markdown != nil {
		next.Markdown = *p.Markdown
	}
	if p.Phase != nil {
		next.Phase = *p.Phase
	}
	if p.Err != nil {
		next.Err = p.Err
	}

	if err := next.validate(); err != nil {
		return s, fmt.Errorf("step %s: %w", step, err)
	}
	return next, nil
}

func ptr[T any](v T) *T { return &v }

// NormalizeDeviceType lowercases, trims and replaces spaces with
// underscores: "Water Heater " becomes "water_heater".
func NormalizeDeviceType(deviceType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(deviceType)), " ", "_")
}
