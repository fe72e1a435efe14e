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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/homeops/pkg/extensions"
	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/orchestrator/observability"
	"github.com/AleutianAI/homeops/services/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("homeops.troubleshooter")

const (
	maxFollowupQuestions = 3
	maxDiagnosticSteps   = 6
)

// followupResponse is the follow-up generation schema.
type followupResponse struct {
	FollowupQuestions     []datatypes.FollowupQuestion `json:"followup_questions" description:"2-3 targeted diagnostic questions"`
	PreliminaryAssessment string                       `json:"preliminary_assessment" description:"Initial assessment of the likely cause based on symptom and docs"`
	RiskLevel             datatypes.RiskLevel          `json:"risk_level" enum:"LOW,MED,HIGH" description:"Risk level for DIY troubleshooting"`
}

// diagnosisResponse is the diagnosis generation schema.
type diagnosisResponse struct {
	DiagnosisSummary       string                     `json:"diagnosis_summary" description:"Summary of the likely cause and how to address it"`
	DiagnosticSteps        []datatypes.DiagnosticStep `json:"diagnostic_steps" description:"3-6 ordered diagnostic steps, simplest first"`
	OverallRiskLevel       datatypes.RiskLevel        `json:"overall_risk_level" enum:"LOW,MED,HIGH" description:"Overall risk of the recommended steps"`
	WhenToCallProfessional string                     `json:"when_to_call_professional" description:"When the homeowner should stop and call a professional"`
}

// Config holds the workflow collaborators.
type Config struct {
	Retriever retrieval.Retriever
	Assessor  *RiskAssessor
	Client    llm.StructuredClient

	// Metrics and Audit are optional.
	Metrics *observability.Metrics
	Audit   extensions.AuditLogger
}

// Workflow runs intake and diagnosis.
//
// # Description
//
// Intake: intake_parse, retrieve_docs, assess_risk, then safety_stop or
// generate_followups. Diagnosis: generate_diagnosis, then render_output.
// Steps run strictly in that order; the safety branch never reaches
// generate_followups.
//
// # Thread Safety
//
// Safe for concurrent use. Each run works on its own State.
type Workflow struct {
	retriever retrieval.Retriever
	assessor  *RiskAssessor
	client    llm.StructuredClient
	metrics   *observability.Metrics
	audit     extensions.AuditLogger
}

// New validates the collaborators and returns a Workflow.
func New(cfg Config) (*Workflow, error) {
	if cfg.Retriever == nil {
		return nil, errors.New("troubleshooter: retriever is required")
	}
	if cfg.Assessor == nil {
		return nil, errors.New("troubleshooter: risk assessor is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("troubleshooter: llm client is required")
	}
	audit := cfg.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &Workflow{
		retriever: cfg.Retriever,
		assessor:  cfg.Assessor,
		client:    cfg.Client,
		metrics:   cfg.Metrics,
		audit:     audit,
	}, nil
}

// =============================================================================
// Entry points
// =============================================================================

// IntakeInput is the homeowner's initial report.
type IntakeInput struct {
	DeviceType        string
	Symptom           string
	Urgency           string
	AdditionalContext string
	Profile           *datatypes.HouseProfile
}

// RunIntake runs the intake workflow.
//
// # Outputs
//
//   - State: phase SAFETY_STOP or FOLLOWUP. A follow-up generation failure
//     is reported in State.Err with no questions.
//   - error: ErrMissingInput, or ErrInvalidPatch if a step misbehaves.
func (w *Workflow) RunIntake(ctx context.Context, in IntakeInput) (State, error) {
	ctx, span := tracer.Start(ctx, "troubleshooter.RunIntake")
	defer span.End()

	s := State{
		DeviceType:        in.DeviceType,
		Symptom:           in.Symptom,
		Urgency:           in.Urgency,
		AdditionalContext: in.AdditionalContext,
		Profile:           in.Profile,
	}
	s, err := w.run(ctx, s, StepIntakeParse, intakeRoute)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s, err
	}

	span.SetAttributes(
		attribute.String("troubleshoot.device_type", s.DeviceType),
		attribute.String("troubleshoot.phase", string(s.Phase)),
		attribute.String("troubleshoot.risk_level", string(s.RiskLevel)),
		attribute.Bool("troubleshoot.safety_stop", s.IsSafetyStop),
	)
	if s.IsSafetyStop {
		w.recordSafetyStop(ctx, s)
	}
	if s.Err != nil {
		span.RecordError(s.Err)
		span.SetStatus(codes.Error, "follow-up generation failed")
	}
	return s, nil
}

// RunDiagnosis runs the diagnosis workflow on a completed intake state.
//
// # Outputs
//
//   - State: phase COMPLETE with Markdown set, or phase DIAGNOSIS with Err
//     set and no steps when generation failed.
//   - error: ErrSafetyStopped when the intake stopped for safety.
func (w *Workflow) RunDiagnosis(ctx context.Context, intake State, answers []datatypes.FollowupAnswer) (State, error) {
	ctx, span := tracer.Start(ctx, "troubleshooter.RunDiagnosis")
	defer span.End()

	if intake.IsSafetyStop || intake.Phase == PhaseSafetyStop {
		span.SetStatus(codes.Error, ErrSafetyStopped.Error())
		return intake, ErrSafetyStopped
	}

	s := intake
	s.FollowupAnswers = append([]datatypes.FollowupAnswer(nil), answers...)
	s.Err = nil

	s, err := w.run(ctx, s, StepGenerateDiagnosis, diagnosisRoute)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s, err
	}
	span.SetAttributes(
		attribute.Int("troubleshoot.steps", len(s.DiagnosticSteps)),
		attribute.String("troubleshoot.overall_risk_level", string(s.OverallRiskLevel)),
	)
	if s.Err != nil {
		span.RecordError(s.Err)
		span.SetStatus(codes.Error, "diagnosis generation failed")
	}
	return s, nil
}

// =============================================================================
// Driver
// =============================================================================

type transition func(ctx context.Context, s State) (Patch, error)

type router func(from Step, s State) Step

func intakeRoute(from Step, s State) Step {
	switch from {
	case StepIntakeParse:
		return StepRetrieveDocs
	case StepRetrieveDocs:
		return StepAssessRisk
	case StepAssessRisk:
		if s.IsSafetyStop {
			return StepSafetyStop
		}
		return StepGenerateFollowups
	}
	return stepEnd
}

func diagnosisRoute(from Step, s State) Step {
	if from == StepGenerateDiagnosis && s.Err == nil {
		return StepRenderOutput
	}
	return stepEnd
}

func (w *Workflow) transition(step Step) transition {
	switch step {
	case StepIntakeParse:
		return w.intakeParse
	case StepRetrieveDocs:
		return w.retrieveDocs
	case StepAssessRisk:
		return w.assessRisk
	case StepSafetyStop:
		return safetyStop
	case StepGenerateFollowups:
		return w.generateFollowups
	case StepGenerateDiagnosis:
		return w.generateDiagnosis
	case StepRenderOutput:
		return renderOutput
	}
	return nil
}

// run executes steps from entry until route returns stepEnd.
func (w *Workflow) run(ctx context.Context, s State, entry Step, route router) (State, error) {
	for step := entry; step != stepEnd; step = route(step, s) {
		fn := w.transition(step)
		if fn == nil {
			return s, fmt.Errorf("%w: no transition for step %q", ErrInvalidPatch, step)
		}

		stepCtx, span := tracer.Start(ctx, "troubleshooter."+string(step))
		patch, err := fn(stepCtx, s)
		if err == nil {
			s, err = s.Apply(step, patch)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return s, err
		}
		span.End()
	}
	return s, nil
}

// =============================================================================
// Transitions
// =============================================================================

func (w *Workflow) intakeParse(_ context.Context, s State) (Patch, error) {
	if strings.TrimSpace(s.Symptom) == "" || strings.TrimSpace(s.DeviceType) == "" {
		return Patch{}, ErrMissingInput
	}
	deviceType := NormalizeDeviceType(s.DeviceType)
	if s.Profile != nil && !s.Profile.HasSystem(deviceType) {
		slog.Info("device not in house profile, proceeding", "device_type", deviceType)
	}
	return Patch{DeviceType: ptr(deviceType), Phase: ptr(PhaseIntake)}, nil
}

func (w *Workflow) retrieveDocs(ctx context.Context, s State) (Patch, error) {
	nodes, err := w.retriever.Retrieve(ctx, s.Symptom, []string{s.DeviceType})
	if err != nil {
		slog.Error("troubleshoot retrieval failed, continuing without documentation", "error", err)
		return Patch{
			RetrievedChunks: ptr([]datatypes.RetrievedChunk{}),
			RetrievalError:  ptr(err.Error()),
		}, nil
	}
	chunks := make([]datatypes.RetrievedChunk, len(nodes))
	for i, n := range nodes {
		chunks[i] = n.Chunk()
	}
	return Patch{RetrievedChunks: &chunks}, nil
}

func (w *Workflow) assessRisk(ctx context.Context, s State) (Patch, error) {
	a := w.assessor.Assess(ctx, s.Symptom, s.DeviceType, s.AdditionalContext)
	return Patch{RiskLevel: ptr(a.RiskLevel), Safety: ptr(a.decision())}, nil
}

func safetyStop(_ context.Context, s State) (Patch, error) {
	slog.Warn("safety stop", "device_type", s.DeviceType,
		"professional", s.RecommendedProfessional, "layer", s.SafetyLayer)
	return Patch{
		Phase:             ptr(PhaseSafetyStop),
		FollowupQuestions: ptr([]datatypes.FollowupQuestion{}),
		DiagnosticSteps:   ptr([]datatypes.DiagnosticStep{}),
	}, nil
}

func (w *Workflow) generateFollowups(ctx context.Context, s State) (Patch, error) {
	var resp followupResponse
	err := w.client.CompleteStructured(ctx, llm.StructuredRequest{
		Operation:    "followups",
		SystemPrompt: followupSystemPrompt,
		UserPrompt:   followupUserPrompt(s),
		SchemaName:   "followup_generation",
		Temperature:  0.3,
		MaxTokens:    2000,
	}, &resp)
	if err != nil {
		slog.Error("follow-up generation failed", "error", err)
		return Patch{
			FollowupQuestions: ptr([]datatypes.FollowupQuestion{}),
			Phase:             ptr(PhaseFollowup),
			Err:               fmt.Errorf("follow-up generation: %w", err),
		}, nil
	}

	questions := normalizeQuestions(resp.FollowupQuestions)
	slog.Info("generated follow-up questions", "count", len(questions))
	return Patch{
		FollowupQuestions:     &questions,
		PreliminaryAssessment: ptr(resp.PreliminaryAssessment),
		RiskLevel:             ptr(raiseRisk(s.RiskLevel, resp.RiskLevel)),
		Phase:                 ptr(PhaseFollowup),
	}, nil
}

func (w *Workflow) generateDiagnosis(ctx context.Context, s State) (Patch, error) {
	var resp diagnosisResponse
	err := w.client.CompleteStructured(ctx, llm.StructuredRequest{
		Operation:    "diagnosis",
		SystemPrompt: diagnosisSystemPrompt,
		UserPrompt:   diagnosisUserPrompt(s),
		SchemaName:   "diagnosis",
		Temperature:  0.3,
		MaxTokens:    4000,
	}, &resp)
	if err != nil {
		slog.Error("diagnosis generation failed", "error", err)
		return Patch{
			DiagnosticSteps: ptr([]datatypes.DiagnosticStep{}),
			Phase:           ptr(PhaseDiagnosis),
			Err:             fmt.Errorf("diagnosis generation: %w", err),
		}, nil
	}

	steps := normalizeSteps(resp.DiagnosticSteps)
	overall := resp.OverallRiskLevel
	if !overall.Valid() {
		overall = s.RiskLevel
	}
	slog.Info("generated diagnosis", "steps", len(steps), "risk", overall)
	return Patch{
		Diagnosis: &DiagnosisResult{
			Summary:                resp.DiagnosisSummary,
			OverallRiskLevel:       overall,
			WhenToCallProfessional: resp.WhenToCallProfessional,
		},
		DiagnosticSteps: &steps,
		Phase:           ptr(PhaseDiagnosis),
	}, nil
}

func renderOutput(_ context.Context, s State) (Patch, error) {
	md := RenderMarkdown(s)
	return Patch{Markdown: &md, Phase: ptr(PhaseComplete)}, nil
}

// =============================================================================
// Helpers
// =============================================================================

// normalizeQuestions keeps at most maxFollowupQuestions questions and fills
// missing ids with q1, q2, ...
func normalizeQuestions(in []datatypes.FollowupQuestion) []datatypes.FollowupQuestion {
	if len(in) > maxFollowupQuestions {
		in = in[:maxFollowupQuestions]
	}
	out := make([]datatypes.FollowupQuestion, len(in))
	for i, q := range in {
		if strings.TrimSpace(q.ID) == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		out[i] = q
	}
	return out
}

// normalizeSteps keeps at most maxDiagnosticSteps steps and numbers
// unnumbered ones by position. Step text and risk are untouched.
func normalizeSteps(in []datatypes.DiagnosticStep) []datatypes.DiagnosticStep {
	if len(in) > maxDiagnosticSteps {
		in = in[:maxDiagnosticSteps]
	}
	out := make([]datatypes.DiagnosticStep, len(in))
	for i, step := range in {
		if step.StepNumber <= 0 {
			step.StepNumber = i + 1
		}
		out[i] = step
	}
	return out
}

var riskRank = map[datatypes.RiskLevel]int{
	datatypes.RiskLow:  1,
	datatypes.RiskMed:  2,
	datatypes.RiskHigh: 3,
}

// raiseRisk returns the higher of current and proposed. An invalid proposal
// keeps current.
func raiseRisk(current, proposed datatypes.RiskLevel) datatypes.RiskLevel {
	if !proposed.Valid() {
		return current
	}
	if riskRank[proposed] > riskRank[current] {
		return proposed
	}
	return current
}

func (w *Workflow) recordSafetyStop(ctx context.Context, s State) {
	w.metrics.RecordSafetyStop(s.SafetyLayer, s.SafetyPattern)
	err := w.audit.Log(ctx, extensions.AuditEvent{
		EventType:    extensions.EventSafetyStop,
		Action:       "intake",
		ResourceType: "troubleshoot",
		ResourceID:   s.DeviceType,
		Outcome:      "blocked",
		Metadata: map[string]any{
			"layer":        s.SafetyLayer,
			"pattern":      s.SafetyPattern,
			"professional": s.RecommendedProfessional,
		},
	})
	if err != nil {
		slog.Warn("audit log failed", "error", err)
	}
}
