// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/homeops/pkg/extensions"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/profile"
	"github.com/AleutianAI/homeops/services/troubleshooter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var troubleshootTracer = otel.Tracer("homeops.orchestrator.services.troubleshoot")

// ErrWorkflowFailed wraps a follow-up or diagnosis generation failure. The
// wrapped cause is for logs only and never reaches the client.
var ErrWorkflowFailed = errors.New("troubleshooting workflow failed")

// TroubleshootService runs guided troubleshooting sessions.
//
// # Description
//
// Start loads the house profile, runs intake and stores the resulting state
// under a new session id. A safety-stopped intake keeps no state; only its id
// is marked so a later diagnose call is refused with ErrSafetyStopped rather
// than looking like an unknown session. Diagnose consumes the session on
// success.
//
// # Thread Safety
//
// Safe for concurrent use. Two concurrent diagnose calls for one session may
// both run the workflow, but only one consumes the session and gets a
// response; the other gets ErrSessionNotFound.
type TroubleshootService struct {
	workflow *troubleshooter.Workflow
	sessions *troubleshooter.SessionStore
	profiles profile.Loader
	audit    extensions.AuditLogger
}

// NewTroubleshootService validates the collaborators. audit may be nil.
func NewTroubleshootService(
	workflow *troubleshooter.Workflow,
	sessions *troubleshooter.SessionStore,
	profiles profile.Loader,
	audit extensions.AuditLogger,
) (*TroubleshootService, error) {
	if workflow == nil || sessions == nil || profiles == nil {
		return nil, errors.New("troubleshoot service: workflow, sessions and profiles are required")
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &TroubleshootService{
		workflow: workflow,
		sessions: sessions,
		profiles: profiles,
		audit:    audit,
	}, nil
}

// Start runs intake for a validated request.
//
// # Outputs
//
//   - *datatypes.TroubleshootStartResponse: follow-up questions, or the
//     safety message when intake stopped for safety.
//   - error: wraps profile.ErrProfileNotFound, troubleshooter.ErrMissingInput
//     or ErrWorkflowFailed. No session is stored on error.
func (s *TroubleshootService) Start(ctx context.Context, req *datatypes.TroubleshootStartRequest) (*datatypes.TroubleshootStartResponse, error) {
	ctx, span := troubleshootTracer.Start(ctx, "TroubleshootService.Start")
	defer span.End()

	req.EnsureDefaults()
	houseProfile, err := s.profiles.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile load failed")
		return nil, fmt.Errorf("load house profile: %w", err)
	}

	state, err := s.workflow.RunIntake(ctx, troubleshooter.IntakeInput{
		DeviceType:        req.DeviceType,
		Symptom:           req.Symptom,
		Urgency:           req.Urgency,
		AdditionalContext: req.AdditionalContext,
		Profile:           houseProfile,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "intake failed")
		if errors.Is(err, troubleshooter.ErrMissingInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkflowFailed, err)
	}
	if state.Err != nil {
		span.SetStatus(codes.Error, "follow-up generation failed")
		return nil, fmt.Errorf("%w: %v", ErrWorkflowFailed, state.Err)
	}

	id := troubleshooter.NewSessionID()
	if state.IsSafetyStop {
		s.sessions.MarkStopped(id)
	} else {
		s.sessions.Put(id, state)
	}
	span.SetAttributes(
		attribute.String("session.id", id),
		attribute.Bool("troubleshoot.safety_stop", state.IsSafetyStop),
	)
	slog.Info("troubleshooting session started", "session_id", id,
		"device_type", state.DeviceType, "phase", state.Phase, "risk", state.RiskLevel)

	questions := state.FollowupQuestions
	if questions == nil {
		questions = []datatypes.FollowupQuestion{}
	}
	return &datatypes.TroubleshootStartResponse{
		SessionID:               id,
		Phase:                   string(state.Phase),
		RiskLevel:               state.RiskLevel,
		FollowupQuestions:       questions,
		PreliminaryAssessment:   state.PreliminaryAssessment,
		IsSafetyStop:            state.IsSafetyStop,
		SafetyMessage:           state.SafetyMessage,
		RecommendedProfessional: state.RecommendedProfessional,
	}, nil
}

// Diagnose runs diagnosis for a stored session and consumes it.
//
// # Outputs
//
//   - *datatypes.TroubleshootDiagnoseResponse: the diagnosis with rendered
//     markdown and the sources its steps cite.
//   - error: troubleshooter.ErrSessionNotFound for unknown, expired or
//     already consumed sessions; troubleshooter.ErrSafetyStopped for a
//     safety-stopped session, which is forgotten; ErrWorkflowFailed when
//     generation failed, in which case the session is kept for a retry.
func (s *TroubleshootService) Diagnose(ctx context.Context, req *datatypes.TroubleshootDiagnoseRequest) (*datatypes.TroubleshootDiagnoseResponse, error) {
	ctx, span := troubleshootTracer.Start(ctx, "TroubleshootService.Diagnose")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	intake, ok := s.sessions.Get(req.SessionID)
	if !ok {
		if s.sessions.TakeStopped(req.SessionID) {
			span.SetStatus(codes.Error, "safety stopped")
			return nil, troubleshooter.ErrSafetyStopped
		}
		span.SetStatus(codes.Error, "session not found")
		return nil, troubleshooter.ErrSessionNotFound
	}
	if intake.IsSafetyStop {
		s.sessions.Delete(req.SessionID)
		span.SetStatus(codes.Error, "safety stopped")
		return nil, troubleshooter.ErrSafetyStopped
	}

	state, err := s.workflow.RunDiagnosis(ctx, intake, req.Answers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "diagnosis failed")
		if errors.Is(err, troubleshooter.ErrSafetyStopped) {
			s.sessions.Delete(req.SessionID)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkflowFailed, err)
	}
	if state.Err != nil {
		span.SetStatus(codes.Error, "diagnosis generation failed")
		return nil, fmt.Errorf("%w: %v", ErrWorkflowFailed, state.Err)
	}

	if _, ok := s.sessions.Take(req.SessionID); !ok {
		span.SetStatus(codes.Error, "session consumed concurrently")
		return nil, troubleshooter.ErrSessionNotFound
	}

	s.logCompleted(ctx, req.SessionID, state)
	sources := state.SourceDocs()
	if sources == nil {
		sources = []string{}
	}
	steps := state.DiagnosticSteps
	if steps == nil {
		steps = []datatypes.DiagnosticStep{}
	}
	return &datatypes.TroubleshootDiagnoseResponse{
		SessionID:              req.SessionID,
		DiagnosisSummary:       state.DiagnosisSummary,
		DiagnosticSteps:        steps,
		OverallRiskLevel:       state.OverallRiskLevel,
		WhenToCallProfessional: state.WhenToCallProfessional,
		Markdown:               state.Markdown,
		SourcesUsed:            sources,
	}, nil
}

func (s *TroubleshootService) logCompleted(ctx context.Context, id string, state troubleshooter.State) {
	slog.Info("troubleshooting session completed", "session_id", id,
		"steps", len(state.DiagnosticSteps), "risk", state.OverallRiskLevel)
	err := s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    extensions.EventSessionCompleted,
		Action:       "diagnose",
		ResourceType: "session",
		ResourceID:   id,
		Outcome:      "success",
		Metadata: map[string]any{
			"device_type": state.DeviceType,
			"risk_level":  string(state.OverallRiskLevel),
			"steps":       len(state.DiagnosticSteps),
		},
	})
	if err != nil {
		slog.Warn("audit log failed", "error", err)
	}
}
