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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homeops/pkg/extensions"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/profile"
	"github.com/AleutianAI/homeops/services/safety"
	"github.com/AleutianAI/homeops/services/troubleshooter"
)

type troubleshootFixture struct {
	client   *fakeLLM
	sessions *troubleshooter.SessionStore
	profiles *fakeProfiles
	audit    *extensions.MemoryAuditLogger
	svc      *TroubleshootService
}

func newTroubleshootFixture(t *testing.T) *troubleshootFixture {
	t.Helper()
	client := newFakeLLM()
	client.responses["risk_assessment"] = riskLowJSON
	client.responses["followups"] = followupsJSON
	client.responses["diagnosis"] = diagnosisJSON

	matcher, err := safety.NewMatcher()
	require.NoError(t, err)
	assessor, err := troubleshooter.NewRiskAssessor(matcher, client)
	require.NoError(t, err)
	workflow, err := troubleshooter.New(troubleshooter.Config{
		Retriever: &fakeRetriever{nodes: furnaceNodes()},
		Assessor:  assessor,
		Client:    client,
	})
	require.NoError(t, err)

	f := &troubleshootFixture{
		client:   client,
		sessions: troubleshooter.NewSessionStore(troubleshooter.SessionOptions{}),
		profiles: &fakeProfiles{profile: testProfile()},
		audit:    &extensions.MemoryAuditLogger{},
	}
	f.svc, err = NewTroubleshootService(workflow, f.sessions, f.profiles, f.audit)
	require.NoError(t, err)
	return f
}

func clickingFurnace() *datatypes.TroubleshootStartRequest {
	return &datatypes.TroubleshootStartRequest{DeviceType: "furnace", Symptom: "furnace making a clicking sound"}
}

func TestStart_Followups(t *testing.T) {
	f := newTroubleshootFixture(t)

	resp, err := f.svc.Start(context.Background(), clickingFurnace())

	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, string(troubleshooter.PhaseFollowup), resp.Phase)
	assert.False(t, resp.IsSafetyStop)
	assert.Len(t, resp.FollowupQuestions, 2)
	assert.Equal(t, datatypes.RiskLow, resp.RiskLevel)
	assert.Equal(t, "Likely an ignition issue.", resp.PreliminaryAssessment)
	assert.Equal(t, 1, f.sessions.Len())
}

func TestStart_GasSmellStopsWithoutStoringState(t *testing.T) {
	f := newTroubleshootFixture(t)

	resp, err := f.svc.Start(context.Background(), &datatypes.TroubleshootStartRequest{
		DeviceType: "furnace",
		Symptom:    "I smell gas near my furnace",
	})

	require.NoError(t, err)
	assert.True(t, resp.IsSafetyStop)
	assert.Equal(t, string(troubleshooter.PhaseSafetyStop), resp.Phase)
	assert.Equal(t, datatypes.RiskHigh, resp.RiskLevel)
	assert.Empty(t, resp.FollowupQuestions)
	assert.NotNil(t, resp.FollowupQuestions)
	assert.NotEmpty(t, resp.SafetyMessage)
	assert.NotEmpty(t, resp.RecommendedProfessional)
	assert.Zero(t, f.client.total(), "layer 1 stop must not call the LLM")
	assert.Zero(t, f.sessions.Len(), "safety stops take no session slot")

	_, err = f.svc.Diagnose(context.Background(), &datatypes.TroubleshootDiagnoseRequest{SessionID: resp.SessionID})
	assert.ErrorIs(t, err, troubleshooter.ErrSafetyStopped)

	_, err = f.svc.Diagnose(context.Background(), &datatypes.TroubleshootDiagnoseRequest{SessionID: resp.SessionID})
	assert.ErrorIs(t, err, troubleshooter.ErrSessionNotFound, "refused once, then forgotten")
}

func TestStart_DefaultsUrgency(t *testing.T) {
	f := newTroubleshootFixture(t)
	req := clickingFurnace()

	resp, err := f.svc.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, datatypes.DefaultUrgency, req.Urgency)

	s, ok := f.sessions.Get(resp.SessionID)
	require.True(t, ok)
	assert.Equal(t, datatypes.DefaultUrgency, s.Urgency)
}

func TestStart_ProfileNotFound(t *testing.T) {
	f := newTroubleshootFixture(t)
	f.profiles.profile = nil
	f.profiles.err = fmt.Errorf("open data/house_profile.json: %w", profile.ErrProfileNotFound)

	_, err := f.svc.Start(context.Background(), clickingFurnace())

	assert.ErrorIs(t, err, profile.ErrProfileNotFound)
	assert.Zero(t, f.client.total())
	assert.Zero(t, f.sessions.Len())
}

func TestStart_FollowupFailureIsWorkflowError(t *testing.T) {
	f := newTroubleshootFixture(t)
	f.client.errs["followups"] = errors.New("upstream timeout")

	_, err := f.svc.Start(context.Background(), clickingFurnace())

	assert.ErrorIs(t, err, ErrWorkflowFailed)
	assert.Zero(t, f.sessions.Len())
}

func TestStart_MissingInput(t *testing.T) {
	f := newTroubleshootFixture(t)

	_, err := f.svc.Start(context.Background(), &datatypes.TroubleshootStartRequest{DeviceType: "furnace", Symptom: "  "})

	assert.ErrorIs(t, err, troubleshooter.ErrMissingInput)
}

func TestDiagnose_CompletesAndConsumesSession(t *testing.T) {
	f := newTroubleshootFixture(t)
	start, err := f.svc.Start(context.Background(), clickingFurnace())
	require.NoError(t, err)

	req := &datatypes.TroubleshootDiagnoseRequest{
		SessionID: start.SessionID,
		Answers: []datatypes.FollowupAnswer{
			{QuestionID: "q1", Answer: "yes"},
			{QuestionID: "q2", Answer: "no glow"},
		},
	}
	resp, err := f.svc.Diagnose(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, start.SessionID, resp.SessionID)
	assert.Equal(t, "The hot surface igniter is probably failing.", resp.DiagnosisSummary)
	require.Len(t, resp.DiagnosticSteps, 3)
	assert.True(t, resp.DiagnosticSteps[2].RequiresProfessional)
	assert.Equal(t, datatypes.RiskMed, resp.OverallRiskLevel)
	assert.Contains(t, resp.Markdown, "# Troubleshooting Diagnosis")
	assert.Equal(t, []string{"carrier-59sc5-manual.pdf", "furnace-maintenance.md"}, resp.SourcesUsed)

	_, err = f.svc.Diagnose(context.Background(), req)
	assert.ErrorIs(t, err, troubleshooter.ErrSessionNotFound, "sessions are one-time use")

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, extensions.EventSessionCompleted, events[0].EventType)
}

func TestDiagnose_UnknownSession(t *testing.T) {
	f := newTroubleshootFixture(t)

	_, err := f.svc.Diagnose(context.Background(), &datatypes.TroubleshootDiagnoseRequest{SessionID: "nope"})

	assert.ErrorIs(t, err, troubleshooter.ErrSessionNotFound)
	assert.Zero(t, f.client.calls("diagnosis"))
}

func TestDiagnose_GenerationFailureKeepsSession(t *testing.T) {
	f := newTroubleshootFixture(t)
	start, err := f.svc.Start(context.Background(), clickingFurnace())
	require.NoError(t, err)

	f.client.errs["diagnosis"] = errors.New("upstream timeout")
	_, err = f.svc.Diagnose(context.Background(), &datatypes.TroubleshootDiagnoseRequest{SessionID: start.SessionID})
	assert.ErrorIs(t, err, ErrWorkflowFailed)
	assert.NotContains(t, err.Error(), "\n")

	delete(f.client.errs, "diagnosis")
	resp, err := f.svc.Diagnose(context.Background(), &datatypes.TroubleshootDiagnoseRequest{SessionID: start.SessionID})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Markdown)
}

func TestDiagnose_ConcurrentCallsSucceedOnce(t *testing.T) {
	f := newTroubleshootFixture(t)
	start, err := f.svc.Start(context.Background(), clickingFurnace())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, notFound int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Diagnose(context.Background(), &datatypes.TroubleshootDiagnoseRequest{SessionID: start.SessionID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, troubleshooter.ErrSessionNotFound):
				notFound++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, notFound)
}

func TestNewTroubleshootService_RequiresCollaborators(t *testing.T) {
	_, err := NewTroubleshootService(nil, troubleshooter.NewSessionStore(troubleshooter.SessionOptions{}), &fakeProfiles{}, nil)
	assert.Error(t, err)
}
