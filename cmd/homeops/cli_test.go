// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homeops/pkg/ux"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// =============================================================================
// Test Setup
// =============================================================================

type fakeServer struct {
	mu        sync.Mutex
	start     datatypes.TroubleshootStartResponse
	diagnose  datatypes.TroubleshootDiagnoseResponse
	ask       datatypes.AskResponse
	parts     datatypes.PartsLookupResponse
	partsReqs []datatypes.PartsLookupRequest
	askStatus int
	lastAuth  string
	diagnosed []datatypes.TroubleshootDiagnoseRequest
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		status, ask := f.askStatus, f.ask
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(datatypes.ErrorResponse{Error: "Failed to answer the question. Please try again."})
			return
		}
		_ = json.NewEncoder(w).Encode(ask)
	})
	mux.HandleFunc("/troubleshoot/start", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		start := f.start
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(start)
	})
	mux.HandleFunc("/troubleshoot/diagnose", func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.TroubleshootDiagnoseRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.diagnosed = append(f.diagnosed, req)
		diagnose := f.diagnose
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(diagnose)
	})
	mux.HandleFunc("/parts/lookup", func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.PartsLookupRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.partsReqs = append(f.partsReqs, req)
		parts := f.parts
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(parts)
	})
	return mux
}

func (f *fakeServer) set(fn func(*fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeServer) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeServer) partsCalls() []datatypes.PartsLookupRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datatypes.PartsLookupRequest(nil), f.partsReqs...)
}

func (f *fakeServer) diagnoseCalls() []datatypes.TroubleshootDiagnoseRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datatypes.TroubleshootDiagnoseRequest(nil), f.diagnosed...)
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{
		start: datatypes.TroubleshootStartResponse{
			SessionID: "sess-1",
			RiskLevel: datatypes.RiskLow,
			FollowupQuestions: []datatypes.FollowupQuestion{
				{ID: "q1", Question: "Does it click when heat is called for?", QuestionType: datatypes.QuestionYesNo},
				{ID: "q2", Question: "Do you see a glow?", QuestionType: datatypes.QuestionYesNo},
			},
		},
		diagnose: datatypes.TroubleshootDiagnoseResponse{
			SessionID:        "sess-1",
			DiagnosisSummary: "Igniter is failing.",
			OverallRiskLevel: datatypes.RiskMed,
			DiagnosticSteps: []datatypes.DiagnosticStep{
				{StepNumber: 1, Instruction: "Replace the filter", RiskLevel: datatypes.RiskLow},
			},
		},
		ask: datatypes.AskResponse{
			Answer:    "Replace it every 90 days.",
			RiskLevel: datatypes.RiskLow,
			Citations: []datatypes.Citation{{Source: "manual.pdf - Furnace"}},
		},
		parts: datatypes.PartsLookupResponse{
			Summary: "One filter found.",
			Parts: []datatypes.PartRecommendation{
				{PartName: "Air filter", PartNumber: "16x25x1", DeviceType: "furnace", Confidence: datatypes.ConfidenceConfirmed, SourceDoc: "manual.pdf"},
			},
			ClarificationQuestions: []datatypes.ClarificationQuestion{},
			SourcesUsed:            []string{"manual.pdf"},
		},
	}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	orig := ux.GetLevel()
	t.Cleanup(func() { ux.SetLevel(orig) })

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"-o", "machine"}, args...))
	err := root.Execute()
	return out.String(), err
}

// =============================================================================
// ask
// =============================================================================

func TestAsk_PrintsAnswer(t *testing.T) {
	f, srv := newFakeServer(t)

	out, err := execute(t, "ask", "--server", srv.URL, "--token", "tok", "how", "often?")
	require.NoError(t, err)
	assert.Equal(t, "RISK: LOW\nANSWER: Replace it every 90 days.\nCITATION: manual.pdf - Furnace\n", out)
	assert.Equal(t, "Bearer tok", f.auth())
}

func TestAsk_ServerError(t *testing.T) {
	f, srv := newFakeServer(t)
	f.set(func(f *fakeServer) { f.askStatus = http.StatusInternalServerError })

	_, err := execute(t, "ask", "--server", srv.URL, "filter?")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Failed to answer the question. Please try again.", apiErr.Message)
}

func TestAsk_RequiresQuestion(t *testing.T) {
	_, err := execute(t, "ask")
	assert.Error(t, err)
}

// =============================================================================
// parts
// =============================================================================

func TestParts_PrintsParts(t *testing.T) {
	f, srv := newFakeServer(t)

	out, err := execute(t, "parts", "--server", srv.URL, "-d", "furnace", "what", "filter?")
	require.NoError(t, err)
	assert.Equal(t, "SUMMARY: One filter found.\nPART [confirmed]: Air filter (16x25x1)\nSOURCE: manual.pdf\n", out)

	calls := f.partsCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "what filter?", calls[0].Query)
	assert.Equal(t, "furnace", calls[0].DeviceType)
}

func TestParts_RequiresQuery(t *testing.T) {
	_, err := execute(t, "parts")
	assert.Error(t, err)
}

// =============================================================================
// troubleshoot
// =============================================================================

func TestTroubleshoot_NonInteractive(t *testing.T) {
	f, srv := newFakeServer(t)

	out, err := execute(t, "troubleshoot", "--server", srv.URL,
		"--device", "furnace", "--symptom", "clicking", "--answer", "q1=yes", "--no-input")
	require.NoError(t, err)

	calls := f.diagnoseCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sess-1", calls[0].SessionID)
	assert.Equal(t, []datatypes.FollowupAnswer{{QuestionID: "q1", Answer: "yes"}}, calls[0].Answers)

	assert.Contains(t, out, "SESSION: sess-1")
	assert.Contains(t, out, "WARN: Skipping q2")
	assert.Contains(t, out, "STEP 1 [LOW]: Replace the filter")
}

func TestTroubleshoot_SafetyStopSkipsDiagnosis(t *testing.T) {
	f, srv := newFakeServer(t)
	f.set(func(f *fakeServer) {
		f.start = datatypes.TroubleshootStartResponse{
			SessionID:               "sess-2",
			RiskLevel:               datatypes.RiskHigh,
			IsSafetyStop:            true,
			SafetyMessage:           "Leave the house now.",
			RecommendedProfessional: "gas utility",
			FollowupQuestions:       []datatypes.FollowupQuestion{},
		}
	})

	out, err := execute(t, "troubleshoot", "--server", srv.URL, "-d", "furnace", "-s", "smell gas")
	require.NoError(t, err)
	assert.Contains(t, out, "SAFETY_STOP: Leave the house now.")
	assert.Empty(t, f.diagnoseCalls())
}

func TestTroubleshoot_RequiresDeviceAndSymptom(t *testing.T) {
	_, err := execute(t, "troubleshoot", "--device", "furnace")
	assert.Error(t, err)
}

func TestTroubleshoot_PromptsForMissingAnswers(t *testing.T) {
	f, srv := newFakeServer(t)
	orig := ux.GetLevel()
	ux.SetLevel(ux.LevelMachine)
	t.Cleanup(func() { ux.SetLevel(orig) })

	var prompted []string
	tOpts := &troubleshootOptions{
		device:      "furnace",
		symptom:     "clicking",
		answers:     []string{"q1=yes"},
		interactive: func() bool { return true },
		prompt: func(qs []datatypes.FollowupQuestion) (map[string]string, error) {
			answers := map[string]string{}
			for _, q := range qs {
				prompted = append(prompted, q.ID)
				answers[q.ID] = "no"
			}
			return answers, nil
		},
	}
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := runTroubleshoot(cmd, &rootOptions{server: srv.URL, timeout: defaultTimeout}, tOpts)
	require.NoError(t, err)
	assert.Equal(t, []string{"q2"}, prompted)

	calls := f.diagnoseCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []datatypes.FollowupAnswer{
		{QuestionID: "q1", Answer: "yes"},
		{QuestionID: "q2", Answer: "no"},
	}, calls[0].Answers)
}

func TestParseAnswers(t *testing.T) {
	got, err := parseAnswers([]string{"q1=yes", " q2 = no glow ", "q1=no"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q1": "no", "q2": "no glow"}, got)

	for _, bad := range []string{"q1", "=yes", " =x"} {
		_, err := parseAnswers([]string{bad})
		assert.Error(t, err, "parseAnswers(%q)", bad)
	}
}

func TestOrderedAnswers(t *testing.T) {
	questions := []datatypes.FollowupQuestion{{ID: "q1"}, {ID: "q2"}, {ID: "q3"}}
	given := map[string]string{"q3": "c", "q1": "a", "zz": "extra", "aa": "first extra"}

	got := orderedAnswers(questions, given)
	assert.Equal(t, []datatypes.FollowupAnswer{
		{QuestionID: "q1", Answer: "a"},
		{QuestionID: "q3", Answer: "c"},
		{QuestionID: "aa", Answer: "first extra"},
		{QuestionID: "zz", Answer: "extra"},
	}, got)
}

// =============================================================================
// safety-check
// =============================================================================

func TestSafetyCheck_Match(t *testing.T) {
	out, err := execute(t, "safety-check", "I", "smell", "gas", "near", "the", "furnace")
	assert.ErrorIs(t, err, errUnsafe)
	assert.Contains(t, out, "SAFETY_STOP:")
	assert.Contains(t, out, "PROFESSIONAL: licensed gas technician or your gas utility company")
}

func TestSafetyCheck_NoMatch(t *testing.T) {
	out, err := execute(t, "safety-check", "the furnace filter looks dusty")
	require.NoError(t, err)
	assert.Equal(t, "OK: No hazard keywords found\n", out)
}

func TestSafetyCheck_VerboseListsHits(t *testing.T) {
	out, err := execute(t, "safety-check", "-v", "gas smell")
	assert.ErrorIs(t, err, errUnsafe)
	assert.Contains(t, out, "WARN: gas_leak matched \"gas smell\"")
}
