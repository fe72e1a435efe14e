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
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/retrieval"
	"github.com/AleutianAI/homeops/services/safety"
)

// fakeLLM answers structured calls from canned JSON keyed by operation.
type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
	requests  []llm.StructuredRequest
	order     *[]string
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		responses: map[string]string{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeLLM) CompleteStructured(_ context.Context, req llm.StructuredRequest, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Operation]++
	f.requests = append(f.requests, req)
	if f.order != nil {
		*f.order = append(*f.order, "llm:"+req.Operation)
	}
	if err := f.errs[req.Operation]; err != nil {
		return err
	}
	raw, ok := f.responses[req.Operation]
	if !ok {
		return fmt.Errorf("no canned response for %s", req.Operation)
	}
	return json.Unmarshal([]byte(raw), out)
}

func (f *fakeLLM) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeLLM) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLLM) lastRequest(op string) llm.StructuredRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Operation == op {
			return f.requests[i]
		}
	}
	return llm.StructuredRequest{}
}

// fakeRetriever returns fixed nodes and records its queries.
type fakeRetriever struct {
	mu          sync.Mutex
	nodes       []retrieval.Node
	err         error
	queries     []string
	deviceTypes [][]string
	order       *[]string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, deviceTypes []string) ([]retrieval.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.deviceTypes = append(f.deviceTypes, deviceTypes)
	if f.order != nil {
		*f.order = append(*f.order, "retrieve")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.nodes, nil
}

func furnaceNodes() []retrieval.Node {
	return []retrieval.Node{
		{
			Text:     "Clicking at startup is normal. Repeated clicking without ignition indicates a failed igniter.",
			Metadata: retrieval.Metadata{FileName: "carrier-59sc5-manual.pdf", DeviceType: "furnace", DeviceName: "Carrier 59SC5"},
			Score:    0.82,
		},
		{
			Text:     "Replace the filter every 90 days.",
			Metadata: retrieval.Metadata{FileName: "furnace-maintenance.md", DeviceType: "furnace"},
			Score:    0.61,
		},
	}
}

const (
	riskLowJSON = `{"risk_level":"LOW","reasoning":"mechanical noise","safety_concern":false}`

	followupsJSON = `{
  "followup_questions": [
    {"id":"q1","question":"Does the clicking happen when heat is called for?","question_type":"yes_no","why":"Separates ignition from relay clicks"},
    {"id":"q2","question":"Do you see a glow from the igniter?","question_type":"yes_no","why":"Checks the igniter"},
    {"id":"q3","question":"How long does it click?","question_type":"multiple_choice","options":["a few seconds","a minute","continuously"],"why":"Duration narrows the cause"}
  ],
  "preliminary_assessment": "Likely an ignition issue.",
  "risk_level": "LOW"
}`

	diagnosisJSON = `{
  "diagnosis_summary": "The hot surface igniter is probably failing.",
  "diagnostic_steps": [
    {"step_number":1,"instruction":"Check the thermostat is set to heat","expected_outcome":"Furnace starts","if_not_resolved":"Go to step 2","risk_level":"LOW","requires_professional":false},
    {"step_number":2,"instruction":"Replace the air filter","expected_outcome":"Better airflow","if_not_resolved":"Go to step 3","risk_level":"LOW","source_doc":"furnace-maintenance.md","requires_professional":false},
    {"step_number":3,"instruction":"If the issue persists, call a licensed HVAC professional","expected_outcome":"Igniter replaced","if_not_resolved":"Ask for a second opinion","risk_level":"HIGH","source_doc":"carrier-59sc5-manual.pdf","requires_professional":true}
  ],
  "overall_risk_level": "MED",
  "when_to_call_professional": "If the furnace still fails to ignite."
}`
)

func newTestMatcher(t *testing.T) *safety.Matcher {
	t.Helper()
	m, err := safety.NewMatcher()
	require.NoError(t, err)
	return m
}

func newTestWorkflow(t *testing.T, client *fakeLLM, retriever *fakeRetriever) *Workflow {
	t.Helper()
	assessor, err := NewRiskAssessor(newTestMatcher(t), client)
	require.NoError(t, err)
	w, err := New(Config{Retriever: retriever, Assessor: assessor, Client: client})
	require.NoError(t, err)
	return w
}
