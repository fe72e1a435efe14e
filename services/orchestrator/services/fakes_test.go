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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/retrieval"
)

type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	requests  []llm.StructuredRequest
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeLLM) CompleteStructured(_ context.Context, req llm.StructuredRequest, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.errs[req.Operation]; err != nil {
		return err
	}
	raw, ok := f.responses[req.Operation]
	if !ok {
		return fmt.Errorf("no canned response for %s", req.Operation)
	}
	return json.Unmarshal([]byte(raw), out)
}

func (f *fakeLLM) calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Operation == op {
			n++
		}
	}
	return n
}

func (f *fakeLLM) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeRetriever struct {
	mu          sync.Mutex
	nodes       []retrieval.Node
	err         error
	deviceTypes [][]string
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, deviceTypes []string) ([]retrieval.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceTypes = append(f.deviceTypes, deviceTypes)
	if f.err != nil {
		return nil, f.err
	}
	return f.nodes, nil
}

type fakeProfiles struct {
	profile *datatypes.HouseProfile
	err     error
}

func (f *fakeProfiles) Load(context.Context) (*datatypes.HouseProfile, error) {
	return f.profile, f.err
}

func testProfile() *datatypes.HouseProfile {
	return &datatypes.HouseProfile{
		Name:        "Test House",
		ClimateZone: datatypes.ClimateCold,
		Systems: map[string]*datatypes.InstalledSystem{
			"furnace": {Manufacturer: "Carrier", Model: "59SC5", FuelType: "natural gas"},
		},
	}
}

func furnaceNodes() []retrieval.Node {
	return []retrieval.Node{
		{
			Text:     "Repeated clicking without ignition indicates a failed igniter.",
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
    {"id":"q2","question":"Do you see a glow from the igniter?","question_type":"yes_no","why":"Checks the igniter"}
  ],
  "preliminary_assessment": "Likely an ignition issue.",
  "risk_level": "LOW"
}`

	diagnosisJSON = `{
  "diagnosis_summary": "The hot surface igniter is probably failing.",
  "diagnostic_steps": [
    {"step_number":1,"instruction":"Check the thermostat is set to heat","expected_outcome":"Furnace starts","if_not_resolved":"Go to step 2","risk_level":"LOW"},
    {"step_number":2,"instruction":"Replace the air filter","expected_outcome":"Better airflow","if_not_resolved":"Go to step 3","risk_level":"LOW","source_doc":"furnace-maintenance.md"},
    {"step_number":3,"instruction":"Call a licensed HVAC professional","expected_outcome":"Igniter replaced","if_not_resolved":"Ask for a second opinion","risk_level":"HIGH","source_doc":"carrier-59sc5-manual.pdf","requires_professional":true}
  ],
  "overall_risk_level": "MED",
  "when_to_call_professional": "If the furnace still fails to ignite."
}`
)
