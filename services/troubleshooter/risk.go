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

	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/safety"
)

// defaultProfessional is used when a layer-2 safety stop names no trade.
const defaultProfessional = "licensed professional"

// RiskAssessment is the outcome of RiskAssessor.Assess.
type RiskAssessment struct {
	RiskLevel     datatypes.RiskLevel
	Reasoning     string
	SafetyConcern bool

	IsSafetyStop            bool
	SafetyMessage           string
	RecommendedProfessional string

	// Layer is 1 when the keyword catalogue decided, 2 when the LLM did, and
	// 0 when the LLM failed and the conservative default was used.
	Layer int

	// Pattern is the matched catalogue pattern for layer 1.
	Pattern string

	// Err is the layer-2 failure behind a Layer 0 result.
	Err error
}

// decision returns the safety part of the assessment.
func (a RiskAssessment) decision() SafetyDecision {
	return SafetyDecision{
		IsSafetyStop:            a.IsSafetyStop,
		SafetyMessage:           a.SafetyMessage,
		RecommendedProfessional: a.RecommendedProfessional,
		Layer:                   a.Layer,
		Pattern:                 a.Pattern,
	}
}

// llmRiskResponse is the layer-2 response schema.
type llmRiskResponse struct {
	RiskLevel               datatypes.RiskLevel `json:"risk_level" enum:"LOW,MED,HIGH" description:"Risk level: LOW, MED, or HIGH"`
	Reasoning               string              `json:"reasoning" description:"Why this risk level was assigned"`
	SafetyConcern           bool                `json:"safety_concern,omitempty" description:"Whether there is a safety concern requiring professional help"`
	RecommendedProfessional string              `json:"recommended_professional,omitempty" description:"Type of professional if safety_concern is true"`
}

// RiskAssessor decides how dangerous a reported issue is.
//
// # Description
//
// Layer 1 runs the safety keyword catalogue over the symptom and additional
// context, hinted with the device type. A match is a HIGH risk safety stop
// and the LLM is not called. Otherwise layer 2 asks the LLM for a
// classification; a stop requires both safety_concern and HIGH. Any layer-2
// failure yields MED without a stop.
//
// # Thread Safety
//
// Safe for concurrent use.
type RiskAssessor struct {
	matcher *safety.Matcher
	client  llm.StructuredClient
}

// NewRiskAssessor returns an assessor. Both collaborators are required.
func NewRiskAssessor(matcher *safety.Matcher, client llm.StructuredClient) (*RiskAssessor, error) {
	if matcher == nil {
		return nil, errors.New("troubleshooter: safety matcher is required")
	}
	if client == nil {
		return nil, errors.New("troubleshooter: llm client is required")
	}
	return &RiskAssessor{matcher: matcher, client: client}, nil
}

// Assess classifies the issue. It never returns LOW on failure.
func (a *RiskAssessor) Assess(ctx context.Context, symptom, deviceType, additionalContext string) RiskAssessment {
	if m, ok := a.matcher.Match(symptom+" "+additionalContext, deviceType); ok {
		slog.Warn("layer 1 safety stop",
			"pattern", m.Pattern.Name, "keyword", m.Keyword, "device_type", deviceType)
		return RiskAssessment{
			RiskLevel:               datatypes.RiskHigh,
			Reasoning:               fmt.Sprintf("matched safety pattern %s", m.Pattern.Name),
			SafetyConcern:           true,
			IsSafetyStop:            true,
			SafetyMessage:           m.Pattern.Message,
			RecommendedProfessional: m.Pattern.Professional,
			Layer:                   1,
			Pattern:                 m.Pattern.Name,
		}
	}

	var resp llmRiskResponse
	err := a.client.CompleteStructured(ctx, llm.StructuredRequest{
		Operation:    "risk_assessment",
		SystemPrompt: riskSystemPrompt,
		UserPrompt:   riskUserPrompt(deviceType, symptom, additionalContext),
		SchemaName:   "risk_assessment",
		Temperature:  0.1,
		MaxTokens:    500,
	}, &resp)
	if err == nil && !resp.RiskLevel.Valid() {
		err = fmt.Errorf("invalid risk level %q", resp.RiskLevel)
	}
	if err != nil {
		slog.Error("llm risk assessment failed, defaulting to MED", "error", err)
		return RiskAssessment{
			RiskLevel: datatypes.RiskMed,
			Reasoning: "risk assessment unavailable",
			Err:       err,
		}
	}

	out := RiskAssessment{
		RiskLevel:     resp.RiskLevel,
		Reasoning:     resp.Reasoning,
		SafetyConcern: resp.SafetyConcern,
		IsSafetyStop:  resp.SafetyConcern && resp.RiskLevel == datatypes.RiskHigh,
		Layer:         2,
	}
	if out.IsSafetyStop {
		out.SafetyMessage = fmt.Sprintf(
			"SAFETY CONCERN: %s. This issue requires professional attention.", resp.Reasoning)
		out.RecommendedProfessional = resp.RecommendedProfessional
		if out.RecommendedProfessional == "" {
			out.RecommendedProfessional = defaultProfessional
		}
		out.Pattern = "llm"
	}
	slog.Info("layer 2 risk assessment",
		"risk_level", out.RiskLevel, "safety_stop", out.IsSafetyStop)
	return out
}
