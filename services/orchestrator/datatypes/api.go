// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains request and response types for the HTTP endpoints.
// Domain types shared with the workflows live in home.go.
package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Input Bounds
// =============================================================================

const (
	MaxDeviceTypeLength  = 100
	MaxSymptomLength     = 2000
	MaxContextLength     = 2000
	MaxQuestionLength    = 2000
	MaxAnswersPerRequest = 20

	// DefaultUrgency is applied when a start request omits urgency.
	DefaultUrgency = "medium"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// apiValidate is the validator instance for request datatypes.
// Initialized in init() with custom validators.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()

	// Rejects strings that are empty after trimming whitespace.
	_ = apiValidate.RegisterValidation("notblank", validateNotBlank)

	// Report JSON names in field errors so clients see their own keys.
	apiValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationMessage renders a validation error as one line for API
// clients, e.g. "symptom is required; urgency must be one of low medium high".
// Errors that are not validator errors render as "invalid request".
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "notblank", "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// /troubleshoot
// =============================================================================

// TroubleshootStartRequest is the body of POST /troubleshoot/start.
type TroubleshootStartRequest struct {
	DeviceType        string `json:"device_type" validate:"notblank,max=100"`
	Symptom           string `json:"symptom" validate:"notblank,max=2000"`
	Urgency           string `json:"urgency" validate:"omitempty,oneof=low medium high"`
	AdditionalContext string `json:"additional_context" validate:"max=2000"`
}

// Validate checks the request against its field constraints.
func (r *TroubleshootStartRequest) Validate() error {
	return apiValidate.Struct(r)
}

// EnsureDefaults fills optional fields with their defaults.
func (r *TroubleshootStartRequest) EnsureDefaults() {
	r.Urgency = strings.ToLower(strings.TrimSpace(r.Urgency))
	if r.Urgency == "" {
		r.Urgency = DefaultUrgency
	}
}

// TroubleshootStartResponse is returned by POST /troubleshoot/start.
type TroubleshootStartResponse struct {
	SessionID               string             `json:"session_id"`
	Phase                   string             `json:"phase"`
	RiskLevel               RiskLevel          `json:"risk_level,omitempty"`
	FollowupQuestions       []FollowupQuestion `json:"followup_questions"`
	PreliminaryAssessment   string             `json:"preliminary_assessment,omitempty"`
	IsSafetyStop            bool               `json:"is_safety_stop"`
	SafetyMessage           string             `json:"safety_message,omitempty"`
	RecommendedProfessional string             `json:"recommended_professional,omitempty"`
}

// TroubleshootDiagnoseRequest is the body of POST /troubleshoot/diagnose.
type TroubleshootDiagnoseRequest struct {
	SessionID string           `json:"session_id" validate:"notblank"`
	Answers   []FollowupAnswer `json:"answers" validate:"max=20,dive"`
}

// Validate checks the request against its field constraints.
func (r *TroubleshootDiagnoseRequest) Validate() error {
	return apiValidate.Struct(r)
}

// TroubleshootDiagnoseResponse is returned by POST /troubleshoot/diagnose.
type TroubleshootDiagnoseResponse struct {
	SessionID              string           `json:"session_id"`
	DiagnosisSummary       string           `json:"diagnosis_summary"`
	DiagnosticSteps        []DiagnosticStep `json:"diagnostic_steps"`
	OverallRiskLevel       RiskLevel        `json:"overall_risk_level"`
	WhenToCallProfessional string           `json:"when_to_call_professional"`
	Markdown               string           `json:"markdown"`
	SourcesUsed            []string         `json:"sources_used"`
}

// =============================================================================
// /ask
// =============================================================================

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Question string `json:"question" validate:"notblank,max=2000"`
}

// Validate checks the request against its field constraints.
func (r *AskRequest) Validate() error {
	return apiValidate.Struct(r)
}

// AskResponse is returned by POST /ask.
type AskResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	RiskLevel RiskLevel  `json:"risk_level"`
	Contexts  []string   `json:"contexts"`
}

// =============================================================================
// Shared
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ValidateHouseProfile checks a loaded profile against its field constraints.
func ValidateHouseProfile(p *HouseProfile) error {
	return apiValidate.Struct(p)
}
