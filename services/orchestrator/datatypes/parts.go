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

// =============================================================================
// Parts lookup
// =============================================================================

// ConfidenceLevel is how well the documentation supports a part
// recommendation.
//
//   - confirmed: part number or spec found directly in the documentation
//   - likely: inferred from the documentation
//   - uncertain: general knowledge only
type ConfidenceLevel string

const (
	ConfidenceConfirmed ConfidenceLevel = "confirmed"
	ConfidenceLikely    ConfidenceLevel = "likely"
	ConfidenceUncertain ConfidenceLevel = "uncertain"
)

// Valid reports whether c is one of the three known levels.
func (c ConfidenceLevel) Valid() bool {
	switch c {
	case ConfidenceConfirmed, ConfidenceLikely, ConfidenceUncertain:
		return true
	}
	return false
}

// PartRecommendation is one replacement part or consumable.
//
// A confirmed part always names its source document. An uncertain part never
// carries a part number, since nothing indexed backs it.
type PartRecommendation struct {
	PartName            string          `json:"part_name" description:"Name of the part or consumable"`
	PartNumber          string          `json:"part_number,omitempty" description:"Part number, filter size or identifier. Empty when confidence is uncertain"`
	DeviceType          string          `json:"device_type" description:"Which device or system this part is for"`
	DeviceModel         string          `json:"device_model,omitempty" description:"Device model this part fits, from the house profile or docs"`
	Description         string          `json:"description" description:"Brief description of the part and its purpose"`
	ReplacementInterval string          `json:"replacement_interval,omitempty" description:"How often to replace it, e.g. Every 3 months"`
	WhereToBuy          string          `json:"where_to_buy,omitempty" description:"Suggested retailers or sources"`
	Confidence          ConfidenceLevel `json:"confidence" enum:"confirmed,likely,uncertain" description:"How well the documentation supports this recommendation"`
	SourceDoc           string          `json:"source_doc,omitempty" description:"Source document. Required when confidence is confirmed"`
	Notes               string          `json:"notes,omitempty" description:"Warnings or installation tips, including safety notes for gas or electrical parts"`
}

// ClarificationQuestion asks for information that would pin down a part.
type ClarificationQuestion struct {
	ID            string `json:"id" description:"Unique identifier such as cq1"`
	Question      string `json:"question" description:"The question to ask the homeowner"`
	Reason        string `json:"reason" description:"Why this helps identify the correct part"`
	RelatedDevice string `json:"related_device,omitempty" description:"Device the question relates to"`
}

// PartsLookupRequest is the body of POST /parts/lookup.
type PartsLookupRequest struct {
	Query      string `json:"query" validate:"notblank,max=2000"`
	DeviceType string `json:"device_type" validate:"max=100"`
}

// Validate checks the request against its field constraints.
func (r *PartsLookupRequest) Validate() error {
	return apiValidate.Struct(r)
}

// PartsLookupResponse is returned by POST /parts/lookup.
type PartsLookupResponse struct {
	Parts                  []PartRecommendation    `json:"parts"`
	ClarificationQuestions []ClarificationQuestion `json:"clarification_questions"`
	Summary                string                  `json:"summary"`
	Markdown               string                  `json:"markdown"`
	SourcesUsed            []string                `json:"sources_used"`
	HasGaps                bool                    `json:"has_gaps"`
}
