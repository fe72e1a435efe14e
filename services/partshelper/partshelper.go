// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package partshelper identifies replacement parts and consumables for the
// systems in a house.
//
// A lookup is a single call with no session: parse_query resolves the target
// devices, retrieve_docs fetches documentation with a parts-oriented query,
// generate_parts_list asks the LLM for structured recommendations, and
// render_markdown formats them. When the query is too vague the response
// carries clarification questions, and the homeowner simply asks again with
// more detail.
package partshelper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("homeops.partshelper")

var (
	// ErrMissingQuery is returned for an empty or blank query.
	ErrMissingQuery = errors.New("parts lookup: query is required")

	// ErrGenerationFailed wraps an LLM failure. The cause is for logs only.
	ErrGenerationFailed = errors.New("parts identification failed")
)

// queryAugmentation is appended to the homeowner's query so retrieval
// favors spec sheets and maintenance tables over troubleshooting prose.
const queryAugmentation = " filter size part number replacement interval consumable model specifications"

// DefaultTopK is the retrieval depth for parts lookups. Multi-device
// queries span more documents than a single troubleshooting symptom.
const DefaultTopK = 8

// partsResponse is the parts generation schema.
type partsResponse struct {
	Parts                  []datatypes.PartRecommendation    `json:"parts" description:"Identified parts and consumables"`
	ClarificationQuestions []datatypes.ClarificationQuestion `json:"clarification_questions" description:"Questions to ask when the information is insufficient for a definitive answer"`
	Summary                string                            `json:"summary" description:"Brief summary of findings and any gaps in information"`
}

// Config holds the helper collaborators.
type Config struct {
	// Retriever should be configured for DefaultTopK results.
	Retriever retrieval.Retriever
	Client    llm.StructuredClient
}

// Input is one parts lookup.
type Input struct {
	Query string

	// DeviceType, when set, overrides device detection.
	DeviceType string

	// Profile is optional. Its systems are used for broad queries and its
	// device details are passed to the LLM.
	Profile *datatypes.HouseProfile
}

// Result is a completed lookup.
type Result struct {
	Devices                []string
	Chunks                 []datatypes.RetrievedChunk
	Parts                  []datatypes.PartRecommendation
	ClarificationQuestions []datatypes.ClarificationQuestion
	Summary                string
	Markdown               string
}

// SourcesUsed returns the sorted distinct source documents of the parts.
func (r *Result) SourcesUsed() []string {
	var sources []string
	for _, p := range r.Parts {
		if p.SourceDoc != "" && !slices.Contains(sources, p.SourceDoc) {
			sources = append(sources, p.SourceDoc)
		}
	}
	slices.Sort(sources)
	return sources
}

// Response converts the result to the API response. Slices are never nil.
func (r *Result) Response() *datatypes.PartsLookupResponse {
	parts := r.Parts
	if parts == nil {
		parts = []datatypes.PartRecommendation{}
	}
	questions := r.ClarificationQuestions
	if questions == nil {
		questions = []datatypes.ClarificationQuestion{}
	}
	sources := r.SourcesUsed()
	if sources == nil {
		sources = []string{}
	}
	return &datatypes.PartsLookupResponse{
		Parts:                  parts,
		ClarificationQuestions: questions,
		Summary:                r.Summary,
		Markdown:               r.Markdown,
		SourcesUsed:            sources,
		HasGaps:                len(questions) > 0,
	}
}

// Helper runs parts lookups.
//
// # Thread Safety
//
// Safe for concurrent use.
type Helper struct {
	retriever retrieval.Retriever
	client    llm.StructuredClient
}

// New validates the collaborators and returns a Helper.
func New(cfg Config) (*Helper, error) {
	if cfg.Retriever == nil {
		return nil, errors.New("partshelper: retriever is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("partshelper: llm client is required")
	}
	return &Helper{retriever: cfg.Retriever, client: cfg.Client}, nil
}

// Lookup runs the four lookup steps in order.
//
// # Outputs
//
//   - *Result: parts, clarification questions and rendered markdown. A
//     retrieval failure is logged and the lookup continues without
//     documentation.
//   - error: ErrMissingQuery, or ErrGenerationFailed (wrapped) when the LLM
//     call fails.
func (h *Helper) Lookup(ctx context.Context, in Input) (*Result, error) {
	ctx, span := tracer.Start(ctx, "partshelper.Lookup")
	defer span.End()

	if strings.TrimSpace(in.Query) == "" {
		span.SetStatus(codes.Error, ErrMissingQuery.Error())
		return nil, ErrMissingQuery
	}

	res := &Result{Devices: parseQuery(in)}
	res.Chunks = h.retrieveDocs(ctx, in.Query, res.Devices)

	if err := h.generateParts(ctx, in, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parts generation failed")
		return nil, err
	}
	res.Markdown = RenderMarkdown(res)

	span.SetAttributes(
		attribute.StringSlice("parts.devices", res.Devices),
		attribute.Int("parts.count", len(res.Parts)),
		attribute.Int("parts.clarifications", len(res.ClarificationQuestions)),
	)
	return res, nil
}

// =============================================================================
// Steps
// =============================================================================

// parseQuery resolves the target devices: the explicit device type, else the
// types detected in the query, else every system in the profile.
func parseQuery(in Input) []string {
	if dt := normalizeDeviceType(in.DeviceType); dt != "" {
		slog.Info("parts query: explicit device type", "device_type", dt)
		return []string{dt}
	}
	if detected := retrieval.DetectDeviceTypes(in.Query); len(detected) > 0 {
		slog.Info("parts query: detected devices", "devices", detected)
		return detected
	}
	if in.Profile != nil && len(in.Profile.Systems) > 0 {
		devices := make([]string, 0, len(in.Profile.Systems))
		for dt := range in.Profile.Systems {
			devices = append(devices, dt)
		}
		slices.Sort(devices)
		slog.Info("parts query: broad query, using profile devices", "devices", devices)
		return devices
	}
	slog.Warn("parts query: no devices detected and no profile systems")
	return nil
}

func (h *Helper) retrieveDocs(ctx context.Context, query string, devices []string) []datatypes.RetrievedChunk {
	ctx, span := tracer.Start(ctx, "partshelper.retrieve_docs")
	defer span.End()

	nodes, err := h.retriever.Retrieve(ctx, query+queryAugmentation, devices)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		slog.Error("parts retrieval failed, continuing without documentation", "error", err)
		return []datatypes.RetrievedChunk{}
	}
	chunks := make([]datatypes.RetrievedChunk, len(nodes))
	for i, n := range nodes {
		chunks[i] = n.Chunk()
	}
	span.SetAttributes(attribute.Int("parts.chunks", len(chunks)))
	return chunks
}

func (h *Helper) generateParts(ctx context.Context, in Input, res *Result) error {
	ctx, span := tracer.Start(ctx, "partshelper.generate_parts_list")
	defer span.End()

	var resp partsResponse
	err := h.client.CompleteStructured(ctx, llm.StructuredRequest{
		Operation:    "parts",
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt(in.Query, res.Devices, in.Profile, res.Chunks),
		SchemaName:   "parts_lookup",
		Temperature:  0.2,
		MaxTokens:    4000,
	}, &resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		slog.Error("parts generation failed", "error", err)
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	res.Parts = normalizeParts(resp.Parts)
	res.ClarificationQuestions = normalizeQuestions(resp.ClarificationQuestions)
	res.Summary = resp.Summary
	slog.Info("generated parts recommendations",
		"parts", len(res.Parts), "clarifications", len(res.ClarificationQuestions))
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// normalizeParts enforces the confidence rules on generated parts. An
// unknown confidence becomes uncertain, an uncertain part loses its part
// number, and a confirmed part without a source is downgraded to likely.
func normalizeParts(in []datatypes.PartRecommendation) []datatypes.PartRecommendation {
	out := make([]datatypes.PartRecommendation, 0, len(in))
	for _, p := range in {
		if strings.TrimSpace(p.PartName) == "" {
			continue
		}
		p.Confidence = datatypes.ConfidenceLevel(strings.ToLower(strings.TrimSpace(string(p.Confidence))))
		if !p.Confidence.Valid() {
			p.Confidence = datatypes.ConfidenceUncertain
		}
		if p.Confidence == datatypes.ConfidenceConfirmed && strings.TrimSpace(p.SourceDoc) == "" {
			p.Confidence = datatypes.ConfidenceLikely
		}
		if p.Confidence == datatypes.ConfidenceUncertain {
			p.PartNumber = ""
		}
		p.DeviceType = normalizeDeviceType(p.DeviceType)
		out = append(out, p)
	}
	return out
}

// normalizeQuestions fills missing ids with cq1, cq2, ...
func normalizeQuestions(in []datatypes.ClarificationQuestion) []datatypes.ClarificationQuestion {
	out := make([]datatypes.ClarificationQuestion, len(in))
	for i, q := range in {
		if strings.TrimSpace(q.ID) == "" {
			q.ID = fmt.Sprintf("cq%d", i+1)
		}
		out[i] = q
	}
	return out
}

func normalizeDeviceType(deviceType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(deviceType)), " ", "_")
}
