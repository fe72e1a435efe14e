// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating calls to collaborators (retrieval, LLM, house profile)
//   - Applying the evidence and citation rules to generated answers
//   - Mapping workflow outcomes to typed results and sentinel errors
//
// Dependencies are injected via constructors and every method accepts a
// context for cancellation and tracing.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
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

// answerTracer is the OpenTelemetry tracer for AnswerPipeline operations.
var answerTracer = otel.Tracer("homeops.orchestrator.services.answer")

// InsufficientEvidenceAnswer is returned without calling the LLM when the
// retrieved documentation does not support an answer.
const InsufficientEvidenceAnswer = "I don't have enough information in the available documentation " +
	"to answer this question safely. Please consult the manufacturer's manual or a qualified " +
	"professional."

// ErrInsufficientEvidence marks an answer that was withheld by the evidence
// gate. It is a designed outcome, not a failure.
var ErrInsufficientEvidence = errors.New("insufficient evidence to answer")

// =============================================================================
// Result kinds
// =============================================================================

// ResultKind classifies the outcome of an Ask call.
type ResultKind string

const (
	// ResultSuccess means the LLM answered from sufficient evidence.
	ResultSuccess ResultKind = "success"

	// ResultInsufficientEvidence means the gate withheld the answer and the
	// fixed fallback was returned.
	ResultInsufficientEvidence ResultKind = "insufficient_evidence"

	// ResultError means a collaborator failed. Response is empty.
	ResultError ResultKind = "error"
)

// AskResult is the typed outcome of AnswerPipeline.Ask.
type AskResult struct {
	Kind     ResultKind
	Response datatypes.AskResponse

	// Err is set for ResultError and is ErrInsufficientEvidence for
	// ResultInsufficientEvidence.
	Err error
}

// =============================================================================
// Evidence gate
// =============================================================================

// HasSufficientEvidence reports whether nodes support an answer.
//
// # Description
//
// Nodes are ordered by descending score so only the first is inspected.
// Bi-encoder certainties live in [0,1] and are compared to minRelevance.
// Cross-encoder logits are unbounded, so with reranking a positive top score
// is required instead.
//
// # Outputs
//
//   - bool: false for an empty slice.
func HasSufficientEvidence(nodes []retrieval.Node, rerankEnabled bool, minRelevance float64) bool {
	if len(nodes) == 0 {
		return false
	}
	top := nodes[0].Score
	if rerankEnabled {
		return top > 0
	}
	return top >= minRelevance
}

// =============================================================================
// Citations
// =============================================================================

// SourceRef is the metadata of one numbered source shown to the LLM.
type SourceRef struct {
	FileName   string
	DeviceName string
}

// Label is the enriched citation source: "file - device", or just the file
// name when the device is unknown.
func (r SourceRef) Label() string {
	if r.DeviceName == "" {
		return r.FileName
	}
	return r.FileName + " - " + r.DeviceName
}

// SourceMapping maps 1-based source numbers to their metadata.
type SourceMapping map[int]SourceRef

// BuildSourceMapping numbers nodes from 1 in retrieval order. A missing file
// name becomes "Unknown", matching the label shown in FormatContexts.
func BuildSourceMapping(nodes []retrieval.Node) SourceMapping {
	m := make(SourceMapping, len(nodes))
	for i, n := range nodes {
		m[i+1] = SourceRef{FileName: n.Chunk().Source, DeviceName: n.Metadata.DeviceName}
	}
	return m
}

var sourceIndexPattern = regexp.MustCompile(`(?i)\bSource\s+(\d+)\b`)

// MatchCitation finds the retrieved source a citation refers to.
//
// # Description
//
// A "Source N" or "[Source N]" reference that resolves against the mapping
// wins over any file name in the same string. Otherwise, including when N is
// out of range, the first source in number order whose file name is
// contained in the citation source matches.
func MatchCitation(c datatypes.Citation, mapping SourceMapping) (SourceRef, bool) {
	if m := sourceIndexPattern.FindStringSubmatch(c.Source); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if ref, ok := mapping[n]; ok {
				return ref, true
			}
		}
	}
	for i := 1; i <= len(mapping); i++ {
		ref, ok := mapping[i]
		if !ok || ref.FileName == "" {
			continue
		}
		if strings.Contains(c.Source, ref.FileName) {
			return ref, true
		}
	}
	return SourceRef{}, false
}

// EnrichCitations keeps the citations that match a retrieved source and
// rewrites their source to the enriched label. Page, section and quote are
// kept as the LLM produced them.
//
// # Outputs
//
//   - []datatypes.Citation: matched citations in input order, never nil.
//   - []datatypes.Citation: dropped citations, unchanged.
func EnrichCitations(citations []datatypes.Citation, mapping SourceMapping) (kept, dropped []datatypes.Citation) {
	kept = make([]datatypes.Citation, 0, len(citations))
	for _, c := range citations {
		ref, ok := MatchCitation(c, mapping)
		if !ok {
			dropped = append(dropped, c)
			continue
		}
		c.Source = ref.Label()
		kept = append(kept, c)
	}
	return kept, dropped
}

// FormatContexts renders nodes as numbered sources for the LLM prompt.
func FormatContexts(nodes []retrieval.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		file := n.Metadata.FileName
		if file == "" {
			file = "Unknown"
		}
		device := n.Metadata.DeviceName
		if device == "" {
			device = "Unknown device"
		}
		parts[i] = fmt.Sprintf("[Source %d: %s - %s]\n%s\n", i+1, file, device, n.Text)
	}
	return strings.Join(parts, "\n---\n")
}

// =============================================================================
// AnswerPipeline
// =============================================================================

// answerSystemPrompt is the /ask system prompt.
const answerSystemPrompt = `You are a home maintenance assistant. Answer questions about home maintenance, troubleshooting, and repairs.

IMPORTANT RULES:
1. Assess risk level for every question:
   - LOW: Safe for any homeowner to do themselves
   - MED: Requires some caution or basic skills
   - HIGH: Involves gas, electrical, structural, or safety-critical work

2. If risk is HIGH, you MUST recommend calling a licensed professional (electrician, plumber, HVAC tech, etc.)

3. Be concise and actionable - homeowners want clear steps, not essays

4. If you don't have enough information to answer safely, say so - never guess on safety-critical topics

5. Base your answer on the provided document excerpts. Cite them as "Source N" using the numbers shown. Never cite or fabricate a source that is not listed.
` + llm.InjectionGuard

// answerResponse is the /ask generation schema.
type answerResponse struct {
	Answer    string               `json:"answer" description:"Concise, actionable answer to the question"`
	RiskLevel datatypes.RiskLevel  `json:"risk_level" enum:"LOW,MED,HIGH" description:"Risk level of the advice"`
	Reasoning string               `json:"reasoning" description:"Brief explanation of the risk level"`
	Citations []datatypes.Citation `json:"citations" description:"Sources backing the answer, as Source N"`
}

// AnswerConfig holds the AnswerPipeline collaborators and settings.
type AnswerConfig struct {
	Retriever retrieval.Retriever
	Client    llm.StructuredClient

	RerankEnabled bool
	MinRelevance  float64
	Temperature   float32
	MaxTokens     int

	// Metrics and Audit are optional.
	Metrics *observability.Metrics
	Audit   extensions.AuditLogger
}

// AnswerPipeline answers single-shot questions from retrieved documentation.
//
// # Description
//
// Ask detects device types, retrieves, applies the evidence gate, makes
// one LLM call and drops citations that do not match a retrieved source.
// The LLM is never called when the gate fails.
//
// # Thread Safety
//
// Safe for concurrent use. The pipeline holds no per-request state.
type AnswerPipeline struct {
	retriever     retrieval.Retriever
	client        llm.StructuredClient
	rerankEnabled bool
	minRelevance  float64
	temperature   float32
	maxTokens     int
	metrics       *observability.Metrics
	audit         extensions.AuditLogger
}

// NewAnswerPipeline validates the collaborators and returns a pipeline.
func NewAnswerPipeline(cfg AnswerConfig) (*AnswerPipeline, error) {
	if cfg.Retriever == nil {
		return nil, errors.New("answer pipeline: retriever is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("answer pipeline: llm client is required")
	}
	audit := cfg.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &AnswerPipeline{
		retriever:     cfg.Retriever,
		client:        cfg.Client,
		rerankEnabled: cfg.RerankEnabled,
		minRelevance:  cfg.MinRelevance,
		temperature:   cfg.Temperature,
		maxTokens:     maxTokens,
		metrics:       cfg.Metrics,
		audit:         audit,
	}, nil
}

// Ask answers a home-maintenance question.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - question: The homeowner's question, already validated.
//
// # Outputs
//
//   - AskResult: ResultSuccess with enriched citations and the node texts as
//     contexts; ResultInsufficientEvidence with the fixed fallback answer,
//     LOW risk and no citations or contexts; ResultError when retrieval or
//     the LLM failed.
func (p *AnswerPipeline) Ask(ctx context.Context, question string) AskResult {
	ctx, span := answerTracer.Start(ctx, "AnswerPipeline.Ask")
	defer span.End()

	deviceTypes := retrieval.DetectDeviceTypes(question)
	span.SetAttributes(attribute.StringSlice("ask.device_types", deviceTypes))

	nodes, err := p.retriever.Retrieve(ctx, question, deviceTypes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		slog.Error("ask retrieval failed", "error", err)
		return AskResult{Kind: ResultError, Err: fmt.Errorf("retrieve: %w", err)}
	}
	span.SetAttributes(attribute.Int("ask.nodes", len(nodes)))

	sufficient := HasSufficientEvidence(nodes, p.rerankEnabled, p.minRelevance)
	p.metrics.RecordEvidenceGate(sufficient)
	if !sufficient {
		span.SetAttributes(attribute.Bool("ask.insufficient_evidence", true))
		slog.Info("insufficient evidence, skipping generation", "nodes", len(nodes))
		return AskResult{
			Kind:     ResultInsufficientEvidence,
			Response: InsufficientEvidenceResponse(),
			Err:      ErrInsufficientEvidence,
		}
	}

	var resp answerResponse
	err = p.client.CompleteStructured(ctx, llm.StructuredRequest{
		Operation:    "answer",
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   answerUserPrompt(question, nodes),
		SchemaName:   "answer",
		Temperature:  p.temperature,
		MaxTokens:    p.maxTokens,
	}, &resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		slog.Error("ask generation failed", "error", err)
		return AskResult{Kind: ResultError, Err: fmt.Errorf("generate answer: %w", err)}
	}

	kept, dropped := EnrichCitations(resp.Citations, BuildSourceMapping(nodes))
	p.metrics.RecordCitations(len(kept), len(dropped))
	if len(dropped) > 0 {
		p.reportDropped(ctx, dropped)
	}

	risk := resp.RiskLevel
	if !risk.Valid() {
		risk = datatypes.RiskMed
	}
	contexts := make([]string, len(nodes))
	for i, n := range nodes {
		contexts[i] = n.Text
	}
	span.SetAttributes(
		attribute.String("ask.risk_level", string(risk)),
		attribute.Int("ask.citations_kept", len(kept)),
		attribute.Int("ask.citations_dropped", len(dropped)),
	)
	return AskResult{
		Kind: ResultSuccess,
		Response: datatypes.AskResponse{
			Answer:    resp.Answer,
			Citations: kept,
			RiskLevel: risk,
			Contexts:  contexts,
		},
	}
}

// InsufficientEvidenceResponse is the fixed response for a failed gate.
func InsufficientEvidenceResponse() datatypes.AskResponse {
	return datatypes.AskResponse{
		Answer:    InsufficientEvidenceAnswer,
		Citations: []datatypes.Citation{},
		RiskLevel: datatypes.RiskLow,
		Contexts:  []string{},
	}
}

func (p *AnswerPipeline) reportDropped(ctx context.Context, dropped []datatypes.Citation) {
	sources := make([]string, len(dropped))
	for i, c := range dropped {
		sources[i] = c.Source
	}
	slog.Warn("dropped citations that match no retrieved source", "count", len(dropped), "sources", sources)
	err := p.audit.Log(ctx, extensions.AuditEvent{
		EventType:    extensions.EventCitationDropped,
		Action:       "ask",
		ResourceType: "answer",
		Outcome:      "dropped",
		Metadata:     map[string]any{"sources": sources},
	})
	if err != nil {
		slog.Warn("audit log failed", "error", err)
	}
}

func answerUserPrompt(question string, nodes []retrieval.Node) string {
	var b strings.Builder
	b.WriteString("Relevant documentation:\n\n")
	b.WriteString(FormatContexts(nodes))
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(llm.Untrusted("user_question", question))
	b.WriteString("\n\nAnswer using only the documentation above and cite sources as Source N.")
	return b.String()
}
