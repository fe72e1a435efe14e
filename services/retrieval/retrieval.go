// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval finds documentation chunks relevant to a homeowner's
// question or symptom.
//
// The vector index lives in Weaviate. Queries are embedded with an
// llm.Embedder, optionally restricted to device types, and optionally
// reranked by Weaviate's cross-encoder module. The connection is created
// lazily on first use and can be dropped with Invalidate.
package retrieval

import (
	"context"
	"fmt"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// Metadata is the per-chunk document metadata written at ingestion time.
// Missing properties decode as empty strings.
type Metadata struct {
	FileName     string `json:"file_name"`
	DeviceType   string `json:"device_type"`
	DeviceName   string `json:"device_name"`
	Manufacturer string `json:"manufacturer"`
}

// Node is one retrieved chunk with its relevance score. Without reranking
// the score is the bi-encoder certainty in [0,1]; with reranking it is the
// cross-encoder logit, which is unbounded and may be negative.
type Node struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
}

// Chunk converts the node to the workflow representation. A missing file
// name becomes "Unknown".
func (n Node) Chunk() datatypes.RetrievedChunk {
	source := n.Metadata.FileName
	if source == "" {
		source = "Unknown"
	}
	return datatypes.RetrievedChunk{
		Text:       n.Text,
		Source:     source,
		DeviceType: n.Metadata.DeviceType,
		Score:      n.Score,
	}
}

// Retriever returns nodes ordered by descending relevance. deviceTypes
// restricts the search when non-empty; nil means unfiltered.
type Retriever interface {
	Retrieve(ctx context.Context, query string, deviceTypes []string) ([]Node, error)
}

// Error is a retrieval failure. Op is the failing step: "connect", "embed"
// or "search".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options tunes a Retriever.
type Options struct {
	// TopK is the number of nodes returned without reranking.
	TopK int

	// MinRelevance is the bi-encoder score below which a filtered result is
	// considered weak enough to retry unfiltered.
	MinRelevance float64

	// RerankEnabled over-fetches TopK*2 candidates and keeps RerankTopN
	// after cross-encoder scoring.
	RerankEnabled bool
	RerankTopN    int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.RerankTopN <= 0 {
		o.RerankTopN = o.TopK
	}
	return o
}

// fetchLimit is the number of candidates requested from the index.
func (o Options) fetchLimit() int {
	if o.RerankEnabled {
		return o.TopK * 2
	}
	return o.TopK
}

// keep is the number of nodes returned to the caller.
func (o Options) keep() int {
	if o.RerankEnabled {
		return o.RerankTopN
	}
	return o.TopK
}

// weak reports whether a result set is too poor to trust. Cross-encoder
// logits are compared against 0 because they are not on the [0,1] scale.
func (o Options) weak(nodes []Node) bool {
	if len(nodes) == 0 {
		return true
	}
	if o.RerankEnabled {
		return nodes[0].Score <= 0
	}
	return nodes[0].Score < o.MinRelevance
}
