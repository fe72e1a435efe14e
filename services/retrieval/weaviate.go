// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/orchestrator/observability"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("homeops.retrieval")

// Retrieval outcomes reported to metrics.
const (
	outcomeFiltered   = "filtered"
	outcomeUnfiltered = "unfiltered"
	outcomeFallback   = "unfiltered_fallback"
	outcomeEmpty      = "empty"
	outcomeError      = "error"
)

// searchRequest is one vector query against the index.
type searchRequest struct {
	Vector      []float32
	Query       string
	DeviceTypes []string
	Limit       int
	Rerank      bool
}

// searchBackend executes vector queries. The Weaviate implementation is the
// only production one; tests substitute a fake.
type searchBackend interface {
	search(ctx context.Context, req searchRequest) ([]Node, error)
}

// connectFunc creates a backend. Called at most once per generation.
type connectFunc func(ctx context.Context) (searchBackend, error)

// =============================================================================
// WeaviateRetriever
// =============================================================================

// WeaviateRetriever is the Retriever backed by a Weaviate class.
//
// # Description
//
// The Weaviate connection (and schema check) happens on the first Retrieve,
// not at construction, so the API can start before Weaviate is up.
// Concurrent first calls share one connection attempt. Invalidate drops the
// connection; the next Retrieve reconnects.
//
// # Retrieval Strategy
//
//  1. Embed the query.
//  2. With device types, search with an OR filter on device_type.
//  3. If that returns nothing, or its best score is weak (below
//     MinRelevance, or not above 0 when reranking), search unfiltered.
//  4. With reranking, fetch TopK*2 candidates and keep RerankTopN.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateRetriever struct {
	opts     Options
	embedder llm.Embedder
	connect  connectFunc
	metrics  *observability.Metrics

	group      singleflight.Group
	mu         sync.RWMutex
	backend    searchBackend
	generation uint64
}

// WeaviateConfig locates the documentation class.
type WeaviateConfig struct {
	// URL is the Weaviate base URL, e.g. http://localhost:8080.
	URL string

	// ClassName defaults to datatypes.DefaultHomeDocumentClass.
	ClassName string
}

// NewWeaviateRetriever returns a lazily connecting retriever.
func NewWeaviateRetriever(cfg WeaviateConfig, embedder llm.Embedder, opts Options, metrics *observability.Metrics) (*WeaviateRetriever, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("retrieval: invalid weaviate url %q", cfg.URL)
	}
	className := cfg.ClassName
	if className == "" {
		className = datatypes.DefaultHomeDocumentClass
	}

	connect := func(ctx context.Context) (searchBackend, error) {
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   parsed.Host,
			Scheme: parsed.Scheme,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
		}
		if err := datatypes.EnsureWeaviateSchema(ctx, client, className); err != nil {
			return nil, err
		}
		return &weaviateBackend{client: client, className: className}, nil
	}
	return newRetriever(connect, embedder, opts, metrics), nil
}

func newRetriever(connect connectFunc, embedder llm.Embedder, opts Options, metrics *observability.Metrics) *WeaviateRetriever {
	return &WeaviateRetriever{
		opts:     opts.withDefaults(),
		embedder: embedder,
		connect:  connect,
		metrics:  metrics,
	}
}

// Retrieve implements Retriever.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, deviceTypes []string) ([]Node, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.StringSlice("retrieval.device_types", deviceTypes),
		attribute.Bool("retrieval.rerank", r.opts.RerankEnabled),
	)

	nodes, outcome, err := r.retrieve(ctx, query, deviceTypes)
	r.metrics.RecordRetrieval(outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("retrieval failed", "error", err, "device_types", deviceTypes)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("retrieval.outcome", outcome),
		attribute.Int("retrieval.nodes", len(nodes)),
	)
	if len(nodes) > 0 {
		slog.Info("retrieved chunks", "count", len(nodes), "top_score", nodes[0].Score, "outcome", outcome)
	} else {
		slog.Warn("no chunks retrieved", "device_types", deviceTypes)
	}
	return nodes, nil
}

func (r *WeaviateRetriever) retrieve(ctx context.Context, query string, deviceTypes []string) ([]Node, string, error) {
	backend, err := r.handle(ctx)
	if err != nil {
		return nil, outcomeError, &Error{Op: "connect", Err: err}
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, outcomeError, &Error{Op: "embed", Err: err}
	}

	req := searchRequest{
		Vector: vector,
		Query:  query,
		Limit:  r.opts.fetchLimit(),
		Rerank: r.opts.RerankEnabled,
	}

	outcome := outcomeUnfiltered
	if len(deviceTypes) > 0 {
		req.DeviceTypes = deviceTypes
		nodes, err := backend.search(ctx, req)
		if err != nil {
			return nil, outcomeError, &Error{Op: "search", Err: err}
		}
		nodes = r.finish(nodes)
		if !r.opts.weak(nodes) {
			return nodes, outcomeFiltered, nil
		}
		slog.Info("filtered retrieval weak, retrying unfiltered",
			"device_types", deviceTypes, "filtered_count", len(nodes))
		req.DeviceTypes = nil
		outcome = outcomeFallback
	}

	nodes, err := backend.search(ctx, req)
	if err != nil {
		return nil, outcomeError, &Error{Op: "search", Err: err}
	}
	nodes = r.finish(nodes)
	if len(nodes) == 0 {
		outcome = outcomeEmpty
	}
	return nodes, outcome, nil
}

// finish orders nodes by descending score and trims to the keep count.
func (r *WeaviateRetriever) finish(nodes []Node) []Node {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Score > nodes[j].Score })
	if keep := r.opts.keep(); len(nodes) > keep {
		nodes = nodes[:keep]
	}
	return nodes
}

// handle returns the backend, connecting on first use.
func (r *WeaviateRetriever) handle(ctx context.Context) (searchBackend, error) {
	r.mu.RLock()
	backend, gen := r.backend, r.generation
	r.mu.RUnlock()
	if backend != nil {
		return backend, nil
	}

	v, err, _ := r.group.Do("backend", func() (any, error) {
		r.mu.RLock()
		if r.backend != nil {
			b := r.backend
			r.mu.RUnlock()
			return b, nil
		}
		r.mu.RUnlock()

		b, err := r.connect(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		// An Invalidate during the connect wins; the fresh handle is
		// still returned to this caller but not cached.
		if r.generation == gen {
			r.backend = b
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(searchBackend), nil
}

// Invalidate drops the cached connection. The next Retrieve reconnects.
func (r *WeaviateRetriever) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend = nil
	r.generation++
	r.group.Forget("backend")
}

var _ Retriever = (*WeaviateRetriever)(nil)

// =============================================================================
// Weaviate backend
// =============================================================================

type weaviateBackend struct {
	client    *weaviate.Client
	className string
}

func (b *weaviateBackend) search(ctx context.Context, req searchRequest) ([]Node, error) {
	additional := []graphql.Field{{Name: "id"}, {Name: "certainty"}, {Name: "distance"}}
	if req.Rerank {
		additional = append(additional, graphql.Field{Name: rerankField(req.Query)})
	}
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "file_name"},
		{Name: "device_type"},
		{Name: "device_name"},
		{Name: "manufacturer"},
		{Name: "_additional", Fields: additional},
	}

	nearVector := b.client.GraphQL().NearVectorArgBuilder().WithVector(req.Vector)
	query := b.client.GraphQL().Get().
		WithClassName(b.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(req.Limit)
	if where := deviceFilter(req.DeviceTypes); where != nil {
		query = query.WithWhere(where)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("weaviate query: %s", resp.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.HomeDocumentQueryResponse](resp)
	if err != nil {
		return nil, err
	}
	results := parsed.Get[b.className]
	nodes := make([]Node, 0, len(results))
	for _, res := range results {
		nodes = append(nodes, Node{
			Text: res.Content,
			Metadata: Metadata{
				FileName:     res.FileName,
				DeviceType:   res.DeviceType,
				DeviceName:   res.DeviceName,
				Manufacturer: res.Manufacturer,
			},
			Score: res.Score(),
		})
	}
	return nodes, nil
}

// rerankField builds the _additional rerank selection. The query is JSON
// encoded, which is a valid GraphQL string literal.
func rerankField(query string) string {
	quoted, _ := json.Marshal(query)
	return fmt.Sprintf(`rerank(property: "content" query: %s) { score }`, quoted)
}

// deviceFilter returns an Equal filter for one device type, an OR of Equal
// filters for several, or nil for none.
func deviceFilter(deviceTypes []string) *filters.WhereBuilder {
	switch len(deviceTypes) {
	case 0:
		return nil
	case 1:
		return equalDevice(deviceTypes[0])
	}
	operands := make([]*filters.WhereBuilder, 0, len(deviceTypes))
	for _, dt := range deviceTypes {
		operands = append(operands, equalDevice(dt))
	}
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands(operands)
}

func equalDevice(deviceType string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"device_type"}).
		WithOperator(filters.Equal).
		WithValueText(deviceType)
}
