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
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homeops/services/orchestrator/observability"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []searchRequest
	filtered []Node
	all      []Node
	err      error
}

func (f *fakeBackend) search(_ context.Context, req searchRequest) ([]Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	src := f.all
	if len(req.DeviceTypes) > 0 {
		src = f.filtered
	}
	out := append([]Node(nil), src...)
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func node(file string, score float64) Node {
	return Node{Text: "text of " + file, Metadata: Metadata{FileName: file, DeviceType: "furnace"}, Score: score}
}

func newTestRetriever(backend *fakeBackend, opts Options) (*WeaviateRetriever, *atomic.Int32) {
	var connects atomic.Int32
	connect := func(context.Context) (searchBackend, error) {
		connects.Add(1)
		return backend, nil
	}
	return newRetriever(connect, &fakeEmbedder{}, opts, nil), &connects
}

// =============================================================================
// Retrieval strategy
// =============================================================================

func TestRetrieve_FilteredResultUsed(t *testing.T) {
	backend := &fakeBackend{
		filtered: []Node{node("furnace.pdf", 0.8), node("furnace-2.pdf", 0.6)},
		all:      []Node{node("other.pdf", 0.9)},
	}
	r, _ := newTestRetriever(backend, Options{TopK: 5, MinRelevance: 0.3})

	nodes, err := r.Retrieve(context.Background(), "no heat", []string{"furnace"})
	require.NoError(t, err)

	require.Len(t, nodes, 2)
	assert.Equal(t, "furnace.pdf", nodes[0].Metadata.FileName)
	require.Len(t, backend.requests, 1)
	assert.Equal(t, []string{"furnace"}, backend.requests[0].DeviceTypes)
	assert.Equal(t, 5, backend.requests[0].Limit)
}

func TestRetrieve_FallsBackWhenFilteredEmpty(t *testing.T) {
	backend := &fakeBackend{all: []Node{node("general.pdf", 0.7)}}
	r, _ := newTestRetriever(backend, Options{TopK: 5, MinRelevance: 0.3})

	nodes, err := r.Retrieve(context.Background(), "no heat", []string{"furnace", "thermostat"})
	require.NoError(t, err)

	require.Len(t, nodes, 1)
	assert.Equal(t, "general.pdf", nodes[0].Metadata.FileName)
	require.Len(t, backend.requests, 2)
	assert.Equal(t, []string{"furnace", "thermostat"}, backend.requests[0].DeviceTypes)
	assert.Nil(t, backend.requests[1].DeviceTypes)
}

func TestRetrieve_FallsBackWhenFilteredWeak(t *testing.T) {
	backend := &fakeBackend{
		filtered: []Node{node("weak.pdf", 0.1)},
		all:      []Node{node("strong.pdf", 0.6)},
	}
	r, _ := newTestRetriever(backend, Options{TopK: 5, MinRelevance: 0.3})

	nodes, err := r.Retrieve(context.Background(), "q", []string{"furnace"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "strong.pdf", nodes[0].Metadata.FileName)
}

func TestRetrieve_NoDeviceTypesSearchesOnce(t *testing.T) {
	backend := &fakeBackend{all: []Node{node("a.pdf", 0.5)}}
	r, _ := newTestRetriever(backend, Options{TopK: 3})

	_, err := r.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, backend.requests, 1)
	assert.Nil(t, backend.requests[0].DeviceTypes)
}

func TestRetrieve_RerankOverFetchesAndTrims(t *testing.T) {
	backend := &fakeBackend{all: []Node{
		node("a.pdf", -1.2), node("b.pdf", 3.4), node("c.pdf", 0.5),
		node("d.pdf", 2.0), node("e.pdf", -0.1), node("f.pdf", 1.1),
	}}
	r, _ := newTestRetriever(backend, Options{TopK: 3, RerankEnabled: true, RerankTopN: 2})

	nodes, err := r.Retrieve(context.Background(), "filter size", nil)
	require.NoError(t, err)

	require.Len(t, backend.requests, 1)
	assert.Equal(t, 6, backend.requests[0].Limit, "rerank fetches top_k * 2")
	assert.True(t, backend.requests[0].Rerank)
	assert.Equal(t, "filter size", backend.requests[0].Query)

	require.Len(t, nodes, 2)
	assert.Equal(t, "b.pdf", nodes[0].Metadata.FileName)
	assert.Equal(t, "d.pdf", nodes[1].Metadata.FileName)
}

func TestRetrieve_RerankWeaknessIsNonPositiveLogit(t *testing.T) {
	backend := &fakeBackend{
		filtered: []Node{node("neg.pdf", -0.5)},
		all:      []Node{node("pos.pdf", 0.2)},
	}
	r, _ := newTestRetriever(backend, Options{TopK: 2, MinRelevance: 0.9, RerankEnabled: true, RerankTopN: 2})

	nodes, err := r.Retrieve(context.Background(), "q", []string{"furnace"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "pos.pdf", nodes[0].Metadata.FileName, "0.2 is strong for a logit even though below MinRelevance")
}

// =============================================================================
// Errors
// =============================================================================

func TestRetrieve_Errors(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		connect := func(context.Context) (searchBackend, error) { return nil, errors.New("refused") }
		r := newRetriever(connect, &fakeEmbedder{}, Options{}, nil)
		_, err := r.Retrieve(context.Background(), "q", nil)

		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "connect", rerr.Op)
	})

	t.Run("embed", func(t *testing.T) {
		connect := func(context.Context) (searchBackend, error) { return &fakeBackend{}, nil }
		r := newRetriever(connect, &fakeEmbedder{err: errors.New("quota")}, Options{}, nil)
		_, err := r.Retrieve(context.Background(), "q", nil)

		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "embed", rerr.Op)
		assert.Contains(t, err.Error(), "quota")
	})

	t.Run("search", func(t *testing.T) {
		r, _ := newTestRetriever(&fakeBackend{err: errors.New("timeout")}, Options{})
		_, err := r.Retrieve(context.Background(), "q", []string{"furnace"})

		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "search", rerr.Op)
	})
}

// =============================================================================
// Lazy initialization
// =============================================================================

func TestRetrieve_ConnectsOnceUnderConcurrency(t *testing.T) {
	backend := &fakeBackend{all: []Node{node("a.pdf", 0.5)}}
	r, connects := newTestRetriever(backend, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Retrieve(context.Background(), "q", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), connects.Load())
}

func TestInvalidate_Reconnects(t *testing.T) {
	backend := &fakeBackend{all: []Node{node("a.pdf", 0.5)}}
	r, connects := newTestRetriever(backend, Options{})

	_, err := r.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), connects.Load())

	r.Invalidate()
	_, err = r.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), connects.Load())
}

func TestRetrieve_FailedConnectIsRetried(t *testing.T) {
	var attempts atomic.Int32
	connect := func(context.Context) (searchBackend, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("not ready")
		}
		return &fakeBackend{}, nil
	}
	r := newRetriever(connect, &fakeEmbedder{}, Options{}, nil)

	_, err := r.Retrieve(context.Background(), "q", nil)
	require.Error(t, err)
	_, err = r.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

// =============================================================================
// Metrics and helpers
// =============================================================================

func TestRetrieve_RecordsOutcome(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	backend := &fakeBackend{all: []Node{node("a.pdf", 0.5)}}
	connect := func(context.Context) (searchBackend, error) { return backend, nil }
	r := newRetriever(connect, &fakeEmbedder{}, Options{MinRelevance: 0.3}, metrics)

	_, err := r.Retrieve(context.Background(), "q", []string{"hrv"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RetrievalTotal.WithLabelValues(outcomeFallback)))
}

func TestNode_Chunk(t *testing.T) {
	chunk := Node{Text: "t", Metadata: Metadata{DeviceType: "hrv"}, Score: 0.4}.Chunk()
	assert.Equal(t, "Unknown", chunk.Source)
	assert.Equal(t, "hrv", chunk.DeviceType)
	assert.InDelta(t, 0.4, chunk.Score, 1e-9)
}

func TestRerankField_EscapesQuery(t *testing.T) {
	field := rerankField(`what "size" filter?`)
	assert.Equal(t, `rerank(property: "content" query: "what \"size\" filter?") { score }`, field)
}

func TestDeviceFilter(t *testing.T) {
	assert.Nil(t, deviceFilter(nil))
	assert.NotNil(t, deviceFilter([]string{"furnace"}))
	assert.NotNil(t, deviceFilter([]string{"furnace", "hrv"}))
}

func TestNewWeaviateRetriever_Validation(t *testing.T) {
	_, err := NewWeaviateRetriever(WeaviateConfig{URL: "http://localhost:8080"}, nil, Options{}, nil)
	assert.Error(t, err)

	_, err = NewWeaviateRetriever(WeaviateConfig{URL: "::not a url"}, &fakeEmbedder{}, Options{}, nil)
	assert.Error(t, err)

	r, err := NewWeaviateRetriever(WeaviateConfig{URL: "http://localhost:8080"}, &fakeEmbedder{}, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, r.opts.TopK)
}
