// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides structured-completion and embedding clients for the
// supported LLM backends (OpenAI, Anthropic, Ollama).
//
// Every backend turns a StructuredRequest plus a Go response type into a
// validated instance of that type. The JSON schema sent to the provider is
// generated from the response type's struct tags, and the provider output is
// validated against the same schema before it is decoded.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StructuredRequest describes one structured LLM call.
type StructuredRequest struct {
	// Operation labels the call for tracing and metrics
	// (e.g. "risk_assessment", "followups", "diagnosis", "answer").
	Operation string

	SystemPrompt string
	UserPrompt   string

	// SchemaName is the provider-facing name of the response schema.
	// Must match ^[a-zA-Z0-9_-]+$.
	SchemaName string

	Temperature float32
	MaxTokens   int
}

// StructuredClient completes a prompt into a typed response.
//
// out must be a non-nil pointer to a struct. Implementations must be safe
// for concurrent use.
type StructuredClient interface {
	CompleteStructured(ctx context.Context, req StructuredRequest, out any) error
}

// Embedder turns text into a dense vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderError is returned when an LLM provider answers with a failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// newProviderError builds a ProviderError, marking throttling and upstream
// failures as retryable.
func newProviderError(provider string, status int, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Retryable:  isRetryableStatusCode(status),
	}
}

func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
