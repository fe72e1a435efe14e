// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ResilienceOptions configures a ResilientClient.
type ResilienceOptions struct {
	// Timeout bounds each individual attempt. Zero disables the per-attempt
	// deadline.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the first backoff; it doubles after every retry.
	// Defaults to one second.
	InitialDelay time.Duration

	// RequestsPerSecond caps outbound calls. Zero means unlimited.
	RequestsPerSecond float64

	// Observe, when set, is called once per logical call with the total
	// duration and final error.
	Observe func(operation string, elapsed time.Duration, err error)
}

// ResilientClient wraps a StructuredClient with rate limiting, per-attempt
// timeouts and exponential-backoff retries.
type ResilientClient struct {
	next    StructuredClient
	opts    ResilienceOptions
	limiter *rate.Limiter
}

var _ StructuredClient = (*ResilientClient)(nil)

// NewResilientClient wraps next. InitialDelay defaults to one second, a
// negative MaxRetries means no retries, and a zero RequestsPerSecond
// disables rate limiting.
func NewResilientClient(next StructuredClient, opts ResilienceOptions) *ResilientClient {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &ResilientClient{next: next, opts: opts, limiter: limiter}
}

// CompleteStructured implements StructuredClient.
func (r *ResilientClient) CompleteStructured(ctx context.Context, req StructuredRequest, out any) (err error) {
	start := time.Now()
	defer func() {
		if r.opts.Observe != nil {
			r.opts.Observe(req.Operation, time.Since(start), err)
		}
	}()

	span := trace.SpanFromContext(ctx)
	delay := r.opts.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			span.AddEvent("retry_attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("operation", req.Operation),
			))
			slog.Warn("Retrying LLM call",
				"operation", req.Operation,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("llm %s cancelled during retry: %w", req.Operation, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("llm %s rate limit wait: %w", req.Operation, err)
		}

		lastErr = r.attempt(ctx, req, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("llm %s failed after %d attempts: %w", req.Operation, r.opts.MaxRetries+1, lastErr)
}

func (r *ResilientClient) attempt(ctx context.Context, req StructuredRequest, out any) error {
	if r.opts.Timeout <= 0 {
		return r.next.CompleteStructured(ctx, req, out)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	return r.next.CompleteStructured(attemptCtx, req, out)
}

// IsRetryable reports whether err is worth another attempt: throttling or
// upstream provider failures, per-attempt timeouts, network timeouts, and
// responses that failed schema validation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
