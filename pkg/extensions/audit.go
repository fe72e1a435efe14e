// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit event types emitted by homeops.
const (
	EventSafetyStop       = "safety.stop"
	EventCitationDropped  = "citation.dropped"
	EventSessionCompleted = "session.completed"
)

// AuditEvent is a safety-relevant event.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    EventSafetyStop,
//	    Action:       "intake",
//	    ResourceType: "session",
//	    ResourceID:   sessionID,
//	    Outcome:      "blocked",
//	    Metadata: map[string]any{
//	        "layer":   1,
//	        "pattern": "gas_leak",
//	    },
//	}
type AuditEvent struct {
	// EventType is "category.action", see the Event* constants.
	EventType string

	// Timestamp defaults to time.Now().UTC() when zero.
	Timestamp time.Time

	UserID       string
	Action       string
	ResourceType string
	ResourceID   string

	// Outcome is one of "success", "blocked", "dropped", "error".
	Outcome string

	Metadata map[string]any
}

// AuditLogger records safety-relevant events.
//
// Log is called on the request path and must return quickly. Failures are
// logged by the caller and never change the response.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error

	// Flush persists buffered events. Called on shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }
func (l *NopAuditLogger) Flush(context.Context) error           { return nil }

// SlogAuditLogger writes each event as one structured log record under the
// "audit" group. Safety stops are logged at WARN, everything else at INFO.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger returns an audit logger writing to logger, or to
// slog.Default() when logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	level := slog.LevelInfo
	if event.EventType == EventSafetyStop {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if len(event.Metadata) > 0 {
		meta := make([]any, 0, len(event.Metadata))
		for k, v := range event.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}

	l.logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))
	return nil
}

func (l *SlogAuditLogger) Flush(context.Context) error { return nil }

// MemoryAuditLogger keeps events in memory. Useful in tests and for the
// CLI's local safety checks.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)
	return nil
}

func (l *MemoryAuditLogger) Flush(context.Context) error { return nil }

// Events returns a copy of the recorded events, oldest first.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEvent(nil), l.events...)
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
