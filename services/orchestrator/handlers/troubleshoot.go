// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the orchestrator API.
//
// Handlers bind and validate the request body, call a service, and map
// service errors to HTTP status codes. Every non-2xx body is a
// datatypes.ErrorResponse and never carries internal error text.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/orchestrator/middleware"
	"github.com/AleutianAI/homeops/services/orchestrator/observability"
	"github.com/AleutianAI/homeops/services/orchestrator/services"
	"github.com/AleutianAI/homeops/services/profile"
	"github.com/AleutianAI/homeops/services/troubleshooter"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("homeops.orchestrator.handlers")

const (
	msgInvalidBody      = "invalid request body"
	msgSessionNotFound  = "Session not found or expired. Start a new troubleshooting session."
	msgSafetyStopped    = "This session ended in a safety stop and cannot be diagnosed. Please contact a licensed professional."
	msgTroubleshootFail = "Troubleshooting failed. Please try again."
)

// Troubleshooter runs guided troubleshooting sessions.
type Troubleshooter interface {
	Start(ctx context.Context, req *datatypes.TroubleshootStartRequest) (*datatypes.TroubleshootStartResponse, error)
	Diagnose(ctx context.Context, req *datatypes.TroubleshootDiagnoseRequest) (*datatypes.TroubleshootDiagnoseResponse, error)
}

var _ Troubleshooter = (*services.TroubleshootService)(nil)

// HandleTroubleshootStart serves POST /troubleshoot/start.
//
// # Responses
//
//   - 200: datatypes.TroubleshootStartResponse, including safety stops.
//   - 400: malformed body or failed validation.
//   - 404: no house profile.
//   - 500: intake failed.
func HandleTroubleshootStart(svc Troubleshooter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			metrics.RecordRequest(observability.EndpointTroubleshootStart, c.Writer.Status(), time.Since(start))
		}()
		ctx, span := tracer.Start(c.Request.Context(), "HandleTroubleshootStart")
		defer span.End()

		var req datatypes.TroubleshootStartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bind failed")
			slog.Warn("failed to parse troubleshoot start request", "error", err)
			abortWithError(c, http.StatusBadRequest, msgInvalidBody)
			return
		}
		if err := req.Validate(); err != nil {
			span.SetStatus(codes.Error, "validation failed")
			abortWithError(c, http.StatusBadRequest, datatypes.ValidationMessage(err))
			return
		}

		resp, err := svc.Start(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "start failed")
			switch {
			case errors.Is(err, profile.ErrProfileNotFound):
				abortWithError(c, http.StatusNotFound, profile.NotFoundMessage)
			case errors.Is(err, troubleshooter.ErrMissingInput):
				abortWithError(c, http.StatusBadRequest, "device_type and symptom are required")
			default:
				slog.Error("troubleshoot start failed", "error", err, "request_id", middleware.GetRequestID(c))
				abortWithError(c, http.StatusInternalServerError, msgTroubleshootFail)
			}
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleTroubleshootDiagnose serves POST /troubleshoot/diagnose.
//
// # Responses
//
//   - 200: datatypes.TroubleshootDiagnoseResponse.
//   - 400: malformed body, failed validation, or a safety-stopped session.
//   - 404: unknown, expired or already diagnosed session.
//   - 500: diagnosis failed; the session can be retried.
func HandleTroubleshootDiagnose(svc Troubleshooter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			metrics.RecordRequest(observability.EndpointTroubleshootDiagnose, c.Writer.Status(), time.Since(start))
		}()
		ctx, span := tracer.Start(c.Request.Context(), "HandleTroubleshootDiagnose")
		defer span.End()

		var req datatypes.TroubleshootDiagnoseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bind failed")
			abortWithError(c, http.StatusBadRequest, msgInvalidBody)
			return
		}
		if err := req.Validate(); err != nil {
			span.SetStatus(codes.Error, "validation failed")
			abortWithError(c, http.StatusBadRequest, datatypes.ValidationMessage(err))
			return
		}

		resp, err := svc.Diagnose(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "diagnose failed")
			switch {
			case errors.Is(err, troubleshooter.ErrSessionNotFound):
				abortWithError(c, http.StatusNotFound, msgSessionNotFound)
			case errors.Is(err, troubleshooter.ErrSafetyStopped):
				abortWithError(c, http.StatusBadRequest, msgSafetyStopped)
			default:
				slog.Error("troubleshoot diagnose failed", "error", err,
					"session_id", req.SessionID, "request_id", middleware.GetRequestID(c))
				abortWithError(c, http.StatusInternalServerError, msgTroubleshootFail)
			}
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: msg})
}
