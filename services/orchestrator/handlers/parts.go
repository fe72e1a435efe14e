// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

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
	"github.com/AleutianAI/homeops/services/partshelper"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PartsLookup identifies replacement parts and consumables.
type PartsLookup interface {
	Lookup(ctx context.Context, req *datatypes.PartsLookupRequest) (*datatypes.PartsLookupResponse, error)
}

var _ PartsLookup = (*services.PartsService)(nil)

// HandlePartsLookup serves POST /parts/lookup.
//
// # Responses
//
//   - 200: datatypes.PartsLookupResponse. A vague query is a 200 with
//     clarification questions and has_gaps set.
//   - 400: malformed body or failed validation.
//   - 500: profile load or generation failed.
func HandlePartsLookup(svc PartsLookup, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			metrics.RecordRequest(observability.EndpointPartsLookup, c.Writer.Status(), time.Since(start))
		}()
		ctx, span := tracer.Start(c.Request.Context(), "HandlePartsLookup")
		defer span.End()

		var req datatypes.PartsLookupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bind failed")
			slog.Warn("failed to parse parts lookup request", "error", err)
			abortWithError(c, http.StatusBadRequest, msgInvalidBody)
			return
		}
		if err := req.Validate(); err != nil {
			span.SetStatus(codes.Error, "validation failed")
			abortWithError(c, http.StatusBadRequest, datatypes.ValidationMessage(err))
			return
		}

		resp, err := svc.Lookup(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lookup failed")
			if errors.Is(err, partshelper.ErrMissingQuery) {
				abortWithError(c, http.StatusBadRequest, "query is required")
				return
			}
			slog.Error("parts lookup failed", "error", err, "request_id", middleware.GetRequestID(c))
			abortWithError(c, http.StatusInternalServerError, "Parts lookup failed. Please try again.")
			return
		}
		span.SetAttributes(
			attribute.Int("parts.count", len(resp.Parts)),
			attribute.Bool("parts.has_gaps", resp.HasGaps),
		)
		c.JSON(http.StatusOK, resp)
	}
}
