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
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/orchestrator/middleware"
	"github.com/AleutianAI/homeops/services/orchestrator/observability"
	"github.com/AleutianAI/homeops/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Asker answers single-shot questions.
type Asker interface {
	Ask(ctx context.Context, question string) services.AskResult
}

var _ Asker = (*services.AnswerPipeline)(nil)

// HandleAsk serves POST /ask. Insufficient evidence is a normal 200 answer.
func HandleAsk(asker Asker, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			metrics.RecordRequest(observability.EndpointAsk, c.Writer.Status(), time.Since(start))
		}()
		ctx, span := tracer.Start(c.Request.Context(), "HandleAsk")
		defer span.End()

		var req datatypes.AskRequest
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

		res := asker.Ask(ctx, req.Question)
		span.SetAttributes(attribute.String("ask.result", string(res.Kind)))
		switch res.Kind {
		case services.ResultSuccess, services.ResultInsufficientEvidence:
			c.JSON(http.StatusOK, res.Response)
		default:
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "ask failed")
			slog.Error("ask failed", "error", res.Err, "request_id", middleware.GetRequestID(c))
			abortWithError(c, http.StatusInternalServerError, "Failed to answer the question. Please try again.")
		}
	}
}
