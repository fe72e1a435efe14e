// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/homeops/pkg/extensions"
	"github.com/AleutianAI/homeops/services/orchestrator/handlers"
	"github.com/AleutianAI/homeops/services/orchestrator/middleware"
	"github.com/AleutianAI/homeops/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services behind the API routes. A nil service leaves its
// routes unregistered.
type Deps struct {
	Troubleshooter handlers.Troubleshooter
	Asker          handlers.Asker
	Parts          handlers.PartsLookup
	Metrics        *observability.Metrics

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers /health, /metrics and the API routes. The API
// routes sit behind opts.AuthProvider; health and metrics do not.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	opts = opts.Normalize()

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/")
	api.Use(middleware.AuthMiddleware(opts.AuthProvider))
	if deps.Troubleshooter != nil {
		troubleshoot := api.Group("/troubleshoot")
		{
			troubleshoot.POST("/start", handlers.HandleTroubleshootStart(deps.Troubleshooter, deps.Metrics))
			troubleshoot.POST("/diagnose", handlers.HandleTroubleshootDiagnose(deps.Troubleshooter, deps.Metrics))
		}
	}
	if deps.Asker != nil {
		api.POST("/ask", handlers.HandleAsk(deps.Asker, deps.Metrics))
	}
	if deps.Parts != nil {
		api.POST("/parts/lookup", handlers.HandlePartsLookup(deps.Parts, deps.Metrics))
	}
}
