// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the homeops HTTP server.
//
// Configuration comes from homeops.yaml (or the file named by -config),
// a .env file, and HOMEOPS_* environment variables, in increasing priority.
// Nested keys use a double underscore: HOMEOPS_RAG__TOP_K=8.
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	OPENAI_API_KEY=... ./orchestrator -config homeops.yaml
//
// SIGINT and SIGTERM drain in-flight requests before exit.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/homeops/pkg/config"
	"github.com/AleutianAI/homeops/services/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default homeops.yaml)")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Enterprise builds pass custom ServiceOptions here.
	svc, err := orchestrator.New(orchestrator.Config{Settings: settings}, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}
