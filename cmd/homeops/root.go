// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/homeops/pkg/ux"
)

const (
	defaultServer  = "http://localhost:12210"
	defaultTimeout = 3 * time.Minute
)

// rootOptions are the persistent flags shared by the client commands.
type rootOptions struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.token, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "homeops",
		Short: "Home Ops Copilot: grounded answers and safe troubleshooting for home systems",
		Long: `homeops talks to a running homeops orchestrator.

Answers come only from your indexed manuals, and any symptom that sounds
dangerous (gas, carbon monoxide, sparking, flooding near electrical) stops
with a call to the right professional.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ux.InitLevel(opts.output)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("HOMEOPS_SERVER", defaultServer), "orchestrator base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("HOMEOPS_API_TOKEN"), "bearer token for the API routes")
	flags.StringVarP(&opts.output, "output", "o", "", "output style: standard, minimal or machine")
	flags.DurationVar(&opts.timeout, "timeout", defaultTimeout, "request timeout")

	root.AddCommand(
		newAskCmd(opts),
		newTroubleshootCmd(opts),
		newPartsCmd(opts),
		newSafetyCheckCmd(),
		newServeCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
