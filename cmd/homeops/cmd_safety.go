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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/homeops/pkg/ux"
	"github.com/AleutianAI/homeops/services/safety"
)

// errUnsafe makes safety-check exit non-zero on a match.
var errUnsafe = errors.New("safety pattern matched")

func newSafetyCheckCmd() *cobra.Command {
	var device string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "safety-check [text]",
		Short: "Check text against the built-in hazard patterns without contacting the server",
		Long: `safety-check runs the deterministic keyword layer locally. A match exits
with status 1 and prints the recommended professional. No LLM is involved,
so a pass here does not mean the situation is safe.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher, err := safety.NewMatcher()
			if err != nil {
				return fmt.Errorf("failed to load safety patterns: %w", err)
			}
			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			if verbose {
				for _, f := range matcher.Scan(text + " " + device) {
					ux.Warning(out, fmt.Sprintf("%s matched %q", f.PatternName, f.Keyword))
				}
			}

			m, ok := matcher.Match(text, device)
			if !ok {
				ux.Success(out, "No hazard keywords found")
				return nil
			}
			ux.SafetyAlert(out, m.Pattern.Message, m.Pattern.Professional)
			return errUnsafe
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device type hint, e.g. water_heater")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every keyword hit")
	return cmd
}
