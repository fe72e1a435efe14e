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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/homeops/pkg/ux"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

func newPartsCmd(opts *rootOptions) *cobra.Command {
	var device string

	cmd := &cobra.Command{
		Use:   "parts [query]",
		Short: "Find replacement parts, filters and consumables for your systems",
		Long: `parts looks up replacement parts from your indexed documentation and
house profile. A vague query comes back with questions under "Missing
information"; ask again with the extra detail.`,
		Example: `  homeops parts "what filter does my furnace take"
  homeops parts -d hrv "replacement core"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Parts(cmd.Context(), &datatypes.PartsLookupRequest{
				Query:      strings.Join(args, " "),
				DeviceType: device,
			})
			if err != nil {
				ux.Error(cmd.ErrOrStderr(), err.Error())
				return err
			}
			ux.Parts(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "device type, e.g. furnace; detected from the query when empty")
	return cmd
}
