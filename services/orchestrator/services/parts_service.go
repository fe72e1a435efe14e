// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/partshelper"
	"github.com/AleutianAI/homeops/services/profile"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var partsTracer = otel.Tracer("homeops.orchestrator.services.parts")

// PartsService answers parts and consumables lookups.
//
// # Description
//
// A lookup works without a house profile. A missing profile file is logged
// and the lookup runs with device detection only; any other profile error
// is returned.
//
// # Thread Safety
//
// Safe for concurrent use.
type PartsService struct {
	helper   *partshelper.Helper
	profiles profile.Loader
}

// NewPartsService validates the collaborators.
func NewPartsService(helper *partshelper.Helper, profiles profile.Loader) (*PartsService, error) {
	if helper == nil || profiles == nil {
		return nil, errors.New("parts service: helper and profiles are required")
	}
	return &PartsService{helper: helper, profiles: profiles}, nil
}

// Lookup runs one parts lookup for a validated request.
//
// # Outputs
//
//   - *datatypes.PartsLookupResponse: parts, clarification questions and
//     markdown.
//   - error: partshelper.ErrMissingQuery, partshelper.ErrGenerationFailed
//     (wrapped), or a wrapped profile load error.
func (s *PartsService) Lookup(ctx context.Context, req *datatypes.PartsLookupRequest) (*datatypes.PartsLookupResponse, error) {
	ctx, span := partsTracer.Start(ctx, "PartsService.Lookup")
	defer span.End()

	houseProfile, err := s.profiles.Load(ctx)
	switch {
	case errors.Is(err, profile.ErrProfileNotFound):
		slog.Info("no house profile, parts lookup continues without it")
		houseProfile = nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile load failed")
		return nil, fmt.Errorf("load house profile: %w", err)
	}

	res, err := s.helper.Lookup(ctx, partshelper.Input{
		Query:      req.Query,
		DeviceType: req.DeviceType,
		Profile:    houseProfile,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parts lookup failed")
		return nil, err
	}
	return res.Response(), nil
}
