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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/AleutianAI/homeops/services/partshelper"
	"github.com/AleutianAI/homeops/services/profile"
)

const partsJSON = `{
  "parts": [
    {"part_name":"Air filter","part_number":"16x25x1","device_type":"furnace","confidence":"confirmed","source_doc":"furnace-maintenance.md"}
  ],
  "clarification_questions": [],
  "summary": "One filter found."
}`

func newTestPartsService(t *testing.T, client *fakeLLM, profiles *fakeProfiles) *PartsService {
	t.Helper()
	helper, err := partshelper.New(partshelper.Config{Retriever: &fakeRetriever{nodes: furnaceNodes()}, Client: client})
	require.NoError(t, err)
	svc, err := NewPartsService(helper, profiles)
	require.NoError(t, err)
	return svc
}

func TestNewPartsService_RequiresCollaborators(t *testing.T) {
	_, err := NewPartsService(nil, &fakeProfiles{})
	assert.Error(t, err)
}

func TestPartsService_Lookup(t *testing.T) {
	client := newFakeLLM()
	client.responses["parts"] = partsJSON
	svc := newTestPartsService(t, client, &fakeProfiles{profile: testProfile()})

	resp, err := svc.Lookup(context.Background(), &datatypes.PartsLookupRequest{Query: "what filter does my furnace take"})
	require.NoError(t, err)

	require.Len(t, resp.Parts, 1)
	assert.Equal(t, "16x25x1", resp.Parts[0].PartNumber)
	assert.Equal(t, []string{"furnace-maintenance.md"}, resp.SourcesUsed)
	assert.False(t, resp.HasGaps)
	assert.NotNil(t, resp.ClarificationQuestions)
	assert.Contains(t, resp.Markdown, "## Furnace")
	assert.Contains(t, client.requests[0].UserPrompt, "Manufacturer: Carrier")
}

func TestPartsService_MissingProfileContinues(t *testing.T) {
	client := newFakeLLM()
	client.responses["parts"] = partsJSON
	notFound := fmt.Errorf("%w: data/house_profile.json", profile.ErrProfileNotFound)
	svc := newTestPartsService(t, client, &fakeProfiles{err: notFound})

	resp, err := svc.Lookup(context.Background(), &datatypes.PartsLookupRequest{Query: "furnace filter"})
	require.NoError(t, err)
	assert.Len(t, resp.Parts, 1)
	assert.Contains(t, client.requests[0].UserPrompt, "No device details available from house profile.")
}

func TestPartsService_ProfileErrorFails(t *testing.T) {
	client := newFakeLLM()
	svc := newTestPartsService(t, client, &fakeProfiles{err: errors.New("invalid JSON")})

	_, err := svc.Lookup(context.Background(), &datatypes.PartsLookupRequest{Query: "furnace filter"})
	require.Error(t, err)
	assert.Zero(t, client.total())
}

func TestPartsService_GenerationFailure(t *testing.T) {
	client := newFakeLLM()
	client.errs["parts"] = errors.New("boom")
	svc := newTestPartsService(t, client, &fakeProfiles{profile: testProfile()})

	_, err := svc.Lookup(context.Background(), &datatypes.PartsLookupRequest{Query: "furnace filter"})
	assert.ErrorIs(t, err, partshelper.ErrGenerationFailed)
}
