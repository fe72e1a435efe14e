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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

// apiError is a non-2xx orchestrator response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// apiClient calls the orchestrator JSON API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) Ask(ctx context.Context, question string) (*datatypes.AskResponse, error) {
	var resp datatypes.AskResponse
	if err := c.post(ctx, "/ask", datatypes.AskRequest{Question: question}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Start(ctx context.Context, req *datatypes.TroubleshootStartRequest) (*datatypes.TroubleshootStartResponse, error) {
	var resp datatypes.TroubleshootStartResponse
	if err := c.post(ctx, "/troubleshoot/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Diagnose(ctx context.Context, req *datatypes.TroubleshootDiagnoseRequest) (*datatypes.TroubleshootDiagnoseResponse, error) {
	var resp datatypes.TroubleshootDiagnoseResponse
	if err := c.post(ctx, "/troubleshoot/diagnose", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Parts(ctx context.Context, req *datatypes.PartsLookupRequest) (*datatypes.PartsLookupResponse, error) {
	var resp datatypes.PartsLookupResponse
	if err := c.post(ctx, "/parts/lookup", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach orchestrator at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp datatypes.ErrorResponse
		if json.Unmarshal(raw, &errResp) != nil || errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: errResp.Error}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
