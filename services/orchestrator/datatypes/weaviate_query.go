// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal round trip needed to turn Weaviate's
// dynamic response (map[string]models.JSONObject) into a typed Go struct.
// The target type T must have json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if resp is nil or parsing fails.
//
// # Example
//
//	parsed, err := ParseGraphQLResponse[HomeDocumentQueryResponse](resp)
//	if err != nil { ... }
//	for _, doc := range parsed.Get["HomeDocument"] {
//	    fmt.Println(doc.FileName)
//	}
//
// # Limitations
//
//   - Type mismatches yield zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// HomeDocument Response Types
// =============================================================================

// HomeDocumentQueryResponse is the Get response for the documentation class.
// Get is keyed by class name because the class is configurable.
type HomeDocumentQueryResponse struct {
	Get map[string][]HomeDocumentResult `json:"Get"`
}

// HomeDocumentResult is one documentation chunk returned by a vector query.
type HomeDocumentResult struct {
	Content      string `json:"content"`
	FileName     string `json:"file_name"`
	DeviceType   string `json:"device_type"`
	DeviceName   string `json:"device_name"`
	Manufacturer string `json:"manufacturer"`
	Additional   struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
		Distance  *float64 `json:"distance"`
		Rerank    []struct {
			Score *float64 `json:"score"`
		} `json:"rerank"`
	} `json:"_additional"`
}

// Score returns the relevance score Weaviate attached to the result: the
// reranker's cross-encoder score when present, otherwise the bi-encoder
// certainty, otherwise 1-distance. Missing scores are 0.
func (r HomeDocumentResult) Score() float64 {
	if len(r.Additional.Rerank) > 0 && r.Additional.Rerank[0].Score != nil {
		return *r.Additional.Rerank[0].Score
	}
	if r.Additional.Certainty != nil {
		return *r.Additional.Certainty
	}
	if r.Additional.Distance != nil {
		return 1 - *r.Additional.Distance
	}
	return 0
}
