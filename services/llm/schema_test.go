// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCitation struct {
	Source string `json:"source"`
	Page   *int   `json:"page,omitempty"`
}

type testAssessment struct {
	RiskLevel     string         `json:"risk_level" enum:"LOW,MED,HIGH"`
	Reasoning     string         `json:"reasoning"`
	SafetyConcern bool           `json:"safety_concern,omitempty"`
	Citations     []testCitation `json:"citations,omitempty"`
}

func TestSchemaFor_RejectsNonStructPointer(t *testing.T) {
	_, err := SchemaFor(testAssessment{})
	require.Error(t, err)

	var s string
	_, err = SchemaFor(&s)
	require.Error(t, err)
}

func TestSchemaFor_RequiredAndEnum(t *testing.T) {
	def, err := SchemaFor(&testAssessment{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"risk_level", "reasoning"}, def.Required)
	assert.Equal(t, []string{"LOW", "MED", "HIGH"}, def.Properties["risk_level"].Enum)

	again, err := SchemaFor(&testAssessment{})
	require.NoError(t, err)
	assert.Same(t, def, again)
}

func TestDecodeStructured(t *testing.T) {
	def, err := SchemaFor(&testAssessment{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, got testAssessment)
	}{
		{
			name: "plain object",
			raw:  `{"risk_level":"LOW","reasoning":"replace the filter"}`,
			check: func(t *testing.T, got testAssessment) {
				assert.Equal(t, "LOW", got.RiskLevel)
				assert.Equal(t, "replace the filter", got.Reasoning)
			},
		},
		{
			name: "fenced object",
			raw:  "```json\n{\"risk_level\":\"HIGH\",\"reasoning\":\"gas\",\"safety_concern\":true}\n```",
			check: func(t *testing.T, got testAssessment) {
				assert.Equal(t, "HIGH", got.RiskLevel)
				assert.True(t, got.SafetyConcern)
			},
		},
		{
			name: "nulls treated as absent",
			raw:  `{"risk_level":"MED","reasoning":"x","safety_concern":null,"citations":[{"source":"manual.pdf","page":null}]}`,
			check: func(t *testing.T, got testAssessment) {
				require.Len(t, got.Citations, 1)
				assert.Equal(t, "manual.pdf", got.Citations[0].Source)
				assert.Nil(t, got.Citations[0].Page)
			},
		},
		{name: "enum violation", raw: `{"risk_level":"EXTREME","reasoning":"x"}`, wantErr: true},
		{name: "missing required", raw: `{"risk_level":"LOW"}`, wantErr: true},
		{name: "not json", raw: `I think this is low risk.`, wantErr: true},
		{name: "nested type mismatch", raw: `{"risk_level":"LOW","reasoning":"x","citations":[{"source":3}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got testAssessment
			err := decodeStructured("assessment", def, tt.raw, &got)
			if tt.wantErr {
				var de *DecodeError
				require.ErrorAs(t, err, &de)
				assert.Equal(t, "assessment", de.Schema)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1}  "))
}
