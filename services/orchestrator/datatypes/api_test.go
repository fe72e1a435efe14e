// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTroubleshootStartRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     TroubleshootStartRequest
		wantErr bool
	}{
		{"valid", TroubleshootStartRequest{DeviceType: "furnace", Symptom: "no heat", Urgency: "high"}, false},
		{"urgency omitted", TroubleshootStartRequest{DeviceType: "furnace", Symptom: "no heat"}, false},
		{"blank symptom", TroubleshootStartRequest{DeviceType: "furnace", Symptom: "   "}, true},
		{"missing device", TroubleshootStartRequest{Symptom: "no heat"}, true},
		{"bad urgency", TroubleshootStartRequest{DeviceType: "furnace", Symptom: "x", Urgency: "urgent"}, true},
		{"device too long", TroubleshootStartRequest{DeviceType: strings.Repeat("a", MaxDeviceTypeLength+1), Symptom: "x"}, true},
		{"symptom at limit", TroubleshootStartRequest{DeviceType: "hrv", Symptom: strings.Repeat("a", MaxSymptomLength)}, false},
		{"context too long", TroubleshootStartRequest{DeviceType: "hrv", Symptom: "x", AdditionalContext: strings.Repeat("a", MaxContextLength+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTroubleshootStartRequest_EnsureDefaults(t *testing.T) {
	req := TroubleshootStartRequest{Urgency: " "}
	req.EnsureDefaults()
	assert.Equal(t, DefaultUrgency, req.Urgency)

	req = TroubleshootStartRequest{Urgency: "HIGH"}
	req.EnsureDefaults()
	assert.Equal(t, "high", req.Urgency)
}

func TestTroubleshootDiagnoseRequest_Validate(t *testing.T) {
	answers := make([]FollowupAnswer, MaxAnswersPerRequest+1)
	for i := range answers {
		answers[i] = FollowupAnswer{QuestionID: "q", Answer: "yes"}
	}
	assert.Error(t, (&TroubleshootDiagnoseRequest{SessionID: "abc", Answers: answers}).Validate())
	assert.Error(t, (&TroubleshootDiagnoseRequest{SessionID: ""}).Validate())
	assert.Error(t, (&TroubleshootDiagnoseRequest{SessionID: "abc", Answers: []FollowupAnswer{{QuestionID: ""}}}).Validate())
	assert.NoError(t, (&TroubleshootDiagnoseRequest{SessionID: "abc", Answers: answers[:2]}).Validate())
	assert.NoError(t, (&TroubleshootDiagnoseRequest{SessionID: "abc"}).Validate())
}

func TestAskRequest_Validate(t *testing.T) {
	assert.NoError(t, (&AskRequest{Question: "How often do I change the furnace filter?"}).Validate())
	assert.Error(t, (&AskRequest{Question: ""}).Validate())
	assert.Error(t, (&AskRequest{Question: strings.Repeat("q", MaxQuestionLength+1)}).Validate())
}

func TestPartsLookupRequest_Validate(t *testing.T) {
	assert.NoError(t, (&PartsLookupRequest{Query: "what filter does my furnace take"}).Validate())
	assert.NoError(t, (&PartsLookupRequest{Query: "filters", DeviceType: "hrv"}).Validate())
	assert.Error(t, (&PartsLookupRequest{Query: "  "}).Validate())
	assert.Error(t, (&PartsLookupRequest{Query: strings.Repeat("q", 2001)}).Validate())
	assert.Error(t, (&PartsLookupRequest{Query: "filters", DeviceType: strings.Repeat("d", 101)}).Validate())
}

func TestConfidenceLevel_Valid(t *testing.T) {
	assert.True(t, ConfidenceConfirmed.Valid())
	assert.True(t, ConfidenceUncertain.Valid())
	assert.False(t, ConfidenceLevel("CONFIRMED").Valid())
	assert.False(t, ConfidenceLevel("").Valid())
}

func TestValidateHouseProfile(t *testing.T) {
	assert.NoError(t, ValidateHouseProfile(&HouseProfile{Name: "Home", ClimateZone: ClimateCold}))
	assert.Error(t, ValidateHouseProfile(&HouseProfile{Name: "Home", ClimateZone: "arctic"}))
	assert.Error(t, ValidateHouseProfile(&HouseProfile{ClimateZone: ClimateMixed}))
	assert.Error(t, ValidateHouseProfile(&HouseProfile{Name: "Home", ClimateZone: ClimateMixed, HouseType: "castle"}))
}

func TestValidationMessage(t *testing.T) {
	err := (&TroubleshootStartRequest{DeviceType: "furnace", Symptom: " ", Urgency: "weekly"}).Validate()
	assert.Equal(t, "symptom is required; urgency must be one of low medium high", ValidationMessage(err))

	err = (&AskRequest{Question: strings.Repeat("q", MaxQuestionLength+1)}).Validate()
	assert.Equal(t, "question must be at most 2000", ValidationMessage(err))

	assert.Equal(t, "invalid request", ValidationMessage(errors.New("boom")))
}
