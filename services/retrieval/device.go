// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import "strings"

type deviceKeywords struct {
	deviceType string
	keywords   []string
}

// deviceCatalogue is ordered; DetectDeviceTypes reports matches in this
// order.
var deviceCatalogue = []deviceKeywords{
	{"furnace", []string{"furnace", "filter", "merv", "heating", "burner", "blower", "flame sensor", "ignitor"}},
	{"hrv", []string{"hrv", "ventilation", "heat recovery", "air exchanger"}},
	{"humidifier", []string{"humidifier", "humidity", "dry air", "humidistat", "water panel"}},
	{"water_heater", []string{"water heater", "hot water", "anode", "tankless", "relief valve"}},
	{"water_softener", []string{"softener", "salt", "hard water", "resin", "brine", "regeneration"}},
	{"thermostat", []string{"thermostat", "setpoint", "temperature schedule"}},
	{"energy_meter", []string{"energy meter", "kwh", "power usage", "electricity usage", "energy monitor"}},
	{"air_conditioner", []string{"air conditioner", "air conditioning", "ac unit", "a/c", "condenser", "refrigerant", "cooling"}},
}

// DetectDeviceTypes returns every device type whose keywords appear in
// query, case-insensitively, in catalogue order. Nil when nothing matches.
func DetectDeviceTypes(query string) []string {
	lower := strings.ToLower(query)
	var found []string
	for _, entry := range deviceCatalogue {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, entry.deviceType)
				break
			}
		}
	}
	return found
}

// KnownDeviceTypes lists the device types DetectDeviceTypes can return.
func KnownDeviceTypes() []string {
	out := make([]string, len(deviceCatalogue))
	for i, entry := range deviceCatalogue {
		out[i] = entry.deviceType
	}
	return out
}
