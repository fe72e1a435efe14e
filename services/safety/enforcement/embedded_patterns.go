// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bakes safety_patterns.yaml into the compiled binary with the Go embed
package, so the Layer-1 hazard catalogue travels with the executable and cannot
be edited on the host filesystem.
*/

package enforcement

import (
	_ "embed"
)

// SafetyPatterns holds the raw content of 'safety_patterns.yaml'.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.SafetyPatterns, &targetStruct)
//
//go:embed safety_patterns.yaml
var SafetyPatterns []byte
