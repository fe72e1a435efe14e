// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// OutputEnv overrides the detected output level.
const OutputEnv = "HOMEOPS_OUTPUT"

// Level controls how rich CLI output is.
type Level string

const (
	// LevelStandard enables colors, badges and boxes.
	LevelStandard Level = "standard"

	// LevelMinimal keeps icons and headings but drops boxes.
	LevelMinimal Level = "minimal"

	// LevelMachine prints plain "KEY: value" lines for scripts.
	LevelMachine Level = "machine"
)

var (
	currentLevel = LevelStandard
	levelMu      sync.RWMutex
)

// GetLevel returns the current output level.
func GetLevel() Level {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return currentLevel
}

// SetLevel sets the output level.
func SetLevel(level Level) {
	levelMu.Lock()
	defer levelMu.Unlock()
	currentLevel = level
}

// ParseLevel converts a flag or environment value to a Level. Unknown
// values map to LevelStandard.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return LevelMinimal
	case "machine", "plain", "quiet", "q":
		return LevelMachine
	default:
		return LevelStandard
	}
}

// InitLevel picks the level from an explicit value, then OutputEnv, then
// whether stdout is a terminal.
func InitLevel(explicit string) {
	switch {
	case explicit != "":
		SetLevel(ParseLevel(explicit))
	case os.Getenv(OutputEnv) != "":
		SetLevel(ParseLevel(os.Getenv(OutputEnv)))
	case !IsTerminal(os.Stdout):
		SetLevel(LevelMachine)
	default:
		SetLevel(LevelStandard)
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether prompts can be shown: stdin and stdout are
// terminals and the level is not machine.
func IsInteractive() bool {
	return GetLevel() != LevelMachine && IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}
