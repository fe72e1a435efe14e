// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile loads the house profile that personalizes troubleshooting.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
	"github.com/fsnotify/fsnotify"
)

// ErrProfileNotFound is returned when the profile file does not exist.
var ErrProfileNotFound = errors.New("house profile not found")

// NotFoundMessage is the user-facing text for ErrProfileNotFound.
const NotFoundMessage = "House profile not found. Create data/house_profile.json first."

// Loader returns the current house profile.
type Loader interface {
	Load(ctx context.Context) (*datatypes.HouseProfile, error)
}

// LoadFile reads and validates the profile at path.
//
// # Outputs
//
//   - ErrProfileNotFound (wrapped) when the file is missing.
//   - A decode or validation error when the file is malformed.
func LoadFile(path string) (*datatypes.HouseProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read house profile: %w", err)
	}

	var p datatypes.HouseProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse house profile %s: %w", path, err)
	}
	if err := datatypes.ValidateHouseProfile(&p); err != nil {
		return nil, fmt.Errorf("invalid house profile %s: %w", path, err)
	}
	return &p, nil
}

// =============================================================================
// Store
// =============================================================================

// Store caches the profile file and drops the cache when the file changes.
//
// # Description
//
// Load reads the file on first use and serves the cached value afterwards.
// Watch starts an fsnotify watcher on the file's directory; any event that
// names the file invalidates the cache. Watching the directory rather than
// the file keeps working across editors that save by rename.
//
// Returned profiles are shared and must be treated as read-only.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	path string

	mu     sync.RWMutex
	cached *datatypes.HouseProfile

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewStore returns a store for the profile at path. No I/O happens until
// Load or Watch.
func NewStore(path string) *Store {
	return &Store{path: path, done: make(chan struct{})}
}

// Path returns the profile file path.
func (s *Store) Path() string { return s.path }

// Load implements Loader. Errors are not cached.
func (s *Store) Load(ctx context.Context) (*datatypes.HouseProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	p := s.cached
	s.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	p, err := LoadFile(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = p
	s.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached profile.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Watch starts invalidating the cache on file changes. Call Close to stop.
// The directory must exist; the file need not.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create profile watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = w
	go s.watchLoop(filepath.Clean(s.path))
	return nil
}

func (s *Store) watchLoop(target string) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			s.Invalidate()
			slog.Debug("house profile changed, cache dropped", "path", target, "op", event.Op.String())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("house profile watcher error", "error", err)
		}
	}
}

// Close stops the watcher. Safe to call more than once, and without Watch.
func (s *Store) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

var _ Loader = (*Store)(nil)
