// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package troubleshooter

import (
	"sync"
	"time"

	"github.com/AleutianAI/homeops/services/orchestrator/observability"
	"github.com/google/uuid"
)

// Session store defaults.
const (
	DefaultSessionTTL  = time.Hour
	DefaultMaxSessions = 100
)

// SessionOptions configures a SessionStore.
type SessionOptions struct {
	// TTL is measured from creation. Default: DefaultSessionTTL.
	TTL time.Duration

	// MaxSessions caps the store. Default: DefaultMaxSessions.
	MaxSessions int

	// Clock returns the current time. Default: time.Now, whose monotonic
	// reading makes TTL immune to wall-clock changes.
	Clock func() time.Time

	// Metrics is optional.
	Metrics *observability.Metrics
}

type sessionEntry struct {
	createdAt time.Time
	seq       uint64
	state     State
}

// SessionStore holds intake state between the start and diagnose calls.
//
// # Description
//
// Entries expire TTL after creation. Expired entries are evicted on every
// Get and before every Put; there is no background timer. When the store is
// full, Put evicts the single oldest entry by creation time. A missing,
// expired, evicted or consumed entry all look the same to callers.
//
// Safety-stopped sessions keep no state. Their ids are tracked in a separate
// set with the same TTL and cap so a later diagnose can be refused; they do
// not count against MaxSessions.
//
// # Thread Safety
//
// Safe for concurrent use.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	stopped map[string]*sessionEntry
	seq     uint64

	ttl     time.Duration
	max     int
	now     func() time.Time
	metrics *observability.Metrics
}

// NewSessionStore returns an empty store.
func NewSessionStore(opts SessionOptions) *SessionStore {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &SessionStore{
		entries: make(map[string]*sessionEntry),
		stopped: make(map[string]*sessionEntry),
		ttl:     opts.TTL,
		max:     opts.MaxSessions,
		now:     opts.Clock,
		metrics: opts.Metrics,
	}
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Put stores state under id. Replacing an existing id keeps its slot but
// restarts its TTL.
func (s *SessionStore) Put(id string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpiredLocked(now)

	if _, exists := s.entries[id]; !exists && len(s.entries) >= s.max {
		s.evictOldestLocked()
	}
	s.seq++
	s.entries[id] = &sessionEntry{createdAt: now, seq: s.seq, state: state}
	s.metrics.SetActiveSessions(len(s.entries))
}

// Get returns the state for id. The state shares slices with the stored
// copy and must not be mutated.
func (s *SessionStore) Get(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(s.now())
	entry, ok := s.entries[id]
	if !ok {
		return State{}, false
	}
	return entry.state, true
}

// Take returns and removes the state for id in one step, so at most one
// caller can consume a session.
func (s *SessionStore) Take(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(s.now())
	entry, ok := s.entries[id]
	if !ok {
		return State{}, false
	}
	delete(s.entries, id)
	s.metrics.RecordSessionEviction(observability.EvictionConsumed)
	s.metrics.SetActiveSessions(len(s.entries))
	return entry.state, true
}

// Delete removes id if present.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.metrics.RecordSessionEviction(observability.EvictionConsumed)
		s.metrics.SetActiveSessions(len(s.entries))
	}
}

// MarkStopped records id as a safety-stopped session. No state is kept.
func (s *SessionStore) MarkStopped(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneStoppedLocked(now)
	if _, exists := s.stopped[id]; !exists && len(s.stopped) >= s.max {
		if oldestID, ok := oldestLocked(s.stopped); ok {
			delete(s.stopped, oldestID)
		}
	}
	s.seq++
	s.stopped[id] = &sessionEntry{createdAt: now, seq: s.seq}
}

// TakeStopped reports whether id was marked stopped and unexpired, and
// forgets it.
func (s *SessionStore) TakeStopped(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneStoppedLocked(s.now())
	if _, ok := s.stopped[id]; !ok {
		return false
	}
	delete(s.stopped, id)
	return true
}

// EvictExpired removes every expired entry and returns how many it removed.
func (s *SessionStore) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictExpiredLocked(s.now())
}

// Len returns the number of stored entries, expired ones included until the
// next eviction.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SessionStore) pruneStoppedLocked(now time.Time) {
	for id, entry := range s.stopped {
		if now.Sub(entry.createdAt) >= s.ttl {
			delete(s.stopped, id)
		}
	}
}

func (s *SessionStore) evictExpiredLocked(now time.Time) int {
	removed := 0
	for id, entry := range s.entries {
		if now.Sub(entry.createdAt) >= s.ttl {
			delete(s.entries, id)
			removed++
			s.metrics.RecordSessionEviction(observability.EvictionExpired)
		}
	}
	if removed > 0 {
		s.metrics.SetActiveSessions(len(s.entries))
	}
	return removed
}

// evictOldestLocked removes the entry with the earliest creation time.
func (s *SessionStore) evictOldestLocked() {
	if id, ok := oldestLocked(s.entries); ok {
		delete(s.entries, id)
		s.metrics.RecordSessionEviction(observability.EvictionCapacity)
	}
}

// oldestLocked finds the entry with the earliest creation time, breaking
// ties by insertion order.
func oldestLocked(entries map[string]*sessionEntry) (string, bool) {
	var oldestID string
	var oldest *sessionEntry
	for id, entry := range entries {
		if oldest == nil ||
			entry.createdAt.Before(oldest.createdAt) ||
			(entry.createdAt.Equal(oldest.createdAt) && entry.seq < oldest.seq) {
			oldestID, oldest = id, entry
		}
	}
	return oldestID, oldest != nil
}
