// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"matchflow/platform/orchestrator/match"
)

type localEntry struct {
	response   *match.Response
	insertedAt time.Time
	expiresAt  time.Time
}

// LocalTier is the in-process LRU tier. Entries are immutable once added;
// overwriting a key removes the old entry first.
type LocalTier struct {
	entries *lru.Cache[string, localEntry]
	now     func() time.Time

	// mu serializes writers: Put and the removal of expired entries.
	mu        sync.Mutex
	evictions atomic.Int64
	expired   atomic.Int64
}

// NewLocalTier creates a tier holding at most capacity entries.
func NewLocalTier(capacity int, now func() time.Time) (*LocalTier, error) {
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, localEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &LocalTier{entries: entries, now: now}, nil
}

// Get returns a private copy of the cached response, if present and fresh.
func (t *LocalTier) Get(key string) (*match.Response, bool) {
	e, ok := t.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !t.now().Before(e.expiresAt) {
		t.dropExpired(key, e)
		return nil, false
	}
	return e.response.Clone(), true
}

// dropExpired removes key only if it still holds seen, so a fresh entry
// written after the expiry check survives.
func (t *LocalTier) dropExpired(key string, seen localEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.entries.Peek(key)
	if !ok || cur.response != seen.response {
		return
	}
	t.entries.Remove(key)
	t.expired.Add(1)
}

// Put stores a copy of resp until expiresAt.
func (t *LocalTier) Put(key string, resp *match.Response, expiresAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(key)
	evicted := t.entries.Add(key, localEntry{
		response:   resp.Clone(),
		insertedAt: t.now(),
		expiresAt:  expiresAt,
	})
	if evicted {
		t.evictions.Add(1)
	}
}

// Remove deletes key.
func (t *LocalTier) Remove(key string) {
	t.entries.Remove(key)
}

// Len returns the number of entries, including expired ones not yet read.
func (t *LocalTier) Len() int {
	return t.entries.Len()
}

// Evictions returns the number of capacity evictions.
func (t *LocalTier) Evictions() int64 {
	return t.evictions.Load()
}

// Expired returns the number of entries dropped on read after expiry.
func (t *LocalTier) Expired() int64 {
	return t.expired.Load()
}
