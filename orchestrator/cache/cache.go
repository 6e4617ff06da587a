// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package cache implements the two-tier match response cache.
//
// Lookups go to an in-process LRU first and to a shared Redis store second;
// a shared hit is promoted into the local tier with its remaining lifetime.
// Writes land in the local tier synchronously and in the shared tier from a
// detached goroutine so the response path never waits on Redis. Any shared
// tier failure degrades to a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"matchflow/platform/orchestrator/match"
)

// Tier names the level that answered a lookup.
type Tier string

const (
	TierLocal  Tier = "local"
	TierShared Tier = "shared"
	TierNone   Tier = "none"
)

// Options configures a TieredCache.
type Options struct {
	LocalCapacity        int
	SharedTimeout        time.Duration
	CompressionThreshold int
	TTL                  TTLPolicy

	Now      func() time.Time
	Logger   *log.Logger
	OnLookup func(tier Tier, hit bool)
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		LocalCapacity:        1000,
		SharedTimeout:        250 * time.Millisecond,
		CompressionThreshold: 1024,
		TTL:                  DefaultTTLPolicy(),
	}
}

// envelope is the shared tier value.
type envelope struct {
	Response   *match.Response `json:"response"`
	InsertedAt int64           `json:"inserted_at"`
	ExpiresAt  int64           `json:"expires_at"`
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	LocalHits        int64   `json:"local_hits"`
	SharedHits       int64   `json:"shared_hits"`
	Misses           int64   `json:"misses"`
	SharedErrors     int64   `json:"shared_errors"`
	LocalEntries     int     `json:"local_entries"`
	LocalEvictions   int64   `json:"local_evictions"`
	LocalExpired     int64   `json:"local_expired"`
	Compressed       int64   `json:"compressed_writes"`
	Uncompressed     int64   `json:"uncompressed_writes"`
	CompressionRatio float64 `json:"compression_ratio"`
	SharedEnabled    bool    `json:"shared_enabled"`
	SharedHealthy    bool    `json:"shared_healthy"`
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	hits := s.LocalHits + s.SharedHits
	total := hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// TieredCache combines a LocalTier and an optional SharedStore.
type TieredCache struct {
	local  *LocalTier
	shared SharedStore
	codec  *codec
	opts   Options
	logger *log.Logger

	pending       sync.WaitGroup
	sharedHealthy atomic.Bool

	localHits    atomic.Int64
	sharedHits   atomic.Int64
	misses       atomic.Int64
	sharedErrors atomic.Int64
}

// New creates a cache. shared may be nil, in which case only the local tier
// is used.
func New(shared SharedStore, opts Options) (*TieredCache, error) {
	if opts.LocalCapacity <= 0 {
		return nil, fmt.Errorf("local capacity must be positive, got %d", opts.LocalCapacity)
	}
	if err := opts.TTL.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ttl policy: %w", err)
	}
	if opts.SharedTimeout <= 0 {
		opts.SharedTimeout = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[CACHE] ", log.LstdFlags)
	}

	local, err := NewLocalTier(opts.LocalCapacity, opts.Now)
	if err != nil {
		return nil, fmt.Errorf("failed to create local tier: %w", err)
	}
	c, err := newCodec(opts.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	tc := &TieredCache{
		local:  local,
		shared: shared,
		codec:  c,
		opts:   opts,
		logger: logger,
	}
	tc.sharedHealthy.Store(shared != nil)
	return tc, nil
}

// Policy returns the TTL policy in use.
func (c *TieredCache) Policy() TTLPolicy {
	return c.opts.TTL
}

// Get looks key up in the local tier, then the shared tier. The returned
// response is a private copy.
func (c *TieredCache) Get(ctx context.Context, key string) (*match.Response, Tier, bool) {
	if resp, ok := c.local.Get(key); ok {
		c.localHits.Add(1)
		c.observe(TierLocal, true)
		return resp, TierLocal, true
	}
	c.observe(TierLocal, false)

	if c.shared == nil {
		c.misses.Add(1)
		return nil, TierNone, false
	}

	resp, expiresAt, ok := c.getShared(ctx, key)
	c.observe(TierShared, ok)
	if !ok {
		c.misses.Add(1)
		return nil, TierNone, false
	}

	c.sharedHits.Add(1)
	c.local.Put(key, resp, expiresAt)
	return resp, TierShared, true
}

func (c *TieredCache) getShared(ctx context.Context, key string) (*match.Response, time.Time, bool) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.SharedTimeout)
	defer cancel()

	stored, err := c.shared.Get(sctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.sharedFailure("get", err)
		}
		return nil, time.Time{}, false
	}
	c.sharedHealthy.Store(true)

	raw, err := c.codec.decode(stored)
	if err != nil {
		c.logger.Printf("Discarding undecodable entry %s: %v", key, err)
		return nil, time.Time{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Response == nil {
		c.logger.Printf("Discarding malformed entry %s: %v", key, err)
		return nil, time.Time{}, false
	}

	expiresAt := time.UnixMilli(env.ExpiresAt)
	if !c.opts.Now().Before(expiresAt) {
		return nil, time.Time{}, false
	}
	return env.Response, expiresAt, true
}

// Put stores resp under key for ttl. The local write completes before Put
// returns; the shared write runs in the background. Responses from
// all_failed runs are never stored.
func (c *TieredCache) Put(key string, resp *match.Response, ttl time.Duration) {
	if resp == nil || resp.AlgorithmUsed == match.AlgorithmAllFailed || ttl <= 0 {
		return
	}
	now := c.opts.Now()
	expiresAt := now.Add(ttl)
	c.local.Put(key, resp, expiresAt)

	if c.shared == nil {
		return
	}

	raw, err := json.Marshal(envelope{
		Response:   resp,
		InsertedAt: now.UnixMilli(),
		ExpiresAt:  expiresAt.UnixMilli(),
	})
	if err != nil {
		c.logger.Printf("Failed to encode entry %s: %v", key, err)
		return
	}
	stored := c.codec.encode(raw)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 4*c.opts.SharedTimeout)
		defer cancel()
		if err := c.shared.Set(ctx, key, stored, ttl); err != nil {
			c.sharedFailure("set", err)
			return
		}
		c.sharedHealthy.Store(true)
	}()
}

// Invalidate removes key from both tiers.
func (c *TieredCache) Invalidate(ctx context.Context, key string) error {
	c.local.Remove(key)
	if c.shared == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, c.opts.SharedTimeout)
	defer cancel()
	return c.shared.Delete(sctx, key)
}

// Wait blocks until background shared writes have finished.
func (c *TieredCache) Wait() {
	c.pending.Wait()
}

// Stats returns the current counters.
func (c *TieredCache) Stats() Stats {
	return Stats{
		LocalHits:        c.localHits.Load(),
		SharedHits:       c.sharedHits.Load(),
		Misses:           c.misses.Load(),
		SharedErrors:     c.sharedErrors.Load(),
		LocalEntries:     c.local.Len(),
		LocalEvictions:   c.local.Evictions(),
		LocalExpired:     c.local.Expired(),
		Compressed:       c.codec.compressed.Load(),
		Uncompressed:     c.codec.uncompressed.Load(),
		CompressionRatio: c.codec.ratio(),
		SharedEnabled:    c.shared != nil,
		SharedHealthy:    c.sharedHealthy.Load(),
	}
}

// CompressionRatio returns uncompressed over stored bytes for compressed
// shared entries.
func (c *TieredCache) CompressionRatio() float64 {
	return c.codec.ratio()
}

// Health pings the shared tier. It returns nil when no shared tier is
// configured.
func (c *TieredCache) Health(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, c.opts.SharedTimeout)
	defer cancel()
	if err := c.shared.Ping(sctx); err != nil {
		c.sharedHealthy.Store(false)
		return err
	}
	c.sharedHealthy.Store(true)
	return nil
}

// Close waits for pending writes and releases the shared store.
func (c *TieredCache) Close() error {
	c.pending.Wait()
	c.codec.close()
	if c.shared != nil {
		return c.shared.Close()
	}
	return nil
}

func (c *TieredCache) sharedFailure(op string, err error) {
	c.sharedErrors.Add(1)
	if c.sharedHealthy.Swap(false) {
		c.logger.Printf("Shared tier %s failed, serving from local tier only: %v", op, err)
	}
}

func (c *TieredCache) observe(tier Tier, hit bool) {
	if c.opts.OnLookup != nil {
		c.opts.OnLookup(tier, hit)
	}
}
