// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package cache provides a thread-safe in-memory TTL cache for the read
// path. Expired entries are kept until the cleanup loop removes them so
// offline reads can fall back to stale data instead of an empty screen.
package cache

import (
	"sync"
	"time"
)

const cleanupInterval = 5 * time.Minute

// staleRetention is how long past expiry an entry remains available to
// GetStale before the cleanup loop drops it.
const staleRetention = 24 * time.Hour

// Entry is one cached item with its expiration.
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	StaleServe int64 `json:"stale_serves"`
	Evictions  int64 `json:"evictions"`
	Keys       int   `json:"keys"`
}

// Cache is a thread-safe in-memory cache with per-entry TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	stats   Stats

	stopOnce sync.Once
	stopChan chan struct{}
}

// New creates a cache with the given default TTL and starts the
// background cleanup loop. Call Stop to release it.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries:  make(map[string]Entry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns a fresh entry. Expired entries count as misses but stay
// stored for GetStale.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists || time.Now().After(entry.ExpiresAt) {
		c.bump(func(s *Stats) { s.Misses++ })
		return nil, false
	}

	c.bump(func(s *Stats) { s.Hits++ })
	return entry.Data, true
}

// GetStale returns an entry regardless of expiry. The offline read path
// uses it when the backend is unreachable: stale data beats none.
func (c *Cache) GetStale(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	c.bump(func(s *Stats) { s.StaleServe++ })
	return entry.Data, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Data: value, ExpiresAt: time.Now().Add(ttl)}
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Snapshot returns a copy of the counters.
func (c *Cache) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Keys = len(c.entries)
	return s
}

// Stop halts the cleanup loop. Idempotent.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup drops entries that are past expiry plus the stale retention
// window.
func (c *Cache) cleanup() {
	cutoff := time.Now().Add(-staleRetention)

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.ExpiresAt.Before(cutoff) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

func (c *Cache) bump(fn func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
}
