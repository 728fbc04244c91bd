// Package prefetch speculatively resolves download links a user is
// likely to need next.
//
// Information Hiding:
// - Cache backend (memory, Redis) hidden behind the Cache interface
// - Claim/complete/error lifecycle encapsulated
// - Eviction policy (hard TTL, then LRU under a size bound) hidden
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/selasie/charon/model"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	// StatusPending marks a claimed entry whose resolution is in flight.
	StatusPending Status = "pending"
	// StatusComplete marks a resolved entry carrying a usable link.
	StatusComplete Status = "complete"
	// StatusError marks a failed resolution, retryable after a cooldown.
	StatusError Status = "error"
)

const (
	// pendingStaleAfter is how long a pending claim may sit before it is
	// treated as abandoned and reclaimed.
	pendingStaleAfter = time.Minute
	// errorCooldown is how long a failed entry blocks re-resolution.
	errorCooldown = 30 * time.Second
)

// Entry is one prefetch cache slot, keyed by (message, file).
type Entry struct {
	MessageID  string           `json:"messageId"`
	FileID     string           `json:"fileId"`
	Link       model.IssuedLink `json:"link"`
	Status     Status           `json:"status"`
	ResolvedAt time.Time        `json:"resolvedAt"`
	ExpiresAt  time.Time        `json:"expiresAt"`
}

// Cache stores prefetch results. Implementations are injected and
// lifecycle-scoped so tests get a clean instance per case.
type Cache interface {
	// Get returns the live entry for (messageID, fileID), or nil.
	// An entry past its expiry is never returned.
	Get(ctx context.Context, messageID, fileID string) (*Entry, error)

	// TryClaim atomically creates a pending entry if no live complete
	// entry, fresh pending claim, or cooling-down error blocks it.
	// Returns true when the caller owns the resolution.
	TryClaim(ctx context.Context, messageID, fileID string) (bool, error)

	// Complete transitions a claim to complete with the resolved link.
	Complete(ctx context.Context, messageID, fileID string, link model.IssuedLink) error

	// Fail transitions a claim to error, starting the retry cooldown.
	Fail(ctx context.Context, messageID, fileID string) error

	// Sweep evicts entries past their expiry. Returns how many were
	// removed.
	Sweep(ctx context.Context) (int, error)
}

// MemoryCache is the default in-process Cache.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time // overridable in tests
}

// NewMemoryCache creates a memory cache. ttl bounds how long a complete
// entry may live; maxEntries bounds cache size (0 means unbounded).
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func cacheKey(messageID, fileID string) string {
	return messageID + ":" + fileID
}

// Get returns the live entry or nil. Expired entries are dropped on read.
func (c *MemoryCache) Get(ctx context.Context, messageID, fileID string) (*Entry, error) {
	key := cacheKey(messageID, fileID)
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if now.After(entry.ExpiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && now.After(current.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}

	out := *entry
	return &out, nil
}

// TryClaim sets a pending entry unless a live one blocks it.
func (c *MemoryCache) TryClaim(ctx context.Context, messageID, fileID string) (bool, error) {
	key := cacheKey(messageID, fileID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && !now.After(entry.ExpiresAt) {
		switch entry.Status {
		case StatusComplete:
			return false, nil
		case StatusPending:
			if now.Sub(entry.ResolvedAt) < pendingStaleAfter {
				return false, nil
			}
		case StatusError:
			if now.Sub(entry.ResolvedAt) < errorCooldown {
				return false, nil
			}
		}
	}

	c.entries[key] = &Entry{
		MessageID:  messageID,
		FileID:     fileID,
		Status:     StatusPending,
		ResolvedAt: now,
		ExpiresAt:  now.Add(c.ttl),
	}
	c.enforceBoundLocked()
	return true, nil
}

// Complete fills in a resolved link. The entry's hard TTL is the
// earlier of the cache TTL and the link's own expiry.
func (c *MemoryCache) Complete(ctx context.Context, messageID, fileID string, link model.IssuedLink) error {
	now := c.now()
	expires := now.Add(c.ttl)
	if !link.ExpiresAt.IsZero() && link.ExpiresAt.Before(expires) {
		expires = link.ExpiresAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(messageID, fileID)] = &Entry{
		MessageID:  messageID,
		FileID:     fileID,
		Link:       link,
		Status:     StatusComplete,
		ResolvedAt: now,
		ExpiresAt:  expires,
	}
	c.enforceBoundLocked()
	return nil
}

// Fail marks a claim failed; the entry expires after the cooldown so a
// later orchestrator pass may retry.
func (c *MemoryCache) Fail(ctx context.Context, messageID, fileID string) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(messageID, fileID)] = &Entry{
		MessageID:  messageID,
		FileID:     fileID,
		Status:     StatusError,
		ResolvedAt: now,
		ExpiresAt:  now.Add(errorCooldown),
	}
	return nil
}

// Sweep removes entries past expiry.
func (c *MemoryCache) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// enforceBoundLocked evicts least-recently-resolved entries over the
// size bound. Hard TTL eviction happens first; LRU only closes the gap.
func (c *MemoryCache) enforceBoundLocked() {
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.ResolvedAt.Before(oldest) {
				oldestKey = key
				oldest = entry.ResolvedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}
