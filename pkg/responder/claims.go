package responder

import (
	"sync"
	"time"
)

const (
	// DefaultClaimTTL outlives several cycles so a failed markSeen cannot
	// cause a second reply.
	DefaultClaimTTL = 20 * time.Minute
	// DefaultClaimMaxSize bounds the number of remembered mentions.
	DefaultClaimMaxSize = 5000
)

// Claims is a TTL-bounded set of mention URIs currently being answered or
// already answered by this process.
type Claims struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewClaims creates a claim set. Non-positive arguments take the defaults.
func NewClaims(ttl time.Duration, maxSize int) *Claims {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultClaimMaxSize
	}
	return &Claims{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Claim records uri and reports whether the caller now owns it. It returns
// false if uri was claimed within the TTL.
func (c *Claims) Claim(uri string) bool {
	if uri == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-c.ttl)
	if at, ok := c.entries[uri]; ok && at.After(cutoff) {
		return false
	}
	c.entries[uri] = now
	c.prune(cutoff)
	return true
}

// Release forgets uri so a later cycle may retry it.
func (c *Claims) Release(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uri)
}

// Len returns the number of remembered mentions.
func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Claims) prune(cutoff time.Time) {
	for uri, at := range c.entries {
		if !at.After(cutoff) {
			delete(c.entries, uri)
		}
	}
	for len(c.entries) > c.maxSize {
		var oldest string
		var oldestAt time.Time
		for uri, at := range c.entries {
			if oldest == "" || at.Before(oldestAt) {
				oldest, oldestAt = uri, at
			}
		}
		delete(c.entries, oldest)
	}
}
