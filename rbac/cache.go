package rbac

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoizes resolved permission sets per user id. Entries age out after
// a short TTL, but role or membership mutations must call Invalidate (or
// Purge) so a demotion cannot ride out the TTL window.
type Cache struct {
	lru *expirable.LRU[string, []Permission]
}

// NewCache builds a cache holding up to size users, each entry expiring after
// ttl.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		lru: expirable.NewLRU[string, []Permission](size, nil, ttl),
	}
}

// Get returns the cached permission set for userID, if present and fresh.
func (c *Cache) Get(userID string) ([]Permission, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(userID)
}

// Set stores the resolved permission set for userID.
func (c *Cache) Set(userID string, perms []Permission) {
	if c == nil {
		return
	}
	c.lru.Add(userID, perms)
}

// Invalidate drops the entry for a single user.
func (c *Cache) Invalidate(userID string) {
	if c == nil {
		return
	}
	c.lru.Remove(userID)
}

// Purge drops every entry. Called on role-definition changes, which can
// affect any number of users.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
