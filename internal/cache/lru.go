// Package cache holds the decision caches used by the resolver.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"brewline.io/internal/rbac"
)

// LRU is an in-process decision cache bounded by size and age.
type LRU struct {
	entries *lru.LRU[string, rbac.CheckResult]

	// mu orders Set against InvalidateOrganization; epochs counts
	// invalidations per organization.
	mu     sync.Mutex
	epochs map[string]uint64
}

var _ rbac.DecisionCache = (*LRU)(nil)

// NewLRU returns a cache holding at most size entries, each for at most ttl.
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 4096
	}
	return &LRU{
		entries: lru.NewLRU[string, rbac.CheckResult](size, nil, ttl),
		epochs:  make(map[string]uint64),
	}
}

func (c *LRU) Version(_ context.Context, organizationID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[organizationID], nil
}

func (c *LRU) Get(_ context.Context, key rbac.DecisionKey, _ uint64) (rbac.CheckResult, bool, error) {
	res, ok := c.entries.Get(key.String())
	if !ok {
		return rbac.CheckResult{}, false, nil
	}
	return cloneResult(res), true, nil
}

// Set drops res when the organization was invalidated after version was read.
func (c *LRU) Set(_ context.Context, key rbac.DecisionKey, version uint64, res rbac.CheckResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[key.OrganizationID] != version {
		return nil
	}
	c.entries.Add(key.String(), cloneResult(res))
	return nil
}

// InvalidateOrganization drops every entry of the organization.
func (c *LRU) InvalidateOrganization(_ context.Context, organizationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[organizationID]++
	prefix := organizationID + "|"
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
	return nil
}

// Len reports the number of live entries.
func (c *LRU) Len() int { return c.entries.Len() }

func cloneResult(res rbac.CheckResult) rbac.CheckResult {
	res.MatchedPermissionIDs = append([]string{}, res.MatchedPermissionIDs...)
	return res
}
