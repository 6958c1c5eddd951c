package trigger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

// CachedRuleStore wraps a store.RuleStore with a short-lived per-project
// cache. Ingestion bursts against one project would otherwise issue one
// ListEnabled call per event; concurrent callers racing a cold or
// expired entry are collapsed onto a single refresh via singleflight so
// only one of them actually reaches the underlying store.
type CachedRuleStore struct {
	inner store.RuleStore
	ttl   time.Duration
	now   Clock

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cachedEntry
}

type cachedEntry struct {
	rules     []model.AlertRule
	expiresAt time.Time
}

// NewCachedRuleStore returns a CachedRuleStore caching each project's
// enabled-rule list for ttl. now defaults to time.Now when nil.
func NewCachedRuleStore(inner store.RuleStore, ttl time.Duration, now Clock) *CachedRuleStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &CachedRuleStore{inner: inner, ttl: ttl, now: now, entries: make(map[string]cachedEntry)}
}

// ListEnabled returns projectID's cached enabled-rule list, refreshing
// it from the underlying store when absent or expired.
func (c *CachedRuleStore) ListEnabled(ctx context.Context, projectID string) ([]model.AlertRule, error) {
	if rules, ok := c.lookup(projectID); ok {
		return rules, nil
	}

	result, err, _ := c.group.Do(projectID, func() (any, error) {
		rules, err := c.inner.ListEnabled(ctx, projectID)
		if err != nil {
			return nil, err
		}
		c.store(projectID, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.AlertRule), nil
}

func (c *CachedRuleStore) lookup(projectID string) ([]model.AlertRule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[projectID]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.rules, true
}

func (c *CachedRuleStore) store(projectID string, rules []model.AlertRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[projectID] = cachedEntry{rules: rules, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops projectID's cached entry, forcing the next
// ListEnabled call to refresh from the underlying store.
func (c *CachedRuleStore) Invalidate(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, projectID)
}
