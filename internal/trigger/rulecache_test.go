package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"errwatch/internal/model"
)

type countingRuleStore struct {
	calls int32
	rules []model.AlertRule
}

func (s *countingRuleStore) ListEnabled(_ context.Context, _ string) ([]model.AlertRule, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.rules, nil
}

func TestCachedRuleStore_ServesFromCacheWithinTTL(t *testing.T) {
	inner := &countingRuleStore{rules: []model.AlertRule{{RuleID: "r1"}}}
	now := time.Unix(0, 0)
	cache := NewCachedRuleStore(inner, time.Minute, func() time.Time { return now })

	rules, err := cache.ListEnabled(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	rules, err = cache.ListEnabled(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))
}

func TestCachedRuleStore_RefreshesAfterExpiry(t *testing.T) {
	inner := &countingRuleStore{rules: []model.AlertRule{{RuleID: "r1"}}}
	now := time.Unix(0, 0)
	cache := NewCachedRuleStore(inner, time.Minute, func() time.Time { return now })

	_, err := cache.ListEnabled(context.Background(), "p1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cache.ListEnabled(context.Background(), "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&inner.calls))
}

func TestCachedRuleStore_CollapsesConcurrentRefreshes(t *testing.T) {
	inner := &countingRuleStore{rules: []model.AlertRule{{RuleID: "r1"}}}
	cache := NewCachedRuleStore(inner, time.Minute, nil)

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := cache.ListEnabled(context.Background(), "p1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))
}

func TestCachedRuleStore_InvalidateForcesRefresh(t *testing.T) {
	inner := &countingRuleStore{rules: []model.AlertRule{{RuleID: "r1"}}}
	cache := NewCachedRuleStore(inner, time.Minute, nil)

	_, err := cache.ListEnabled(context.Background(), "p1")
	require.NoError(t, err)
	cache.Invalidate("p1")
	_, err = cache.ListEnabled(context.Background(), "p1")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&inner.calls))
}
