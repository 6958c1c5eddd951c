package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"errwatch/internal/model"
)

func TestMemoryStore_IssueInsertAndFind(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	issue := model.Issue{IssueID: "i1", ProjectID: "p1", Fingerprint: "fp1", LastSeen: time.Now()}
	require.NoError(t, ms.Issues().Insert(ctx, issue))

	found, err := ms.Issues().FindByFingerprint(ctx, "p1", "fp1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "i1", found.IssueID)

	dup := ms.Issues().Insert(ctx, issue)
	assert.Error(t, dup)
}

func TestMemoryStore_OccurrenceCountInWindow(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	now := time.Now()
	require.NoError(t, ms.Issues().Insert(ctx, model.Issue{IssueID: "i1", ProjectID: "p1", Fingerprint: "fp1", LastSeen: now}))

	for i := 0; i < 3; i++ {
		require.NoError(t, ms.Occurrences().Insert(ctx, model.Occurrence{
			IssueID: "i1", ProjectID: "p1", Timestamp: now.Add(-time.Duration(i) * time.Minute),
		}))
	}

	count, err := ms.Occurrences().CountInWindow(ctx, "p1", "fp1", "", now.Add(-10*time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMemoryStore_CooldownRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	require.NoError(t, ms.NotificationState().SaveCooldown(ctx, "r1", 1000))
	list, err := ms.NotificationState().ListCooldowns(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1000), list[0].LastDispatchMs)

	require.NoError(t, ms.NotificationState().DeleteCooldown(ctx, "r1"))
	list, err = ms.NotificationState().ListCooldowns(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStore_EscalationRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	entry := model.EscalationEntry{AlertID: "a1", CurrentLevel: 0}
	require.NoError(t, ms.NotificationState().SaveEscalation(ctx, entry))

	list, err := ms.NotificationState().ListEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, ms.NotificationState().DeleteEscalation(ctx, "a1"))
	list, err = ms.NotificationState().ListEscalations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStore_DigestQueue(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	entry := model.DigestQueueEntry{ProjectID: "p1", MemberID: "m1", CreatedAt: time.Now()}
	require.NoError(t, ms.Digests().Enqueue(ctx, entry))

	unprocessed, err := ms.Digests().ListUnprocessed(ctx, "p1", "m1")
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)

	require.NoError(t, ms.Digests().MarkProcessed(ctx, []string{unprocessed[0].EntryID}, time.Now()))
	unprocessed, err = ms.Digests().ListUnprocessed(ctx, "p1", "m1")
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}
