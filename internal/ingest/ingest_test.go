package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"errwatch/internal/eventbus"
	"errwatch/internal/model"
	"errwatch/internal/store"
)

func newIngestor(t *testing.T, now time.Time) (*Ingestor, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	log := zap.NewNop().Sugar()
	clock := func() time.Time { return now }
	return New(ms.Issues(), ms.Occurrences(), nil, clock, log), ms
}

func TestIngest_CreatesNewIssueOnFirstOccurrence(t *testing.T) {
	now := time.Now()
	g, _ := newIngestor(t, now)
	project := model.Project{ProjectID: "p1", RetentionDays: 30}

	event := model.RawEvent{Message: "boom", Environment: "production", StackTrace: []model.StackFrame{{File: "a.go", Line: 10}}}
	res, err := g.Ingest(context.Background(), event, project)
	require.NoError(t, err)

	assert.True(t, res.IsNew)
	assert.Equal(t, 1, res.Issue.Count)
	assert.Equal(t, model.StatusNew, res.Issue.Status)
	assert.NotEmpty(t, res.Fingerprint)
	require.NotNil(t, res.Occurrence.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *res.Occurrence.ExpiresAt)
}

func TestIngest_SecondOccurrenceIncrementsAndAdvancesLastSeen(t *testing.T) {
	now := time.Now()
	g, _ := newIngestor(t, now)
	project := model.Project{ProjectID: "p1"}
	event := model.RawEvent{Message: "boom", Environment: "production", StackTrace: []model.StackFrame{{File: "a.go", Line: 10}}}

	first, err := g.Ingest(context.Background(), event, project)
	require.NoError(t, err)

	later := now.Add(5 * time.Minute)
	g2, ms2 := newIngestor(t, later)
	// reuse the same store backing to simulate a second call to the same ingestor
	_ = ms2
	g2.issues = g.issues
	g2.occurrences = g.occurrences

	second, err := g2.Ingest(context.Background(), event, project)
	require.NoError(t, err)

	assert.False(t, second.IsNew)
	assert.Equal(t, first.Issue.IssueID, second.Issue.IssueID)
	assert.Equal(t, 2, second.Issue.Count)
	assert.Equal(t, later, second.Issue.LastSeen)
}

func TestIngest_SanitizesBeforeFingerprinting(t *testing.T) {
	now := time.Now()
	g, _ := newIngestor(t, now)
	project := model.Project{ProjectID: "p1"}

	event := model.RawEvent{Message: "Card 4111 1111 1111 1111 and password=hunter2", Environment: "prod"}
	res, err := g.Ingest(context.Background(), event, project)
	require.NoError(t, err)

	assert.Contains(t, res.Issue.Message, "[REDACTED:CARD]")
	assert.Contains(t, res.Issue.Message, "password=[REDACTED]")
}

func TestIngest_MergesMetadataAndReplacesUserContextOnlyWhenPresent(t *testing.T) {
	now := time.Now()
	g, _ := newIngestor(t, now)
	project := model.Project{ProjectID: "p1"}

	first := model.RawEvent{
		Message: "boom", Environment: "production",
		Metadata:    map[string]any{"build": "1.0.0"},
		HasMetadata: true,
		UserContext: map[string]any{"id": "u1"},
		HasUserContext: true,
	}
	res1, err := g.Ingest(context.Background(), first, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"build": "1.0.0"}, res1.Issue.Metadata)
	assert.Equal(t, map[string]any{"id": "u1"}, res1.Issue.UserContext)

	second := model.RawEvent{
		Message: "boom", Environment: "production",
		Metadata:    map[string]any{"release": "canary"},
		HasMetadata: true,
	}
	res2, err := g.Ingest(context.Background(), second, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"build": "1.0.0", "release": "canary"}, res2.Issue.Metadata)
	assert.Equal(t, map[string]any{"id": "u1"}, res2.Issue.UserContext, "userContext must survive an occurrence that omits it")

	third := model.RawEvent{
		Message: "boom", Environment: "production",
		UserContext:    map[string]any{"id": "u2"},
		HasUserContext: true,
	}
	res3, err := g.Ingest(context.Background(), third, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "u2"}, res3.Issue.UserContext, "userContext must be replaced, not merged")
	assert.Equal(t, map[string]any{"build": "1.0.0", "release": "canary"}, res3.Issue.Metadata, "metadata must survive an occurrence that omits it")
}

func TestIngest_PublishesTriggerAndInvalidationOnBus(t *testing.T) {
	now := time.Now()
	ms := store.NewMemoryStore()
	log := zap.NewNop().Sugar()
	bus := eventbus.New(log)
	defer bus.Close()

	clock := func() time.Time { return now }
	g := New(ms.Issues(), ms.Occurrences(), bus, clock, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	triggerCh, err := bus.Subscribe(ctx, eventbus.TopicTrigger)
	require.NoError(t, err)

	event := model.RawEvent{Message: "boom", Environment: "production"}
	_, err = g.Ingest(ctx, event, model.Project{ProjectID: "p1"})
	require.NoError(t, err)

	select {
	case msg := <-triggerCh:
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("expected a trigger message to be published")
	}
}
