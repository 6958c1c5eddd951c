package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

func newTestEnricher(t *testing.T) (*Enricher, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	log := zap.NewNop().Sugar()
	return New(ms.Deployments(), ms.Issues(), 12*time.Hour, log), ms
}

func TestEnrich_RecentDeploymentsSortedDescending(t *testing.T) {
	e, ms := newTestEnricher(t)
	now := time.Now()
	ms.Deployments().PutDeployment(model.Deployment{ProjectID: "p1", Label: "v1", Timestamp: now.Add(-2 * time.Hour)})
	ms.Deployments().PutDeployment(model.Deployment{ProjectID: "p1", Label: "v2", Timestamp: now.Add(-1 * time.Hour)})

	payload := model.AlertPayload{Severity: model.SeverityHigh, Environment: []string{"production"}, Occurrences: 5}
	enriched := e.Enrich(context.Background(), "p1", payload, "threshold_exceeded", now)

	require.Len(t, enriched.Context.RecentDeployments, 2)
	assert.Equal(t, "v2", enriched.Context.RecentDeployments[0].Label)
	assert.Contains(t, enriched.Context.SuggestedFixes[0], "v2")
}

func TestEnrich_SimilarIncidentsByFingerprint(t *testing.T) {
	e, ms := newTestEnricher(t)
	now := time.Now()
	require.NoError(t, ms.Issues().Insert(context.Background(), model.Issue{IssueID: "i1", ProjectID: "p1", Fingerprint: "fp1", LastSeen: now, Message: "boom"}))

	payload := model.AlertPayload{Fingerprint: "fp1", Severity: model.SeverityMedium, Environment: []string{"staging"}}
	enriched := e.Enrich(context.Background(), "p1", payload, "new_error", now)

	require.Len(t, enriched.Context.SimilarIncidents, 1)
	assert.Equal(t, "i1", enriched.Context.SimilarIncidents[0].IssueID)
}

func TestEnrich_WhyItMattersAndNextStepsBounded(t *testing.T) {
	e, _ := newTestEnricher(t)
	payload := model.AlertPayload{
		Severity:    model.SeverityCritical,
		Environment: []string{"production"},
		Occurrences: 42,
		Links:       model.AlertLinks{Dashboard: "https://dash.example/x"},
	}
	enriched := e.Enrich(context.Background(), "p1", payload, "critical_severity", time.Now())

	assert.Contains(t, enriched.Context.WhyItMatters, "Critical")
	assert.Contains(t, enriched.Context.WhyItMatters, "production")
	assert.LessOrEqual(t, len(enriched.Context.NextSteps), maxNextSteps)
}

func TestEnrich_EmptyStoresDegradeGracefully(t *testing.T) {
	log := zap.NewNop().Sugar()
	e := New(nil, nil, time.Hour, log)
	payload := model.AlertPayload{Severity: model.SeverityLow, Environment: []string{"dev"}}
	enriched := e.Enrich(context.Background(), "p1", payload, "new_error", time.Now())

	assert.Empty(t, enriched.Context.RecentDeployments)
	assert.Empty(t, enriched.Context.SimilarIncidents)
	assert.NotEmpty(t, enriched.Context.WhyItMatters)
}
