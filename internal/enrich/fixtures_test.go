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

func TestEnrich_AgainstLoadedFixtures(t *testing.T) {
	set, err := loadFixtures("testdata/deployments.yaml")
	require.NoError(t, err)
	require.Len(t, set.Deployments, 2)
	require.Len(t, set.Incidents, 1)

	ms := store.NewMemoryStore()
	e := New(ms.Deployments(), ms.Issues(), 48*time.Hour, zap.NewNop().Sugar())

	for _, d := range set.Deployments {
		dep, err := d.toModel()
		require.NoError(t, err)
		ms.Deployments().PutDeployment(dep)
	}
	for _, inc := range set.Incidents {
		issue, err := inc.toModel()
		require.NoError(t, err)
		require.NoError(t, ms.Issues().Insert(context.Background(), issue))
	}

	referenceTime, err := parseTimestamp("2026-07-29T12:00:00Z")
	require.NoError(t, err)
	payload := model.AlertPayload{Fingerprint: "fp-timeout", Severity: model.SeverityHigh, Environment: []string{"production"}}
	enriched := e.Enrich(context.Background(), "p1", payload, "threshold_exceeded", referenceTime)

	require.Len(t, enriched.Context.RecentDeployments, 2)
	assert.Equal(t, "checkout-v2.3.1", enriched.Context.RecentDeployments[0].Label)
	require.Len(t, enriched.Context.SimilarIncidents, 1)
	assert.Equal(t, "i-historical-1", enriched.Context.SimilarIncidents[0].IssueID)
}
