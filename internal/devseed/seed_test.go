package devseed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"errwatch/internal/store"
)

func TestLoadFile_ParsesFixture(t *testing.T) {
	seed, err := LoadFile("testdata/seed.yaml")
	require.NoError(t, err)

	require.Len(t, seed.Projects, 1)
	assert.Equal(t, "demo-project", seed.Projects[0].ProjectID)
	assert.Equal(t, 30, seed.Projects[0].RetentionDays)

	require.Len(t, seed.Members, 2)
	assert.Equal(t, "digest", seed.Members[1].Mode)

	require.Len(t, seed.Deployments, 1)
	assert.Equal(t, "v1.4.0", seed.Deployments[0].Label)
}

func TestApply_PopulatesMemoryStore(t *testing.T) {
	seed, err := LoadFile("testdata/seed.yaml")
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	require.NoError(t, Apply(seed, ms))

	project, err := ms.Projects().Get(context.Background(), "demo-project")
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(project.CredentialHash), []byte("demo-secret")))

	member, err := ms.Members().GetByEmail(context.Background(), "demo-project", "oncall@example.com")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.True(t, member.Active)

	from, err := time.Parse(time.RFC3339, "2026-07-01T00:00:00Z")
	require.NoError(t, err)
	to, err := time.Parse(time.RFC3339, "2026-08-01T00:00:00Z")
	require.NoError(t, err)

	deployments, err := ms.Deployments().ListRecent(context.Background(), "demo-project", from, to, 10)
	require.NoError(t, err)
	require.Len(t, deployments, 1)
}
