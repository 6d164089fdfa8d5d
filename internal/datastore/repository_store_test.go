package datastore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/models"
)

func TestCreateRepository_GetOrCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := seedRepository(t, store)

	// Registering the same natural key again returns the existing row.
	vcs, err := store.GetVCSInstanceByName(ctx, "github-public")
	require.NoError(t, err)

	againID, err := store.CreateRepository(ctx, &models.Repository{
		VCSInstanceID:  vcs.ID,
		ProjectKey:     "acme",
		RepositoryID:   "1001",
		RepositoryName: "billing-service",
	})
	require.NoError(t, err)
	assert.Equal(t, repoID, againID)

	repos, err := store.ListRepositories(ctx, false)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestCreateVCSInstance_GetOrCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	firstID, err := store.CreateVCSInstance(ctx, &models.VCSInstance{
		Name:         "bitbucket-internal",
		ProviderType: models.ProviderBitbucket,
		Hostname:     "bitbucket.acme.example",
	})
	require.NoError(t, err)

	secondID, err := store.CreateVCSInstance(ctx, &models.VCSInstance{
		Name:         "bitbucket-internal",
		ProviderType: models.ProviderBitbucket,
		Hostname:     "bitbucket.acme.example",
	})
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	_, err = store.GetVCSInstanceByName(ctx, "gitlab-internal")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownVCSInstance)
}

func TestToggleRepositoryDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := seedRepository(t, store)

	require.NoError(t, store.ToggleRepositoryDeleted(ctx, repoID))

	visible, err := store.ListRepositories(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := store.ListRepositories(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDeleted())

	// Toggling again restores the repository.
	require.NoError(t, store.ToggleRepositoryDeleted(ctx, repoID))
	visible, err = store.ListRepositories(ctx, false)
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	err = store.ToggleRepositoryDeleted(ctx, 31337)
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownRepository)
}

func TestGetRepositoryByKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := seedRepository(t, store)

	vcs, err := store.GetVCSInstanceByName(ctx, "github-public")
	require.NoError(t, err)

	repo, err := store.GetRepositoryByKey(ctx, vcs.ID, "acme", "1001")
	require.NoError(t, err)
	assert.Equal(t, repoID, repo.ID)
	assert.Equal(t, "billing-service", repo.RepositoryName)

	_, err = store.GetRepositoryByKey(ctx, vcs.ID, "acme", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownRepository)
}
