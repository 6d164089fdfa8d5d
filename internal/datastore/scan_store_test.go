package datastore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/models"
)

func TestRecordScan_IncrementNumbers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)

	baseID, err := store.RecordScan(ctx, repoID, models.ScanTypeBase, "aaa111", "1.0.0")
	require.NoError(t, err)

	base, err := store.GetScan(ctx, baseID)
	require.NoError(t, err)
	assert.Equal(t, 0, base.IncrementNumber)
	assert.True(t, base.IsLatest)

	incrID, err := store.RecordScan(ctx, repoID, models.ScanTypeIncremental, "bbb222", "1.0.0")
	require.NoError(t, err)

	incr, err := store.GetScan(ctx, incrID)
	require.NoError(t, err)
	assert.Equal(t, 1, incr.IncrementNumber)

	incr2ID, err := store.RecordScan(ctx, repoID, models.ScanTypeIncremental, "ccc333", "1.0.0")
	require.NoError(t, err)

	incr2, err := store.GetScan(ctx, incr2ID)
	require.NoError(t, err)
	assert.Equal(t, 2, incr2.IncrementNumber)

	// A new BASE scan restarts the lineage at zero.
	rebaseID, err := store.RecordScan(ctx, repoID, models.ScanTypeBase, "ddd444", "1.0.0")
	require.NoError(t, err)

	rebase, err := store.GetScan(ctx, rebaseID)
	require.NoError(t, err)
	assert.Equal(t, 0, rebase.IncrementNumber)
}

func TestRecordScan_IncrementalWithoutBase(t *testing.T) {
	store := newTestStore(t)
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)

	_, err := store.RecordScan(context.Background(), repoID, models.ScanTypeIncremental, "aaa111", "1.0.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrInvalidSequence)
}

func TestRecordScan_UnknownRulePack(t *testing.T) {
	store := newTestStore(t)
	repoID := seedRepository(t, store)

	_, err := store.RecordScan(context.Background(), repoID, models.ScanTypeBase, "aaa111", "9.9.9")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownRulePack)
}

func TestRecordScan_UnknownRepository(t *testing.T) {
	store := newTestStore(t)
	seedRulePack(t, store, "1.0.0", true)

	_, err := store.RecordScan(context.Background(), 424242, models.ScanTypeBase, "aaa111", "1.0.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownRepository)
}

func TestRecordScan_SingleLatestPerRepository(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)

	_, err := store.RecordScan(ctx, repoID, models.ScanTypeBase, "aaa111", "1.0.0")
	require.NoError(t, err)
	_, err = store.RecordScan(ctx, repoID, models.ScanTypeIncremental, "bbb222", "1.0.0")
	require.NoError(t, err)
	thirdID, err := store.RecordScan(ctx, repoID, models.ScanTypeIncremental, "ccc333", "1.0.0")
	require.NoError(t, err)

	latest, err := store.GetLatestScanForRepository(ctx, repoID)
	require.NoError(t, err)
	assert.Equal(t, thirdID, latest.ID)

	scans, err := store.ListScansForRepository(ctx, repoID)
	require.NoError(t, err)
	require.Len(t, scans, 3)

	latestCount := 0
	for _, scan := range scans {
		if scan.IsLatest {
			latestCount++
		}
	}
	assert.Equal(t, 1, latestCount)
}

func TestRecordScan_UndeletesRepository(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)

	require.NoError(t, store.ToggleRepositoryDeleted(ctx, repoID))
	repo, err := store.GetRepository(ctx, repoID)
	require.NoError(t, err)
	require.True(t, repo.IsDeleted())

	_, err = store.RecordScan(ctx, repoID, models.ScanTypeBase, "aaa111", "1.0.0")
	require.NoError(t, err)

	repo, err = store.GetRepository(ctx, repoID)
	require.NoError(t, err)
	assert.False(t, repo.IsDeleted())
}

func TestGetScan_Unknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetScan(context.Background(), 12345)
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownScan)
}

func TestStore_ExpiredDeadline(t *testing.T) {
	store := newTestStore(t)
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	_, err := store.RecordScan(ctx, repoID, models.ScanTypeBase, "aaa111", "1.0.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrTimeout)
}
