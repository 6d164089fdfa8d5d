package datastore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/models"
)

func seedFindings(t *testing.T, store *datastore.Store, count int) []int64 {
	t.Helper()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	matches := make([]models.SecretMatch, 0, count)
	for i := 0; i < count; i++ {
		matches = append(matches, testMatch("aws-access-key", "file.env", i+1))
	}
	report, err := store.IngestFindings(context.Background(), scanID, matches)
	require.NoError(t, err)
	require.Len(t, report.FindingIDs, count)
	return report.FindingIDs
}

func TestRecordAudit_AppendOnlyTrail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	findingID := seedFindings(t, store, 1)[0]

	_, err := store.RecordAudit(ctx, findingID, models.StatusUnderReview, "alice", "looking into it")
	require.NoError(t, err)
	_, err = store.RecordAudit(ctx, findingID, models.StatusTruePositive, "alice", "confirmed, rotating")
	require.NoError(t, err)
	_, err = store.RecordAudit(ctx, findingID, models.StatusFalsePositive, "bob", "sample data only")
	require.NoError(t, err)

	history, err := store.AuditHistory(ctx, findingID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// History preserves recording order and only the last entry is latest.
	assert.Equal(t, models.StatusUnderReview, history[0].Status)
	assert.Equal(t, models.StatusTruePositive, history[1].Status)
	assert.Equal(t, models.StatusFalsePositive, history[2].Status)
	assert.False(t, history[0].IsLatest)
	assert.False(t, history[1].IsLatest)
	assert.True(t, history[2].IsLatest)

	latest, err := store.LatestAudit(ctx, findingID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.StatusFalsePositive, latest.Status)
	assert.Equal(t, "bob", latest.Auditor)
}

func TestRecordAudit_UnknownFinding(t *testing.T) {
	store := newTestStore(t)

	_, err := store.RecordAudit(context.Background(), 404, models.StatusTruePositive, "alice", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownFinding)
}

func TestLatestStatus_ImplicitNotAnalyzed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	findingID := seedFindings(t, store, 1)[0]

	status, err := store.LatestStatus(ctx, findingID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotAnalyzed, status)

	latest, err := store.LatestAudit(ctx, findingID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = store.LatestStatus(ctx, 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownFinding)
}

func TestRecordAutomatedAudits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	findingIDs := seedFindings(t, store, 3)

	require.NoError(t, store.RecordAutomatedAudits(ctx, findingIDs[:2], models.StatusOutdated))

	for _, id := range findingIDs[:2] {
		latest, err := store.LatestAudit(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, models.StatusOutdated, latest.Status)
		assert.Equal(t, models.AutomatedAuditor, latest.Auditor)
		assert.Equal(t, models.AutomatedComment, latest.Comment)
	}

	status, err := store.LatestStatus(ctx, findingIDs[2])
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotAnalyzed, status)
}

func TestClearOutdated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	findingIDs := seedFindings(t, store, 3)

	require.NoError(t, store.RecordAutomatedAudits(ctx, findingIDs[:2], models.StatusOutdated))
	_, err := store.RecordAudit(ctx, findingIDs[2], models.StatusTruePositive, "alice", "confirmed")
	require.NoError(t, err)

	// Only findings whose latest status is OUTDATED are reset; the manually
	// triaged one keeps its status.
	cleared, err := store.ClearOutdated(ctx, findingIDs)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	for _, id := range findingIDs[:2] {
		status, err := store.LatestStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNotAnalyzed, status)
	}
	status, err := store.LatestStatus(ctx, findingIDs[2])
	require.NoError(t, err)
	assert.Equal(t, models.StatusTruePositive, status)

	// A second pass finds nothing outdated.
	cleared, err = store.ClearOutdated(ctx, findingIDs)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestListAudits_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	findingIDs := seedFindings(t, store, 2)

	_, err := store.RecordAudit(ctx, findingIDs[0], models.StatusUnderReview, "alice", "")
	require.NoError(t, err)
	_, err = store.RecordAudit(ctx, findingIDs[0], models.StatusTruePositive, "alice", "")
	require.NoError(t, err)
	_, err = store.RecordAudit(ctx, findingIDs[1], models.StatusFalsePositive, "bob", "")
	require.NoError(t, err)

	byAlice, err := store.ListAudits(ctx, datastore.AuditFilter{Auditor: "alice"})
	require.NoError(t, err)
	assert.Len(t, byAlice, 2)

	latestOnly, err := store.ListAudits(ctx, datastore.AuditFilter{LatestOnly: true})
	require.NoError(t, err)
	assert.Len(t, latestOnly, 2)

	truePositive, err := store.ListAudits(ctx, datastore.AuditFilter{Status: models.StatusTruePositive})
	require.NoError(t, err)
	require.Len(t, truePositive, 1)
	assert.Equal(t, findingIDs[0], truePositive[0].FindingID)

	limited, err := store.ListAudits(ctx, datastore.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	// Newest first.
	assert.Equal(t, findingIDs[1], limited[0].FindingID)
}
