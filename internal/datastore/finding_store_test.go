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

func TestIngestFindings_CreateAndLink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	matches := []models.SecretMatch{
		testMatch("aws-access-key", "config/prod.env", 12),
		testMatch("generic-api-key", "internal/client.go", 88),
	}

	report, err := store.IngestFindings(ctx, scanID, matches)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Linked)
	require.Len(t, report.FindingIDs, 2)

	// A later scan observing one known and one new occurrence links the
	// known one instead of duplicating it.
	secondScanID, err := store.RecordScan(ctx, repoID, models.ScanTypeIncremental, "d00d1e", "1.0.0")
	require.NoError(t, err)

	matches = []models.SecretMatch{
		testMatch("aws-access-key", "config/prod.env", 12),
		testMatch("aws-access-key", "scripts/deploy.sh", 3),
	}
	report2, err := store.IngestFindings(ctx, secondScanID, matches)
	require.NoError(t, err)
	assert.Equal(t, 1, report2.Created)
	assert.Equal(t, 1, report2.Linked)
	assert.Contains(t, report2.FindingIDs, report.FindingIDs[0])

	all, err := store.FindingsForRepository(ctx, repoID, datastore.FindingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIngestFindings_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	matches := []models.SecretMatch{testMatch("aws-access-key", "config/prod.env", 12)}

	first, err := store.IngestFindings(ctx, scanID, matches)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	// Replaying the same batch for the same scan changes nothing.
	second, err := store.IngestFindings(ctx, scanID, matches)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Linked)
	assert.Equal(t, first.FindingIDs, second.FindingIDs)

	findings, err := store.FindingsForScan(ctx, scanID, datastore.FindingFilter{})
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestIngestFindings_UnknownScan(t *testing.T) {
	store := newTestStore(t)

	_, err := store.IngestFindings(context.Background(), 777, []models.SecretMatch{
		testMatch("aws-access-key", "main.go", 1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownScan)
}

func TestIngestFindings_EmptyBatch(t *testing.T) {
	store := newTestStore(t)
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	report, err := store.IngestFindings(context.Background(), scanID, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Zero(t, report.Linked)
	assert.Empty(t, report.FindingIDs)
}

func TestFindingsForRepository_StatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	report, err := store.IngestFindings(ctx, scanID, []models.SecretMatch{
		testMatch("aws-access-key", "config/prod.env", 12),
		testMatch("generic-api-key", "internal/client.go", 88),
	})
	require.NoError(t, err)

	_, err = store.RecordAudit(ctx, report.FindingIDs[0], models.StatusTruePositive, "alice", "rotated")
	require.NoError(t, err)

	truePositives, err := store.FindingsForRepository(ctx, repoID, datastore.FindingFilter{
		Statuses: []models.FindingStatus{models.StatusTruePositive},
	})
	require.NoError(t, err)
	require.Len(t, truePositives, 1)
	assert.Equal(t, report.FindingIDs[0], truePositives[0].ID)

	// Findings without any audit match the implicit NOT_ANALYZED status.
	untriaged, err := store.FindingsForRepository(ctx, repoID, datastore.FindingFilter{
		Statuses: []models.FindingStatus{models.StatusNotAnalyzed},
	})
	require.NoError(t, err)
	require.Len(t, untriaged, 1)
	assert.Equal(t, report.FindingIDs[1], untriaged[0].ID)
}

func TestFindingsForRepository_RuleFilterAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	_, err := store.IngestFindings(ctx, scanID, []models.SecretMatch{
		testMatch("aws-access-key", "a.env", 1),
		testMatch("aws-access-key", "b.env", 2),
		testMatch("generic-api-key", "c.go", 3),
	})
	require.NoError(t, err)

	awsOnly, err := store.FindingsForRepository(ctx, repoID, datastore.FindingFilter{
		RuleNames: []string{"aws-access-key"},
	})
	require.NoError(t, err)
	assert.Len(t, awsOnly, 2)

	page, err := store.FindingsForRepository(ctx, repoID, datastore.FindingFilter{Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b.env", page[0].FilePath)

	names, err := store.DistinctRuleNamesForScans(ctx, []int64{scanID})
	require.NoError(t, err)
	assert.Equal(t, []string{"aws-access-key", "generic-api-key"}, names)
}

func TestCountFindingsByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	report, err := store.IngestFindings(ctx, scanID, []models.SecretMatch{
		testMatch("aws-access-key", "a.env", 1),
		testMatch("aws-access-key", "b.env", 2),
		testMatch("generic-api-key", "c.go", 3),
	})
	require.NoError(t, err)

	_, err = store.RecordAudit(ctx, report.FindingIDs[0], models.StatusFalsePositive, "bob", "test fixture")
	require.NoError(t, err)

	counts, err := store.CountFindingsByStatus(ctx, repoID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusNotAnalyzed])
	assert.Equal(t, 1, counts[models.StatusFalsePositive])
}

func TestMarkEventSent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	report, err := store.IngestFindings(ctx, scanID, []models.SecretMatch{
		testMatch("aws-access-key", "a.env", 1),
	})
	require.NoError(t, err)

	sentOn := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.MarkEventSent(ctx, report.FindingIDs[0], sentOn))

	finding, err := store.GetFinding(ctx, report.FindingIDs[0])
	require.NoError(t, err)
	require.NotNil(t, finding.EventSentOn)
	assert.True(t, finding.EventSentOn.Equal(sentOn))

	err = store.MarkEventSent(ctx, 99999, sentOn)
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownFinding)
}

func TestGetFinding_NeverStoresSecret(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	repoID := seedRepository(t, store)
	scanID := seedScan(t, store, repoID)

	match := testMatch("aws-access-key", "a.env", 1)
	report, err := store.IngestFindings(ctx, scanID, []models.SecretMatch{match})
	require.NoError(t, err)

	finding, err := store.GetFinding(ctx, report.FindingIDs[0])
	require.NoError(t, err)
	assert.Equal(t, match.RuleName, finding.RuleName)
	assert.Equal(t, match.FilePath, finding.FilePath)
	assert.Equal(t, match.CommitID, finding.CommitID)
	// Only the location survives; the matched text does not.
	assert.NotContains(t, finding.CommitMessage, match.Secret)
}
