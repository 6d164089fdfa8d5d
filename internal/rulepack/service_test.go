package rulepack_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resc-project/resc/internal/config"
	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/models"
	"github.com/resc-project/resc/internal/rulepack"
)

func newTestService(t *testing.T) (*rulepack.Service, *datastore.Store) {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "rulepack-service-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbCfg := config.NewDefaultDatabaseConfig()
	dbCfg.Path = filepath.Join(tempDir, "resc.db")
	store, err := datastore.NewStore(dbCfg, config.NewDefaultRetryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return rulepack.NewService(store, zerolog.Nop()), store
}

func testPack(version string) *models.RulePack {
	return &models.RulePack{
		Version: version,
		Rules:   []models.Rule{{RuleName: "aws-access-key", Regex: `AKIA[0-9A-Z]{16}`}},
	}
}

func TestInstall_FirstPackActivates(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	result, err := service.Install(ctx, testPack("1.0.0"))
	require.NoError(t, err)
	assert.True(t, result.Activated)
	assert.Equal(t, 1, result.RuleCount)

	active, err := store.GetActiveRulePack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", active.Version)
}

func TestInstall_NewerVersionTakesOver(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	_, err := service.Install(ctx, testPack("1.0.0"))
	require.NoError(t, err)

	result, err := service.Install(ctx, testPack("1.1.0"))
	require.NoError(t, err)
	assert.True(t, result.Activated)

	active, err := store.GetActiveRulePack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", active.Version)
}

func TestInstall_OlderVersionStaysInactive(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	_, err := service.Install(ctx, testPack("2.0.0"))
	require.NoError(t, err)

	// A backfilled older pack must not displace the active one.
	result, err := service.Install(ctx, testPack("1.5.0"))
	require.NoError(t, err)
	assert.False(t, result.Activated)

	active, err := store.GetActiveRulePack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", active.Version)
}

func TestInstall_InvalidPackRejectedBeforeStorage(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	pack := testPack("not-semver")
	_, err := service.Install(ctx, pack)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Version")

	// A rule with neither regex nor path is rejected the same way.
	pack = testPack("1.0.0")
	pack.Rules = []models.Rule{{RuleName: "empty-rule"}}
	_, err = service.Install(ctx, pack)
	require.Error(t, err)

	packs, err := store.ListRulePacks(ctx)
	require.NoError(t, err)
	assert.Empty(t, packs)
}

func TestInstall_DuplicateVersion(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Install(ctx, testPack("1.0.0"))
	require.NoError(t, err)

	_, err = service.Install(ctx, testPack("1.0.0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrRulePackExists)
}

func TestInstallFile(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	tempDir, err := os.MkdirTemp("", "rulepack-file-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	rulePath := filepath.Join(tempDir, "rules.toml")
	require.NoError(t, os.WriteFile(rulePath, []byte(sampleRuleFile), 0644))

	result, err := service.InstallFile(ctx, rulePath, "")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", result.Version)
	assert.Equal(t, 2, result.RuleCount)
	assert.True(t, result.Activated)

	rules, err := store.GetRules(ctx, "1.2.3")
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}
