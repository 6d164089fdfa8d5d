package datastore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/models"
)

func TestCreateRulePack_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entropy := 3.5
	secretGroup := 1
	pack := &models.RulePack{
		Version: "2.1.0",
		GlobalAllowList: &models.AllowList{
			Description: "global exemptions",
			Paths:       []string{"**/testdata/**"},
			StopWords:   []string{"getenv"},
		},
		Rules: []models.Rule{
			{
				RuleName:    "aws-access-key",
				Description: "AWS access key id",
				Regex:       `AKIA[0-9A-Z]{16}`,
				Entropy:     &entropy,
				SecretGroup: &secretGroup,
				Keywords:    []string{"akia"},
				Tags:        []string{"Cli", "Warn"},
				AllowList: &models.AllowList{
					Regexes: []string{`EXAMPLE$`},
					Commits: []string{"deadbeef"},
				},
			},
			{
				RuleName: "hardcoded-password",
				Regex:    `password\s*=`,
				Tags:     []string{"Warn"},
			},
		},
	}
	require.NoError(t, store.CreateRulePack(ctx, pack))

	stored, err := store.GetRulePack(ctx, "2.1.0")
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.GlobalAllowList)
	assert.Equal(t, []string{"getenv"}, stored.GlobalAllowList.StopWords)
	assert.Equal(t, []string{"**/testdata/**"}, stored.GlobalAllowList.Paths)

	rules, err := store.GetRules(ctx, "2.1.0")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	aws := rules[0]
	assert.Equal(t, "aws-access-key", aws.RuleName)
	require.NotNil(t, aws.Entropy)
	assert.InDelta(t, entropy, *aws.Entropy, 0.001)
	require.NotNil(t, aws.SecretGroup)
	assert.Equal(t, secretGroup, *aws.SecretGroup)
	assert.Equal(t, []string{"akia"}, aws.Keywords)
	assert.ElementsMatch(t, []string{"Cli", "Warn"}, aws.Tags)
	require.NotNil(t, aws.AllowList)
	assert.Equal(t, []string{`EXAMPLE$`}, aws.AllowList.Regexes)
	assert.Equal(t, []string{"deadbeef"}, aws.AllowList.Commits)

	assert.Nil(t, rules[1].AllowList)
}

func TestCreateRulePack_DuplicateVersion(t *testing.T) {
	store := newTestStore(t)
	seedRulePack(t, store, "1.0.0", false)

	err := store.CreateRulePack(context.Background(), &models.RulePack{
		Version: "1.0.0",
		Rules:   []models.Rule{{RuleName: "other", Regex: "x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrRulePackExists)
}

func TestActivateRulePack_SingleActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", true)
	seedRulePack(t, store, "1.1.0", false)

	active, err := store.GetActiveRulePack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", active.Version)

	// Activating another version demotes the previous one.
	require.NoError(t, store.ActivateRulePack(ctx, "1.1.0"))

	active, err = store.GetActiveRulePack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", active.Version)

	packs, err := store.ListRulePacks(ctx)
	require.NoError(t, err)
	require.Len(t, packs, 2)
	activeCount := 0
	for _, pack := range packs {
		if pack.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestActivateRulePack_Unknown(t *testing.T) {
	store := newTestStore(t)

	err := store.ActivateRulePack(context.Background(), "9.9.9")
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownRulePack)
}

func TestGetActiveRulePack_NoneActive(t *testing.T) {
	store := newTestStore(t)
	seedRulePack(t, store, "1.0.0", false)

	_, err := store.GetActiveRulePack(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, datastore.ErrUnknownRulePack)
}

func TestGetGlobalAllowList_None(t *testing.T) {
	store := newTestStore(t)
	seedRulePack(t, store, "1.0.0", false)

	list, err := store.GetGlobalAllowList(context.Background(), "1.0.0")
	require.NoError(t, err)
	assert.Nil(t, list)
}

func TestGetRuleNamesByTag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRulePack(t, store, "1.0.0", false)

	names, err := store.GetRuleNamesByTag(ctx, "1.0.0", "Cli")
	require.NoError(t, err)
	assert.Equal(t, []string{"aws-access-key"}, names)

	names, err = store.GetRuleNamesByTag(ctx, "1.0.0", "NoSuchTag")
	require.NoError(t, err)
	assert.Empty(t, names)
}
