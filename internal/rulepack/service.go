package rulepack

import (
	"context"
	"errors"

	"github.com/blang/semver/v4"
	"github.com/rs/zerolog"

	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/errorwrapper"
	"github.com/resc-project/resc/internal/models"
)

// Registry is the subset of the datastore the rule pack service needs.
type Registry interface {
	CreateRulePack(ctx context.Context, pack *models.RulePack) error
	ActivateRulePack(ctx context.Context, version string) error
	GetRulePack(ctx context.Context, version string) (*models.RulePack, error)
	GetActiveRulePack(ctx context.Context) (*models.RulePack, error)
	ListRulePacks(ctx context.Context) ([]models.RulePack, error)
}

// Service installs and activates rule packs.
type Service struct {
	registry Registry
	logger   zerolog.Logger
}

// NewService creates a rule pack service backed by the given registry.
func NewService(registry Registry, logger zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		logger:   logger.With().Str("component", "RulePackService").Logger(),
	}
}

// InstallResult reports what installing a rule pack did.
type InstallResult struct {
	Version   string
	RuleCount int
	Activated bool
}

// Install registers the pack and activates it when its version is newer than
// the currently active pack (or when no pack is active yet). Installing an
// already known version fails with ErrRulePackExists; older versions install
// inactive so historical scans keep resolving their rules.
func (s *Service) Install(ctx context.Context, pack *models.RulePack) (InstallResult, error) {
	result := InstallResult{Version: pack.Version, RuleCount: len(pack.Rules)}

	if err := models.Validate(pack); err != nil {
		return result, errorwrapper.WrapErrorf(err, "rule pack %s", pack.Version)
	}

	active, err := s.registry.GetActiveRulePack(ctx)
	if err != nil && !errors.Is(err, datastore.ErrUnknownRulePack) {
		return result, err
	}

	if err := s.registry.CreateRulePack(ctx, pack); err != nil {
		return result, err
	}

	activate := true
	if active != nil {
		newVersion, err := semver.Parse(pack.Version)
		if err != nil {
			return result, err
		}
		activeVersion, err := semver.Parse(active.Version)
		if err != nil {
			return result, err
		}
		activate = newVersion.GT(activeVersion)
	}

	if activate {
		if err := s.registry.ActivateRulePack(ctx, pack.Version); err != nil {
			return result, err
		}
		result.Activated = true
	}

	s.logger.Info().
		Str("version", pack.Version).
		Int("rules", result.RuleCount).
		Bool("activated", result.Activated).
		Msg("Installed rule pack")
	return result, nil
}

// InstallFile loads a TOML rule file and installs it as a pack.
func (s *Service) InstallFile(ctx context.Context, path, version string) (InstallResult, error) {
	pack, err := LoadFile(path, version)
	if err != nil {
		return InstallResult{}, err
	}
	return s.Install(ctx, pack)
}

// Activate makes the given version the single active pack.
func (s *Service) Activate(ctx context.Context, version string) error {
	return s.registry.ActivateRulePack(ctx, version)
}

// List returns every installed pack, newest first by creation.
func (s *Service) List(ctx context.Context) ([]models.RulePack, error) {
	return s.registry.ListRulePacks(ctx)
}
