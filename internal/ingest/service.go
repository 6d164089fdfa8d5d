// Package ingest orchestrates the processing of one scan: allow list
// filtering, scan ledger recording, finding ingestion, and the automated
// audits that keep triage statuses in step with the rule pack.
package ingest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/resc-project/resc/internal/allowlist"
	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/errorwrapper"
	"github.com/resc-project/resc/internal/models"
)

// Service processes scan jobs against the datastore.
type Service struct {
	store  *datastore.Store
	logger zerolog.Logger
}

// NewService creates an ingest service.
func NewService(store *datastore.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "IngestService").Logger(),
	}
}

// ScanJob describes one detector run to be recorded. RuleVersion selects the
// pack the detector ran with; empty means the currently active pack.
type ScanJob struct {
	VCSInstance       models.VCSInstance
	Repository        models.Repository
	ScanType          models.ScanType
	LastScannedCommit string
	RuleVersion       string
	Matches           []models.SecretMatch
}

// Report summarizes what processing a scan job did.
type Report struct {
	ScanID          int64
	RepositoryID    int64
	RuleVersion     string
	Created         int
	Linked          int
	Suppressed      int
	MarkedOutdated  int
	ClearedOutdated int
}

// ProcessScan runs one job end to end: validate and resolve the repository,
// filter the matches through the pack's allow lists, append the scan to the
// ledger, ingest the surviving findings, and reconcile OUTDATED statuses
// against the pack's rule set.
func (s *Service) ProcessScan(ctx context.Context, job *ScanJob) (*Report, error) {
	if err := models.Validate(&job.VCSInstance); err != nil {
		return nil, errorwrapper.WrapError(err, "scan job vcs instance")
	}
	if err := models.Validate(&job.Repository); err != nil {
		return nil, errorwrapper.WrapError(err, "scan job repository")
	}

	version := job.RuleVersion
	if version == "" {
		active, err := s.store.GetActiveRulePack(ctx)
		if err != nil {
			return nil, err
		}
		version = active.Version
	}

	engine, err := s.buildEngine(ctx, version)
	if err != nil {
		return nil, err
	}

	vcsID, err := s.store.CreateVCSInstance(ctx, &job.VCSInstance)
	if err != nil {
		return nil, err
	}
	repo := job.Repository
	repo.VCSInstanceID = vcsID
	repoID, err := s.store.CreateRepository(ctx, &repo)
	if err != nil {
		return nil, err
	}

	kept, suppressed := engine.Filter(job.Matches)

	scanID, err := s.store.RecordScan(ctx, repoID, job.ScanType, job.LastScannedCommit, version)
	if err != nil {
		return nil, err
	}

	ingested, err := s.store.IngestFindings(ctx, scanID, kept)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ScanID:       scanID,
		RepositoryID: repoID,
		RuleVersion:  version,
		Created:      ingested.Created,
		Linked:       ingested.Linked,
		Suppressed:   suppressed,
	}

	if err := s.reconcileOutdated(ctx, repoID, version, ingested.FindingIDs, report); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("scan_id", report.ScanID).
		Int64("repository_id", report.RepositoryID).
		Str("rule_version", version).
		Int("created", report.Created).
		Int("linked", report.Linked).
		Int("suppressed", report.Suppressed).
		Int("marked_outdated", report.MarkedOutdated).
		Int("cleared_outdated", report.ClearedOutdated).
		Msg("Processed scan")
	return report, nil
}

// buildEngine compiles the allow lists of the given pack version.
func (s *Service) buildEngine(ctx context.Context, version string) (*allowlist.Engine, error) {
	global, err := s.store.GetGlobalAllowList(ctx, version)
	if err != nil {
		return nil, err
	}
	rules, err := s.store.GetRules(ctx, version)
	if err != nil {
		return nil, err
	}

	engine, err := allowlist.NewEngine(global, rules, s.logger)
	if err != nil {
		return nil, errorwrapper.WrapErrorf(err, "rule pack %s", version)
	}
	return engine, nil
}

// reconcileOutdated keeps triage statuses consistent with the pack the scan
// ran with. Untriaged findings whose rule no longer exists in the pack get
// an automated OUTDATED audit; findings re-observed by this scan that were
// previously OUTDATED are reset to NOT_ANALYZED.
func (s *Service) reconcileOutdated(ctx context.Context, repoID int64, version string, observed []int64, report *Report) error {
	stale, err := s.store.UntriagedFindingsWithRuleNotInPack(ctx, repoID, version)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		if err := s.store.RecordAutomatedAudits(ctx, stale, models.StatusOutdated); err != nil {
			return err
		}
		report.MarkedOutdated = len(stale)
	}

	cleared, err := s.store.ClearOutdated(ctx, observed)
	if err != nil {
		return err
	}
	report.ClearedOutdated = cleared
	return nil
}
