package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/resc-project/resc/internal/config"
	"github.com/resc-project/resc/internal/datastore"
	"github.com/resc-project/resc/internal/ingest"
	"github.com/resc-project/resc/internal/logger"
	"github.com/resc-project/resc/internal/models"
	"github.com/resc-project/resc/internal/rulepack"
)

func main() {
	flags := ParseFlags()

	gCfg, err := config.LoadGlobalConfig(flags.GlobalConfigFile)
	if err != nil {
		log.Fatalf("[FATAL] Main: Could not load global config using path '%s': %v", flags.GlobalConfigFile, err)
	}
	if err := config.ValidateConfig(gCfg); err != nil {
		log.Fatalf("[FATAL] Main: Configuration validation failed: %v", err)
	}

	zLogger, err := logger.New(gCfg.LogConfig)
	if err != nil {
		log.Fatalf("[FATAL] Main: Could not initialize logger: %v", err)
	}

	store, err := datastore.NewStore(gCfg.DatabaseConfig, gCfg.RetryConfig, zLogger)
	if err != nil {
		zLogger.Fatal().Err(err).Msg("Failed to open datastore")
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch flags.Mode {
	case "init":
		// NewStore already created the schema; nothing further to do.
		zLogger.Info().Str("db_path", gCfg.DatabaseConfig.Path).Msg("Database initialized")
	case "rulepack":
		err = runRulePackMode(ctx, store, zLogger, flags)
	case "scan":
		err = runScanMode(ctx, store, zLogger, flags)
	case "audit":
		err = runAuditMode(ctx, store, flags)
	case "findings":
		err = runFindingsMode(ctx, store, flags)
	default:
		zLogger.Fatal().Str("mode", flags.Mode).Msg("Unknown mode (expected init, rulepack, scan, audit or findings)")
	}

	if err != nil {
		zLogger.Fatal().Err(err).Str("mode", flags.Mode).Msg("Command failed")
	}
}

func runRulePackMode(ctx context.Context, store *datastore.Store, zLogger zerolog.Logger, flags AppFlags) error {
	service := rulepack.NewService(store, zLogger)

	switch {
	case flags.RuleFile != "":
		result, err := service.InstallFile(ctx, flags.RuleFile, flags.RuleVersion)
		if err != nil {
			return err
		}
		return printJSON(result)
	case flags.Activate != "":
		return service.Activate(ctx, flags.Activate)
	case flags.List:
		packs, err := service.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(packs)
	default:
		return fmt.Errorf("rulepack mode requires --rules, --activate or --list")
	}
}

func runScanMode(ctx context.Context, store *datastore.Store, zLogger zerolog.Logger, flags AppFlags) error {
	if flags.VCSName == "" || flags.ProjectKey == "" || flags.RepoID == "" || flags.RepoName == "" {
		return fmt.Errorf("scan mode requires --vcs, --project, --repo-id and --repo-name")
	}

	scanType, err := models.ParseScanType(flags.ScanType)
	if err != nil {
		return err
	}

	var matches []models.SecretMatch
	if flags.LeaksFile != "" {
		matches, err = ingest.ReadLeaksFile(flags.LeaksFile)
		if err != nil {
			return err
		}
	}

	job := &ingest.ScanJob{
		VCSInstance: models.VCSInstance{
			Name:         flags.VCSName,
			ProviderType: models.VCSProviderType(flags.Provider),
			Hostname:     flags.Hostname,
		},
		Repository: models.Repository{
			ProjectKey:     flags.ProjectKey,
			RepositoryID:   flags.RepoID,
			RepositoryName: flags.RepoName,
			RepositoryURL:  flags.RepoURL,
		},
		ScanType:          scanType,
		LastScannedCommit: flags.LastCommit,
		RuleVersion:       flags.ScanVersion,
		Matches:           matches,
	}

	report, err := ingest.NewService(store, zLogger).ProcessScan(ctx, job)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runAuditMode(ctx context.Context, store *datastore.Store, flags AppFlags) error {
	if flags.FindingID == 0 {
		return fmt.Errorf("audit mode requires --finding")
	}

	if flags.History {
		history, err := store.AuditHistory(ctx, flags.FindingID)
		if err != nil {
			return err
		}
		return printJSON(history)
	}

	status, err := models.ParseFindingStatus(flags.Status)
	if err != nil {
		return err
	}
	auditor := flags.Auditor
	if auditor == "" {
		return fmt.Errorf("audit mode requires --auditor")
	}

	auditID, err := store.RecordAudit(ctx, flags.FindingID, status, auditor, flags.Comment)
	if err != nil {
		return err
	}
	fmt.Printf("recorded audit %d on finding %d\n", auditID, flags.FindingID)
	return nil
}

func runFindingsMode(ctx context.Context, store *datastore.Store, flags AppFlags) error {
	filter := datastore.FindingFilter{Skip: flags.Skip, Limit: flags.Limit}
	if flags.RuleNames != "" {
		filter.RuleNames = splitCSV(flags.RuleNames)
	}
	for _, raw := range splitCSV(flags.Status) {
		status, err := models.ParseFindingStatus(raw)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	switch {
	case flags.ScanID != 0:
		findings, err := store.FindingsForScan(ctx, flags.ScanID, filter)
		if err != nil {
			return err
		}
		return printJSON(findings)
	case flags.RepositoryID != 0:
		findings, err := store.FindingsForRepository(ctx, flags.RepositoryID, filter)
		if err != nil {
			return err
		}
		return printJSON(findings)
	default:
		return fmt.Errorf("findings mode requires --scan or --repository")
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
