package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/resc-project/resc/internal/config"
)

type AppFlags struct {
	Mode             string
	GlobalConfigFile string

	// rulepack mode
	RuleFile    string
	RuleVersion string
	Activate    string
	List        bool

	// scan mode
	LeaksFile   string
	ScanType    string
	VCSName     string
	Provider    string
	Hostname    string
	ProjectKey  string
	RepoID      string
	RepoName    string
	RepoURL     string
	LastCommit  string
	ScanVersion string

	// audit mode
	FindingID int64
	Status    string
	Auditor   string
	Comment   string
	History   bool

	// findings mode
	ScanID       int64
	RepositoryID int64
	RuleNames    string
	Skip         int
	Limit        int
}

// normalizeLimit clamps a findings page size to the reporting surface limits.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return config.DefaultRecordsPerPage
	}
	if limit > config.MaxRecordsPerPage {
		return config.MaxRecordsPerPage
	}
	return limit
}

func ParseFlags() AppFlags {
	modeFlag := flag.String("mode", "", "Mode to run the tool: init, rulepack, scan, audit or findings")
	modeFlagAlias := flag.String("m", "", "Alias for -mode")

	globalConfigFile := flag.String("config", "", "Path to the global YAML/JSON configuration file. If not set, searches default locations.")
	globalConfigFileAlias := flag.String("c", "", "Alias for -config")

	ruleFile := flag.String("rules", "", "Path to a TOML rule file to install (rulepack mode).")
	ruleVersion := flag.String("rule-version", "", "Semver version for the rule pack. Overrides the version field of the rule file.")
	activate := flag.String("activate", "", "Rule pack version to activate (rulepack mode).")
	list := flag.Bool("list", false, "List installed rule packs (rulepack mode).")

	leaksFile := flag.String("leaks", "", "Path to a gitleaks JSON report to ingest (scan mode).")
	scanType := flag.String("scan-type", "BASE", "Scan type: BASE or INCREMENTAL (scan mode).")
	vcsName := flag.String("vcs", "", "VCS instance name the repository lives on (scan mode).")
	provider := flag.String("provider", "GITHUB_PUBLIC", "VCS provider type: BITBUCKET, AZURE_DEVOPS or GITHUB_PUBLIC (scan mode).")
	hostname := flag.String("hostname", "", "VCS instance hostname (scan mode).")
	projectKey := flag.String("project", "", "Project key of the repository (scan mode).")
	repoID := flag.String("repo-id", "", "Provider-native repository id (scan mode).")
	repoName := flag.String("repo-name", "", "Repository name (scan mode).")
	repoURL := flag.String("repo-url", "", "Repository URL (scan mode).")
	lastCommit := flag.String("commit", "", "Last scanned commit id (scan mode).")

	findingID := flag.Int64("finding", 0, "Finding id to audit or inspect (audit mode).")
	status := flag.String("status", "", "Finding status to record (audit mode) or comma separated status filter (findings mode).")
	auditor := flag.String("auditor", "", "Auditor identity for the recorded audit (audit mode).")
	comment := flag.String("comment", "", "Audit comment (audit mode).")
	history := flag.Bool("history", false, "Print the finding's full audit trail instead of recording (audit mode).")

	scanID := flag.Int64("scan", 0, "Scan id to list findings for (findings mode).")
	repositoryID := flag.Int64("repository", 0, "Repository id to list findings for (findings mode).")
	ruleNames := flag.String("rule-names", "", "Comma separated rule name filter (findings mode).")
	skip := flag.Int("skip", 0, "Number of findings to skip (findings mode).")
	limit := flag.Int("limit", config.DefaultRecordsPerPage, "Maximum number of findings to return (findings mode).")

	flag.Parse()

	flags := AppFlags{
		RuleFile:     *ruleFile,
		RuleVersion:  *ruleVersion,
		Activate:     *activate,
		List:         *list,
		LeaksFile:    *leaksFile,
		ScanType:     *scanType,
		VCSName:      *vcsName,
		Provider:     *provider,
		Hostname:     *hostname,
		ProjectKey:   *projectKey,
		RepoID:       *repoID,
		RepoName:     *repoName,
		RepoURL:      *repoURL,
		LastCommit:   *lastCommit,
		ScanVersion:  *ruleVersion,
		FindingID:    *findingID,
		Status:       *status,
		Auditor:      *auditor,
		Comment:      *comment,
		History:      *history,
		ScanID:       *scanID,
		RepositoryID: *repositoryID,
		RuleNames:    *ruleNames,
		Skip:         *skip,
		Limit:        normalizeLimit(*limit),
	}

	if *modeFlag != "" {
		flags.Mode = *modeFlag
	} else if *modeFlagAlias != "" {
		flags.Mode = *modeFlagAlias
	}

	if *globalConfigFile != "" {
		flags.GlobalConfigFile = *globalConfigFile
	} else if *globalConfigFileAlias != "" {
		flags.GlobalConfigFile = *globalConfigFileAlias
	}

	if flags.Mode == "" {
		fmt.Fprintln(os.Stderr, "[FATAL] --mode argument is required (init, rulepack, scan, audit or findings)")
		os.Exit(1)
	}

	return flags
}
