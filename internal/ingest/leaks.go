package ingest

import (
	"encoding/json"
	"os"
	"time"

	"github.com/resc-project/resc/internal/errorwrapper"
	"github.com/resc-project/resc/internal/models"
)

// LeakEntry is one finding in a gitleaks JSON report.
type LeakEntry struct {
	Description string   `json:"Description"`
	StartLine   int      `json:"StartLine"`
	EndLine     int      `json:"EndLine"`
	StartColumn int      `json:"StartColumn"`
	EndColumn   int      `json:"EndColumn"`
	Match       string   `json:"Match"`
	Secret      string   `json:"Secret"`
	File        string   `json:"File"`
	Commit      string   `json:"Commit"`
	Entropy     float64  `json:"Entropy"`
	Author      string   `json:"Author"`
	Email       string   `json:"Email"`
	Date        string   `json:"Date"`
	Message     string   `json:"Message"`
	Tags        []string `json:"Tags"`
	RuleID      string   `json:"RuleID"`
	Fingerprint string   `json:"Fingerprint"`
}

// ToMatch converts the report entry into a detector match. An empty commit
// marks the entry as a directory scan hit.
func (e *LeakEntry) ToMatch() models.SecretMatch {
	match := models.SecretMatch{
		RuleName:      e.RuleID,
		FilePath:      e.File,
		LineNumber:    e.StartLine,
		ColumnStart:   e.StartColumn,
		ColumnEnd:     e.EndColumn,
		CommitID:      e.Commit,
		CommitMessage: e.Message,
		Author:        e.Author,
		Email:         e.Email,
		Secret:        e.Secret,
		IsDirScan:     e.Commit == "",
	}
	if ts, err := time.Parse(time.RFC3339, e.Date); err == nil {
		match.CommitTimestamp = ts
	}
	return match
}

// ReadLeaksFile parses a gitleaks JSON report into detector matches.
func ReadLeaksFile(path string) ([]models.SecretMatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorwrapper.WrapErrorf(err, "failed to read leaks report %s", path)
	}

	var entries []LeakEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errorwrapper.WrapErrorf(err, "failed to parse leaks report %s", path)
	}

	matches := make([]models.SecretMatch, 0, len(entries))
	for i := range entries {
		matches = append(matches, entries[i].ToMatch())
	}
	return matches, nil
}
