package models

import (
	"fmt"
	"time"
)

// Finding is a deduplicated record of one detected secret occurrence in a
// repository. The secret text itself is never stored; only its location and
// commit metadata are. A finding is linked to every scan that observed it.
type Finding struct {
	ID              int64      `json:"id"`
	RepositoryID    int64      `json:"repository_id"`
	RuleName        string     `json:"rule_name"`
	FilePath        string     `json:"file_path"`
	LineNumber      int        `json:"line_number"`
	ColumnStart     int        `json:"column_start"`
	ColumnEnd       int        `json:"column_end"`
	CommitID        string     `json:"commit_id"`
	CommitMessage   string     `json:"commit_message,omitempty"`
	CommitTimestamp time.Time  `json:"commit_timestamp"`
	Author          string     `json:"author,omitempty"`
	Email           string     `json:"email,omitempty"`
	EventSentOn     *time.Time `json:"event_sent_on,omitempty"`
	IsDirScan       bool       `json:"is_dir_scan"`
}

// FindingKey is the deduplication identity of a finding. Two matches with the
// same key collapse to a single finding row regardless of which scans
// observed them.
type FindingKey struct {
	RepositoryID int64
	RuleName     string
	FilePath     string
	LineNumber   int
	CommitID     string
	ColumnStart  int
	ColumnEnd    int
}

// Key returns the deduplication key of the finding.
func (f *Finding) Key() FindingKey {
	return FindingKey{
		RepositoryID: f.RepositoryID,
		RuleName:     f.RuleName,
		FilePath:     f.FilePath,
		LineNumber:   f.LineNumber,
		CommitID:     f.CommitID,
		ColumnStart:  f.ColumnStart,
		ColumnEnd:    f.ColumnEnd,
	}
}

// String renders the key in a form suitable for error messages and logs.
func (k FindingKey) String() string {
	return fmt.Sprintf("repo=%d rule=%s path=%s line=%d commit=%s cols=%d-%d",
		k.RepositoryID, k.RuleName, k.FilePath, k.LineNumber, k.CommitID, k.ColumnStart, k.ColumnEnd)
}

// SecretMatch is one raw detector hit as produced by the scanner adapter,
// before allow list filtering. Secret carries the matched text and is used
// only for suppression checks; it is dropped before persistence.
type SecretMatch struct {
	RuleName        string    `json:"rule_name"`
	FilePath        string    `json:"file_path"`
	LineNumber      int       `json:"line_number"`
	ColumnStart     int       `json:"column_start"`
	ColumnEnd       int       `json:"column_end"`
	CommitID        string    `json:"commit_id"`
	CommitMessage   string    `json:"commit_message,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
	Author          string    `json:"author,omitempty"`
	Email           string    `json:"email,omitempty"`
	Secret          string    `json:"secret,omitempty"`
	IsDirScan       bool      `json:"is_dir_scan,omitempty"`
}

// ToFinding converts the raw match into a persistable finding for the given
// repository, discarding the secret text.
func (m *SecretMatch) ToFinding(repositoryID int64) Finding {
	return Finding{
		RepositoryID:    repositoryID,
		RuleName:        m.RuleName,
		FilePath:        m.FilePath,
		LineNumber:      m.LineNumber,
		ColumnStart:     m.ColumnStart,
		ColumnEnd:       m.ColumnEnd,
		CommitID:        m.CommitID,
		CommitMessage:   m.CommitMessage,
		CommitTimestamp: m.CommitTimestamp,
		Author:          m.Author,
		Email:           m.Email,
		IsDirScan:       m.IsDirScan,
	}
}
