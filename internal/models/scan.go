package models

import (
	"fmt"
	"time"
)

// ScanType distinguishes a full pass from a differential pass.
type ScanType string

const (
	ScanTypeBase        ScanType = "BASE"
	ScanTypeIncremental ScanType = "INCREMENTAL"
)

// ParseScanType converts a string into a ScanType.
func ParseScanType(s string) (ScanType, error) {
	switch ScanType(s) {
	case ScanTypeBase, ScanTypeIncremental:
		return ScanType(s), nil
	default:
		return "", fmt.Errorf("unsupported scan type %q", s)
	}
}

// Scan records one execution of the detector against a repository. A BASE
// scan starts a new lineage at increment 0; INCREMENTAL scans continue the
// lineage with a monotonically increasing increment number. Exactly one scan
// per repository carries IsLatest.
type Scan struct {
	ID                int64     `json:"id"`
	RulePack          string    `json:"rule_pack"`
	ScanType          ScanType  `json:"scan_type"`
	LastScannedCommit string    `json:"last_scanned_commit"`
	Timestamp         time.Time `json:"timestamp"`
	IncrementNumber   int       `json:"increment_number"`
	RepositoryID      int64     `json:"repository_id"`
	IsLatest          bool      `json:"is_latest"`
}
