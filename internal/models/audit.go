package models

import (
	"fmt"
	"time"
)

// FindingStatus is an auditor's disposition of a finding.
type FindingStatus string

const (
	StatusNotAnalyzed           FindingStatus = "NOT_ANALYZED"
	StatusNotAccessible         FindingStatus = "NOT_ACCESSIBLE"
	StatusClarificationRequired FindingStatus = "CLARIFICATION_REQUIRED"
	StatusUnderReview           FindingStatus = "UNDER_REVIEW"
	StatusTruePositive          FindingStatus = "TRUE_POSITIVE"
	StatusFalsePositive         FindingStatus = "FALSE_POSITIVE"
	StatusOutdated              FindingStatus = "OUTDATED"
)

// FindingStatuses lists every supported disposition.
func FindingStatuses() []FindingStatus {
	return []FindingStatus{
		StatusNotAnalyzed,
		StatusNotAccessible,
		StatusClarificationRequired,
		StatusUnderReview,
		StatusTruePositive,
		StatusFalsePositive,
		StatusOutdated,
	}
}

// ParseFindingStatus converts a string into a FindingStatus.
func ParseFindingStatus(s string) (FindingStatus, error) {
	for _, status := range FindingStatuses() {
		if FindingStatus(s) == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("unsupported finding status %q", s)
}

// Automated audits (e.g. marking findings outdated when their rule leaves the
// active pack) are recorded under a fixed auditor identity.
const (
	AutomatedAuditor = "resc"
	AutomatedComment = "automated"
)

// Audit is one auditor disposition of a finding. Audits are append only: a
// new disposition inserts a row and demotes the previous latest, it never
// mutates history. Exactly one audit per finding carries IsLatest. A finding
// with no audit rows reads as NOT_ANALYZED.
type Audit struct {
	ID        int64         `json:"id"`
	FindingID int64         `json:"finding_id"`
	Status    FindingStatus `json:"status"`
	Auditor   string        `json:"auditor"`
	Comment   string        `json:"comment,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	IsLatest  bool          `json:"is_latest"`
}
