package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy surfaced by the store. Every wrapped instance names the
// offending entity key so callers can retry idempotently.
var (
	// ErrInvalidSequence indicates scan ordering was violated, e.g. an
	// INCREMENTAL scan for a repository with no prior scan.
	ErrInvalidSequence = errors.New("invalid scan sequence")
	// ErrUnknownRulePack indicates the referenced rule pack version does not exist.
	ErrUnknownRulePack = errors.New("unknown rule pack")
	// ErrRulePackExists indicates a rule pack version is already present.
	ErrRulePackExists = errors.New("rule pack version already exists")
	// ErrUnknownVCSInstance indicates the referenced VCS instance does not exist.
	ErrUnknownVCSInstance = errors.New("unknown vcs instance")
	// ErrUnknownRepository indicates the referenced repository does not exist.
	ErrUnknownRepository = errors.New("unknown repository")
	// ErrUnknownScan indicates the referenced scan does not exist.
	ErrUnknownScan = errors.New("unknown scan")
	// ErrUnknownFinding indicates the referenced finding does not exist.
	ErrUnknownFinding = errors.New("unknown finding")
	// ErrIngestFailed indicates a finding batch was rolled back entirely.
	ErrIngestFailed = errors.New("finding ingestion failed")
	// ErrConcurrentModification indicates a latest-flag race was lost after
	// the retry budget was exhausted.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrTimeout indicates the caller-supplied deadline expired.
	ErrTimeout = errors.New("operation timed out")
)

// entityErr wraps a sentinel with the key of the offending entity.
func entityErr(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// translateErr maps context expiry onto ErrTimeout; other errors pass
// through unchanged.
func translateErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, entity, err)
	}
	return err
}

// isBusy reports whether the error is transient SQLite lock contention,
// which the retrier may attempt again.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// isUniqueViolation reports whether the error is a unique constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLITE_CONSTRAINT_UNIQUE")
}
