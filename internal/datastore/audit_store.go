package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/resc-project/resc/internal/models"
)

// RecordAudit appends a triage decision to a finding's audit trail. The new
// audit becomes the finding's latest; the previous latest is demoted in the
// same transaction so exactly one latest exists per finding at all times.
func (s *Store) RecordAudit(ctx context.Context, findingID int64, status models.FindingStatus, auditor, comment string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entity := fmt.Sprintf("finding id=%d", findingID)
	var auditID int64

	err := s.retrier.Do(ctx, entity, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var exists int64
			err := tx.QueryRowContext(ctx, `SELECT id FROM finding WHERE id = ?`, findingID).Scan(&exists)
			if err == sql.ErrNoRows {
				return entityErr(ErrUnknownFinding, "finding id=%d", findingID)
			}
			if err != nil {
				return err
			}

			id, err := insertAudit(ctx, tx, findingID, status, auditor, comment, time.Now().UTC())
			if err != nil {
				return err
			}
			auditID = id
			return nil
		})
	})
	if err != nil {
		return 0, translateErr(err, entity)
	}

	s.logger.Debug().Int64("finding_id", findingID).Str("status", string(status)).
		Str("auditor", auditor).Msg("Recorded audit")
	return auditID, nil
}

// insertAudit demotes the finding's current latest audit and inserts the new
// one as latest. Caller holds the transaction.
func insertAudit(ctx context.Context, tx *sql.Tx, findingID int64, status models.FindingStatus, auditor, comment string, timestamp time.Time) (int64, error) {
	_, err := tx.ExecContext(ctx,
		`UPDATE audit SET is_latest = 0 WHERE finding_id = ? AND is_latest = 1`, findingID)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO audit (finding_id, status, auditor, comment, timestamp, is_latest)
		 VALUES (?, ?, ?, ?, ?, 1)`,
		findingID, string(status), auditor, comment, timestamp)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// RecordAutomatedAudits appends a system-issued audit with the given status
// to every listed finding, all in one transaction. Used for bulk transitions
// such as marking findings OUTDATED when their rule left the active pack.
func (s *Store) RecordAutomatedAudits(ctx context.Context, findingIDs []int64, status models.FindingStatus) error {
	if len(findingIDs) == 0 {
		return nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entity := fmt.Sprintf("automated audits status=%s", status)
	err := s.retrier.Do(ctx, entity, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			now := time.Now().UTC()
			for _, findingID := range findingIDs {
				_, err := insertAudit(ctx, tx, findingID, status,
					models.AutomatedAuditor, models.AutomatedComment, now)
				if err != nil {
					return fmt.Errorf("finding id=%d: %w", findingID, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return translateErr(err, entity)
	}

	s.logger.Info().Int("count", len(findingIDs)).Str("status", string(status)).
		Msg("Recorded automated audits")
	return nil
}

// ClearOutdated resets findings whose latest audit is OUTDATED back to
// NOT_ANALYZED, restricted to the given ids. A finding re-observed by a scan
// with a pack that carries its rule again is no longer outdated.
func (s *Store) ClearOutdated(ctx context.Context, findingIDs []int64) (int, error) {
	if len(findingIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	args := make([]interface{}, len(findingIDs))
	for i, id := range findingIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT finding_id FROM audit
			WHERE is_latest = 1 AND status = 'OUTDATED' AND finding_id IN (%s)`,
			placeholders(len(findingIDs))), args...)
	if err != nil {
		return 0, translateErr(err, "outdated findings")
	}

	var outdated []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		outdated = append(outdated, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(outdated) == 0 {
		return 0, nil
	}
	if err := s.RecordAutomatedAudits(ctx, outdated, models.StatusNotAnalyzed); err != nil {
		return 0, err
	}
	return len(outdated), nil
}

// LatestAudit retrieves a finding's current audit, or ErrUnknownFinding when
// the finding does not exist. A finding with no audits yet yields nil.
func (s *Store) LatestAudit(ctx context.Context, findingID int64) (*models.Audit, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.GetFinding(ctx, findingID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, finding_id, status, auditor, comment, timestamp, is_latest
		 FROM audit WHERE finding_id = ? AND is_latest = 1`, findingID)

	audit, err := scanAuditRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("audit for finding id=%d", findingID))
	}
	return audit, nil
}

// LatestStatus resolves a finding's effective triage status. Findings never
// audited are implicitly NOT_ANALYZED.
func (s *Store) LatestStatus(ctx context.Context, findingID int64) (models.FindingStatus, error) {
	audit, err := s.LatestAudit(ctx, findingID)
	if err != nil {
		return "", err
	}
	if audit == nil {
		return models.StatusNotAnalyzed, nil
	}
	return audit.Status, nil
}

// AuditHistory retrieves a finding's full audit trail in the order the
// audits were recorded.
func (s *Store) AuditHistory(ctx context.Context, findingID int64) ([]models.Audit, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.GetFinding(ctx, findingID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, finding_id, status, auditor, comment, timestamp, is_latest
		 FROM audit WHERE finding_id = ? ORDER BY id`, findingID)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("audit history for finding id=%d", findingID))
	}
	defer rows.Close()

	return collectAudits(rows)
}

// AuditFilter narrows audit listings on the reporting surface.
type AuditFilter struct {
	Auditor    string
	Status     models.FindingStatus
	FromDate   *time.Time
	ToDate     *time.Time
	LatestOnly bool
	Skip       int
	Limit      int
}

// ListAudits retrieves audits across all findings matching the filter,
// newest first.
func (s *Store) ListAudits(ctx context.Context, filter AuditFilter) ([]models.Audit, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT id, finding_id, status, auditor, comment, timestamp, is_latest
		FROM audit WHERE 1 = 1`)
	var args []interface{}

	if filter.Auditor != "" {
		sb.WriteString(" AND auditor = ?")
		args = append(args, filter.Auditor)
	}
	if filter.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.FromDate != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, filter.FromDate.UTC())
	}
	if filter.ToDate != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, filter.ToDate.UTC())
	}
	if filter.LatestOnly {
		sb.WriteString(" AND is_latest = 1")
	}

	sb.WriteString(" ORDER BY id DESC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, filter.Limit, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, translateErr(err, "audits")
	}
	defer rows.Close()

	return collectAudits(rows)
}

func collectAudits(rows *sql.Rows) ([]models.Audit, error) {
	var audits []models.Audit
	for rows.Next() {
		audit, err := scanAuditRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		audits = append(audits, *audit)
	}
	return audits, rows.Err()
}

func scanAuditRow(scan func(dest ...interface{}) error) (*models.Audit, error) {
	var a models.Audit
	var status string
	var comment sql.NullString

	err := scan(&a.ID, &a.FindingID, &status, &a.Auditor, &comment, &a.Timestamp, &a.IsLatest)
	if err != nil {
		return nil, err
	}
	a.Status = models.FindingStatus(status)
	a.Comment = comment.String
	return &a, nil
}
