package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/resc-project/resc/internal/models"
)

// RecordScan records one scan run for a repository and returns its id.
//
// A BASE scan starts a new lineage at increment 0. An INCREMENTAL scan
// requires a prior scan for the repository and continues its lineage at
// increment_number+1, otherwise ErrInvalidSequence. The new scan becomes the
// repository's latest; the previous latest is demoted in the same
// transaction. Recording a scan for a soft deleted repository undeletes it.
func (s *Store) RecordScan(ctx context.Context, repositoryID int64, scanType models.ScanType, lastScannedCommit, ruleVersion string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entity := fmt.Sprintf("scan repository=%d", repositoryID)
	var scanID int64

	err := s.retrier.Do(ctx, entity, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM rule_pack WHERE version = ?`, ruleVersion).Scan(&exists)
			if err == sql.ErrNoRows {
				return entityErr(ErrUnknownRulePack, "version=%s", ruleVersion)
			}
			if err != nil {
				return err
			}

			var deletedAt sql.NullTime
			err = tx.QueryRowContext(ctx, `SELECT deleted_at FROM repository WHERE id = ?`, repositoryID).Scan(&deletedAt)
			if err == sql.ErrNoRows {
				return entityErr(ErrUnknownRepository, "repository id=%d", repositoryID)
			}
			if err != nil {
				return err
			}
			if deletedAt.Valid {
				// The repository was just scanned, therefore it exists.
				s.logger.Warn().Int64("repository_pk", repositoryID).Msg("Repository was marked as deleted, undeleting it")
				if _, err := tx.ExecContext(ctx, `UPDATE repository SET deleted_at = NULL WHERE id = ?`, repositoryID); err != nil {
					return err
				}
			}

			var prevID int64
			var prevIncrement int
			hasPrev := true
			err = tx.QueryRowContext(ctx,
				`SELECT id, increment_number FROM scan WHERE repository_id = ? AND is_latest = 1`, repositoryID).
				Scan(&prevID, &prevIncrement)
			if err == sql.ErrNoRows {
				hasPrev = false
			} else if err != nil {
				return err
			}

			incrementNumber := 0
			if scanType == models.ScanTypeIncremental {
				if !hasPrev {
					return entityErr(ErrInvalidSequence, "incremental scan for repository id=%d with no prior scan", repositoryID)
				}
				incrementNumber = prevIncrement + 1
			}

			if hasPrev {
				if _, err := tx.ExecContext(ctx, `UPDATE scan SET is_latest = 0 WHERE id = ?`, prevID); err != nil {
					return err
				}
			}

			result, err := tx.ExecContext(ctx,
				`INSERT INTO scan (rule_pack, scan_type, last_scanned_commit, timestamp, increment_number, repository_id, is_latest)
				 VALUES (?, ?, ?, ?, ?, ?, 1)`,
				ruleVersion, string(scanType), lastScannedCommit, time.Now().UTC(), incrementNumber, repositoryID)
			if err != nil {
				return err
			}
			scanID, err = result.LastInsertId()
			return err
		})
	})
	if err != nil {
		return 0, translateErr(err, entity)
	}

	s.logger.Info().Int64("scan_id", scanID).Int64("repository_pk", repositoryID).
		Str("scan_type", string(scanType)).Str("rule_pack", ruleVersion).Msg("Recorded scan")
	return scanID, nil
}

// GetScan retrieves a scan by id.
func (s *Store) GetScan(ctx context.Context, scanID int64) (*models.Scan, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, rule_pack, scan_type, last_scanned_commit, timestamp, increment_number, repository_id, is_latest
		 FROM scan WHERE id = ?`, scanID)

	scan, err := scanScanRow(row)
	if err == sql.ErrNoRows {
		return nil, entityErr(ErrUnknownScan, "scan id=%d", scanID)
	}
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("scan id=%d", scanID))
	}
	return scan, nil
}

// GetLatestScanForRepository retrieves the repository's latest scan, or
// ErrUnknownScan when the repository has never been scanned.
func (s *Store) GetLatestScanForRepository(ctx context.Context, repositoryID int64) (*models.Scan, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, rule_pack, scan_type, last_scanned_commit, timestamp, increment_number, repository_id, is_latest
		 FROM scan WHERE repository_id = ? AND is_latest = 1`, repositoryID)

	scan, err := scanScanRow(row)
	if err == sql.ErrNoRows {
		return nil, entityErr(ErrUnknownScan, "latest scan for repository id=%d", repositoryID)
	}
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("latest scan for repository id=%d", repositoryID))
	}
	return scan, nil
}

// ListScansForRepository retrieves all scans of a repository in insertion
// order.
func (s *Store) ListScansForRepository(ctx context.Context, repositoryID int64) ([]models.Scan, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_pack, scan_type, last_scanned_commit, timestamp, increment_number, repository_id, is_latest
		 FROM scan WHERE repository_id = ? ORDER BY id`, repositoryID)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("scans for repository id=%d", repositoryID))
	}
	defer rows.Close()

	var scans []models.Scan
	for rows.Next() {
		var scan models.Scan
		var scanType string
		err := rows.Scan(&scan.ID, &scan.RulePack, &scanType, &scan.LastScannedCommit,
			&scan.Timestamp, &scan.IncrementNumber, &scan.RepositoryID, &scan.IsLatest)
		if err != nil {
			return nil, err
		}
		scan.ScanType = models.ScanType(scanType)
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

func scanScanRow(row *sql.Row) (*models.Scan, error) {
	var scan models.Scan
	var scanType string
	err := row.Scan(&scan.ID, &scan.RulePack, &scanType, &scan.LastScannedCommit,
		&scan.Timestamp, &scan.IncrementNumber, &scan.RepositoryID, &scan.IsLatest)
	if err != nil {
		return nil, err
	}
	scan.ScanType = models.ScanType(scanType)
	return &scan, nil
}
