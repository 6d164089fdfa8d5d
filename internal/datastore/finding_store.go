package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/resc-project/resc/internal/models"
)

// IngestReport summarizes one finding ingestion batch.
type IngestReport struct {
	// Created counts matches that produced a new finding row.
	Created int
	// Linked counts matches that resolved to an already known finding.
	Linked int
	// FindingIDs holds the ids of every finding observed by the batch, new
	// and pre-existing alike.
	FindingIDs []int64
}

// IngestFindings persists one scan's worth of detector matches.
//
// Each match is resolved against the finding dedup key (repository, rule,
// file path, line, commit, columns): a known key only gains a scan link, an
// unknown key inserts a new finding. The whole batch runs in a single
// transaction; any failure rolls it back entirely and surfaces
// ErrIngestFailed. Re-ingesting the same matches for the same scan is
// idempotent because the (scan, finding) link is a primary key inserted with
// OR IGNORE.
func (s *Store) IngestFindings(ctx context.Context, scanID int64, matches []models.SecretMatch) (IngestReport, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entity := fmt.Sprintf("scan id=%d", scanID)
	var report IngestReport

	scan, err := s.GetScan(ctx, scanID)
	if err != nil {
		return report, err
	}

	if len(matches) == 0 {
		return report, nil
	}

	err = s.retrier.Do(ctx, entity, func() error {
		report = IngestReport{}
		return s.withTx(ctx, func(tx *sql.Tx) error {
			for i := range matches {
				finding := matches[i].ToFinding(scan.RepositoryID)
				findingID, created, err := upsertFinding(ctx, tx, &finding)
				if err != nil {
					return fmt.Errorf("match %s: %w", finding.Key(), err)
				}
				if created {
					report.Created++
				} else {
					report.Linked++
				}

				_, err = tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO scan_finding (scan_id, finding_id) VALUES (?, ?)`, scanID, findingID)
				if err != nil {
					return fmt.Errorf("link finding id=%d: %w", findingID, err)
				}
				report.FindingIDs = append(report.FindingIDs, findingID)
			}
			return nil
		})
	})
	if err != nil {
		err = translateErr(err, entity)
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrTimeout) {
			return IngestReport{}, err
		}
		return IngestReport{}, fmt.Errorf("%w: %s: %v", ErrIngestFailed, entity, err)
	}

	s.logger.Info().Int64("scan_id", scanID).Int("created", report.Created).
		Int("linked", report.Linked).Msg("Ingested findings")
	return report, nil
}

// upsertFinding looks the dedup key up and inserts a new finding row when
// absent. The unique index on the key makes the lookup-or-insert atomic
// within the surrounding transaction.
func upsertFinding(ctx context.Context, tx *sql.Tx, finding *models.Finding) (int64, bool, error) {
	key := finding.Key()

	var findingID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM finding
		 WHERE repository_id = ? AND rule_name = ? AND file_path = ? AND line_number = ?
		   AND commit_id = ? AND column_start = ? AND column_end = ?`,
		key.RepositoryID, key.RuleName, key.FilePath, key.LineNumber,
		key.CommitID, key.ColumnStart, key.ColumnEnd).Scan(&findingID)
	if err == nil {
		return findingID, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO finding (repository_id, rule_name, file_path, line_number, column_start, column_end,
			commit_id, commit_message, commit_timestamp, author, email, is_dir_scan)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		finding.RepositoryID, finding.RuleName, finding.FilePath, finding.LineNumber,
		finding.ColumnStart, finding.ColumnEnd, finding.CommitID, finding.CommitMessage,
		finding.CommitTimestamp, finding.Author, finding.Email, finding.IsDirScan)
	if err != nil {
		return 0, false, err
	}
	findingID, err = result.LastInsertId()
	return findingID, true, err
}

// GetFinding retrieves a finding by id.
func (s *Store) GetFinding(ctx context.Context, findingID int64) (*models.Finding, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, repository_id, rule_name, file_path, line_number, column_start, column_end,
			commit_id, commit_message, commit_timestamp, author, email, event_sent_on, is_dir_scan
		 FROM finding WHERE id = ?`, findingID)

	finding, err := scanFindingRow(row)
	if err == sql.ErrNoRows {
		return nil, entityErr(ErrUnknownFinding, "finding id=%d", findingID)
	}
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("finding id=%d", findingID))
	}
	return finding, nil
}

func scanFindingRow(row *sql.Row) (*models.Finding, error) {
	var f models.Finding
	var commitMessage, author, email sql.NullString
	var commitTimestamp, eventSentOn sql.NullTime

	err := row.Scan(&f.ID, &f.RepositoryID, &f.RuleName, &f.FilePath, &f.LineNumber,
		&f.ColumnStart, &f.ColumnEnd, &f.CommitID, &commitMessage, &commitTimestamp,
		&author, &email, &eventSentOn, &f.IsDirScan)
	if err != nil {
		return nil, err
	}

	f.CommitMessage = commitMessage.String
	f.Author = author.String
	f.Email = email.String
	if commitTimestamp.Valid {
		f.CommitTimestamp = commitTimestamp.Time
	}
	if eventSentOn.Valid {
		t := eventSentOn.Time
		f.EventSentOn = &t
	}
	return &f, nil
}

// FindingFilter narrows finding listings on the read-only reporting surface.
type FindingFilter struct {
	RuleNames []string
	Statuses  []models.FindingStatus
	Skip      int
	Limit     int
}

// FindingsForScan retrieves the findings linked to a scan, paginated.
func (s *Store) FindingsForScan(ctx context.Context, scanID int64, filter FindingFilter) ([]models.Finding, error) {
	return s.queryFindings(ctx, `JOIN scan_finding sf ON sf.finding_id = f.id AND sf.scan_id = ?`,
		[]interface{}{scanID}, filter, fmt.Sprintf("findings for scan id=%d", scanID))
}

// FindingsForRepository retrieves a repository's findings, paginated.
func (s *Store) FindingsForRepository(ctx context.Context, repositoryID int64, filter FindingFilter) ([]models.Finding, error) {
	return s.queryFindings(ctx, `WHERE f.repository_id = ?`,
		[]interface{}{repositoryID}, filter, fmt.Sprintf("findings for repository id=%d", repositoryID))
}

func (s *Store) queryFindings(ctx context.Context, scopeClause string, scopeArgs []interface{}, filter FindingFilter, entity string) ([]models.Finding, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT f.id, f.repository_id, f.rule_name, f.file_path, f.line_number,
		f.column_start, f.column_end, f.commit_id, f.commit_message, f.commit_timestamp,
		f.author, f.email, f.event_sent_on, f.is_dir_scan
		FROM finding f `)
	args := append([]interface{}{}, scopeArgs...)

	conjunction := "WHERE"
	if strings.HasPrefix(scopeClause, "WHERE") {
		conjunction = "AND"
	}
	sb.WriteString(scopeClause)

	if len(filter.RuleNames) > 0 {
		sb.WriteString(fmt.Sprintf(" %s f.rule_name IN (%s)", conjunction, placeholders(len(filter.RuleNames))))
		for _, name := range filter.RuleNames {
			args = append(args, name)
		}
		conjunction = "AND"
	}

	if len(filter.Statuses) > 0 {
		sb.WriteString(fmt.Sprintf(` %s COALESCE(
			(SELECT a.status FROM audit a WHERE a.finding_id = f.id AND a.is_latest = 1), 'NOT_ANALYZED')
			IN (%s)`, conjunction, placeholders(len(filter.Statuses))))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}

	sb.WriteString(" ORDER BY f.id")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, filter.Limit, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, translateErr(err, entity)
	}
	defer rows.Close()

	var findings []models.Finding
	for rows.Next() {
		var f models.Finding
		var commitMessage, author, email sql.NullString
		var commitTimestamp, eventSentOn sql.NullTime
		err := rows.Scan(&f.ID, &f.RepositoryID, &f.RuleName, &f.FilePath, &f.LineNumber,
			&f.ColumnStart, &f.ColumnEnd, &f.CommitID, &commitMessage, &commitTimestamp,
			&author, &email, &eventSentOn, &f.IsDirScan)
		if err != nil {
			return nil, err
		}
		f.CommitMessage = commitMessage.String
		f.Author = author.String
		f.Email = email.String
		if commitTimestamp.Valid {
			f.CommitTimestamp = commitTimestamp.Time
		}
		if eventSentOn.Valid {
			t := eventSentOn.Time
			f.EventSentOn = &t
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// CountFindingsByStatus tallies a repository's findings per latest audit
// status. Findings without audits count as NOT_ANALYZED.
func (s *Store) CountFindingsByStatus(ctx context.Context, repositoryID int64) (map[models.FindingStatus]int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(a.status, 'NOT_ANALYZED') AS status, COUNT(*)
		 FROM finding f
		 LEFT JOIN audit a ON a.finding_id = f.id AND a.is_latest = 1
		 WHERE f.repository_id = ?
		 GROUP BY status`, repositoryID)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("finding counts for repository id=%d", repositoryID))
	}
	defer rows.Close()

	counts := make(map[models.FindingStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[models.FindingStatus(status)] = count
	}
	return counts, rows.Err()
}

// DistinctRuleNamesForScans retrieves the unique rule names detected by the
// given scans.
func (s *Store) DistinctRuleNamesForScans(ctx context.Context, scanIDs []int64) ([]string, error) {
	if len(scanIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	args := make([]interface{}, len(scanIDs))
	for i, id := range scanIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT f.rule_name FROM finding f
			JOIN scan_finding sf ON sf.finding_id = f.id
			WHERE sf.scan_id IN (%s) ORDER BY f.rule_name`, placeholders(len(scanIDs))), args...)
	if err != nil {
		return nil, translateErr(err, "distinct rules for scans")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// MarkEventSent records when a finding's notification event went out.
func (s *Store) MarkEventSent(ctx context.Context, findingID int64, sentOn time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`UPDATE finding SET event_sent_on = ? WHERE id = ?`, sentOn.UTC(), findingID)
	if err != nil {
		return translateErr(err, fmt.Sprintf("finding id=%d", findingID))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return entityErr(ErrUnknownFinding, "finding id=%d", findingID)
	}
	return nil
}

// UntriagedFindingsWithRuleNotInPack retrieves ids of a repository's
// findings whose rule is absent from the given pack version and whose latest
// status is still NOT_ANALYZED. These are candidates for automated OUTDATED
// audits after a scan with a newer pack.
func (s *Store) UntriagedFindingsWithRuleNotInPack(ctx context.Context, repositoryID int64, version string) ([]int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id FROM finding f
		 WHERE f.repository_id = ?
		   AND f.rule_name NOT IN (SELECT rule_name FROM rules WHERE rule_pack = ?)
		   AND COALESCE(
			(SELECT a.status FROM audit a WHERE a.finding_id = f.id AND a.is_latest = 1),
			'NOT_ANALYZED') = 'NOT_ANALYZED'
		 ORDER BY f.id`, repositoryID, version)
	if err != nil {
		return nil, translateErr(err, fmt.Sprintf("untriaged findings for repository id=%d", repositoryID))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
