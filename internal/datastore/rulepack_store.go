package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/resc-project/resc/internal/models"
)

// marshalList stores a string slice as a JSON encoded column value.
func marshalList(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalList(value sql.NullString) ([]string, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(value.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// CreateRulePack transactionally inserts the pack, its global allow list,
// rules, rule allow lists, tags and tag links. A duplicate version fails
// with ErrRulePackExists. Packs are immutable once created.
func (s *Store) CreateRulePack(ctx context.Context, pack *models.RulePack) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		globalAllowListID := sql.NullInt64{}
		if !pack.GlobalAllowList.IsEmpty() {
			id, err := insertAllowList(ctx, tx, pack.GlobalAllowList)
			if err != nil {
				return err
			}
			globalAllowListID = sql.NullInt64{Int64: id, Valid: true}
		}

		created := pack.Created
		if created.IsZero() {
			created = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rule_pack (version, global_allow_list, active, created) VALUES (?, ?, ?, ?)`,
			pack.Version, globalAllowListID, pack.Active, created)
		if err != nil {
			if isUniqueViolation(err) {
				return entityErr(ErrRulePackExists, "version=%s", pack.Version)
			}
			return err
		}

		for i := range pack.Rules {
			if err := insertRule(ctx, tx, pack.Version, &pack.Rules[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translateErr(err, "rule_pack version="+pack.Version)
	}

	s.logger.Info().Str("version", pack.Version).Int("rules", len(pack.Rules)).Msg("Stored rule pack")
	return nil
}

func insertAllowList(ctx context.Context, tx *sql.Tx, al *models.AllowList) (int64, error) {
	regexes, err := marshalList(al.Regexes)
	if err != nil {
		return 0, err
	}
	paths, err := marshalList(al.Paths)
	if err != nil {
		return 0, err
	}
	commits, err := marshalList(al.Commits)
	if err != nil {
		return 0, err
	}
	stopWords, err := marshalList(al.StopWords)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO rule_allow_list (description, regexes, paths, commits, stop_words) VALUES (?, ?, ?, ?, ?)`,
		al.Description, regexes, paths, commits, stopWords)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func insertRule(ctx context.Context, tx *sql.Tx, version string, rule *models.Rule) error {
	allowListID := sql.NullInt64{}
	if !rule.AllowList.IsEmpty() {
		id, err := insertAllowList(ctx, tx, rule.AllowList)
		if err != nil {
			return err
		}
		allowListID = sql.NullInt64{Int64: id, Valid: true}
	}

	keywords, err := marshalList(rule.Keywords)
	if err != nil {
		return err
	}

	entropy := sql.NullFloat64{}
	if rule.Entropy != nil {
		entropy = sql.NullFloat64{Float64: *rule.Entropy, Valid: true}
	}
	secretGroup := sql.NullInt64{}
	if rule.SecretGroup != nil {
		secretGroup = sql.NullInt64{Int64: int64(*rule.SecretGroup), Valid: true}
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO rules (rule_pack, allow_list, rule_name, description, entropy, secret_group, regex, path, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		version, allowListID, rule.RuleName, rule.Description, entropy, secretGroup, rule.Regex, rule.Path, keywords)
	if err != nil {
		return err
	}
	ruleID, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rule.ID = ruleID

	for _, tag := range rule.Tags {
		if err := linkRuleTag(ctx, tx, ruleID, tag); err != nil {
			return err
		}
	}
	return nil
}

func linkRuleTag(ctx context.Context, tx *sql.Tx, ruleID int64, tag string) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tag (name) VALUES (?)`, tag); err != nil {
		return err
	}
	var tagID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM tag WHERE name = ?`, tag).Scan(&tagID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO rule_tag (rule_id, tag_id) VALUES (?, ?)`, ruleID, tagID)
	return err
}

// ActivateRulePack marks the given version active and demotes any other
// active pack in the same transaction, preserving the single-active
// invariant under concurrent activation.
func (s *Store) ActivateRulePack(ctx context.Context, version string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entity := "rule_pack version=" + version
	err := s.retrier.Do(ctx, entity, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM rule_pack WHERE version = ?`, version).Scan(&exists)
			if err == sql.ErrNoRows {
				return entityErr(ErrUnknownRulePack, "version=%s", version)
			}
			if err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `UPDATE rule_pack SET active = 0 WHERE active = 1 AND version != ?`, version); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `UPDATE rule_pack SET active = 1 WHERE version = ?`, version)
			return err
		})
	})
	if err != nil {
		return translateErr(err, entity)
	}

	s.logger.Info().Str("version", version).Msg("Activated rule pack")
	return nil
}

// GetRulePack retrieves a rule pack by version, without its rules.
func (s *Store) GetRulePack(ctx context.Context, version string) (*models.RulePack, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT version, global_allow_list, active, created FROM rule_pack WHERE version = ?`, version)
	return s.scanRulePack(ctx, row, "rule_pack version="+version)
}

// GetActiveRulePack retrieves the currently active rule pack, without its
// rules. Returns ErrUnknownRulePack when no pack is active.
func (s *Store) GetActiveRulePack(ctx context.Context) (*models.RulePack, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT version, global_allow_list, active, created FROM rule_pack WHERE active = 1`)
	return s.scanRulePack(ctx, row, "rule_pack active=1")
}

func (s *Store) scanRulePack(ctx context.Context, row *sql.Row, entity string) (*models.RulePack, error) {
	var pack models.RulePack
	var allowListID sql.NullInt64
	err := row.Scan(&pack.Version, &allowListID, &pack.Active, &pack.Created)
	if err == sql.ErrNoRows {
		return nil, entityErr(ErrUnknownRulePack, "%s", entity)
	}
	if err != nil {
		return nil, translateErr(err, entity)
	}

	if allowListID.Valid {
		pack.GlobalAllowList, err = s.getAllowList(ctx, allowListID.Int64)
		if err != nil {
			return nil, translateErr(err, entity)
		}
	}
	return &pack, nil
}

// ListRulePacks retrieves all rule packs ordered by creation time.
func (s *Store) ListRulePacks(ctx context.Context) ([]models.RulePack, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT version, active, created FROM rule_pack ORDER BY created`)
	if err != nil {
		return nil, translateErr(err, "rule_pack list")
	}
	defer rows.Close()

	var packs []models.RulePack
	for rows.Next() {
		var pack models.RulePack
		if err := rows.Scan(&pack.Version, &pack.Active, &pack.Created); err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}

func (s *Store) getAllowList(ctx context.Context, id int64) (*models.AllowList, error) {
	var al models.AllowList
	var description sql.NullString
	var regexes, paths, commits, stopWords sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, description, regexes, paths, commits, stop_words FROM rule_allow_list WHERE id = ?`, id).
		Scan(&al.ID, &description, &regexes, &paths, &commits, &stopWords)
	if err != nil {
		return nil, err
	}

	al.Description = description.String
	if al.Regexes, err = unmarshalList(regexes); err != nil {
		return nil, err
	}
	if al.Paths, err = unmarshalList(paths); err != nil {
		return nil, err
	}
	if al.Commits, err = unmarshalList(commits); err != nil {
		return nil, err
	}
	if al.StopWords, err = unmarshalList(stopWords); err != nil {
		return nil, err
	}
	return &al, nil
}

// GetGlobalAllowList retrieves the global allow list of a rule pack version,
// or nil when the pack carries none.
func (s *Store) GetGlobalAllowList(ctx context.Context, version string) (*models.AllowList, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var allowListID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT global_allow_list FROM rule_pack WHERE version = ?`, version).Scan(&allowListID)
	if err == sql.ErrNoRows {
		return nil, entityErr(ErrUnknownRulePack, "version=%s", version)
	}
	if err != nil {
		return nil, translateErr(err, "rule_pack version="+version)
	}
	if !allowListID.Valid {
		return nil, nil
	}
	return s.getAllowList(ctx, allowListID.Int64)
}

// GetRules retrieves all rules of a rule pack version, with their allow
// lists and tags resolved.
func (s *Store) GetRules(ctx context.Context, version string) ([]models.Rule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_pack, allow_list, rule_name, description, entropy, secret_group, regex, path, keywords
		 FROM rules WHERE rule_pack = ? ORDER BY rule_name`, version)
	if err != nil {
		return nil, translateErr(err, "rules version="+version)
	}
	defer rows.Close()

	var rules []models.Rule
	var allowListIDs []sql.NullInt64
	for rows.Next() {
		var rule models.Rule
		var allowListID sql.NullInt64
		var description, regex, path, keywords sql.NullString
		var entropy sql.NullFloat64
		var secretGroup sql.NullInt64

		err := rows.Scan(&rule.ID, &rule.RulePack, &allowListID, &rule.RuleName,
			&description, &entropy, &secretGroup, &regex, &path, &keywords)
		if err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Regex = regex.String
		rule.Path = path.String
		if entropy.Valid {
			v := entropy.Float64
			rule.Entropy = &v
		}
		if secretGroup.Valid {
			v := int(secretGroup.Int64)
			rule.SecretGroup = &v
		}
		if rule.Keywords, err = unmarshalList(keywords); err != nil {
			return nil, err
		}

		rules = append(rules, rule)
		allowListIDs = append(allowListIDs, allowListID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rules {
		if allowListIDs[i].Valid {
			if rules[i].AllowList, err = s.getAllowList(ctx, allowListIDs[i].Int64); err != nil {
				return nil, err
			}
		}
		if rules[i].Tags, err = s.getTagsForRule(ctx, rules[i].ID); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (s *Store) getTagsForRule(ctx context.Context, ruleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.name FROM tag t JOIN rule_tag rt ON rt.tag_id = t.id WHERE rt.rule_id = ? ORDER BY t.name`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// GetRuleNamesByTag retrieves the names of rules in a pack version that
// carry the given tag.
func (s *Store) GetRuleNamesByTag(ctx context.Context, version, tag string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.rule_name FROM rules r
		 JOIN rule_tag rt ON rt.rule_id = r.id
		 JOIN tag t ON t.id = rt.tag_id
		 WHERE r.rule_pack = ? AND t.name = ?
		 ORDER BY r.rule_name`, version, tag)
	if err != nil {
		return nil, translateErr(err, "rules version="+version)
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
