package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/resc-project/resc/internal/models"
)

// CreateVCSInstance inserts a VCS instance. The name is unique; creating an
// existing name returns the stored row unchanged.
func (s *Store) CreateVCSInstance(ctx context.Context, instance *models.VCSInstance) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO vcs_instance (name, provider_type, scheme, hostname, port, organization, vcs_scope, exceptions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.Name, string(instance.ProviderType), instance.Scheme, instance.Hostname,
		instance.Port, instance.Organization, instance.Scope, instance.Exceptions)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetVCSInstanceByName(ctx, instance.Name)
			if getErr != nil {
				return 0, getErr
			}
			return existing.ID, nil
		}
		return 0, translateErr(err, "vcs_instance name="+instance.Name)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("vcs_instance_id", id).Str("name", instance.Name).Msg("Created VCS instance")
	return id, nil
}

// GetVCSInstanceByName retrieves a VCS instance by its unique name.
func (s *Store) GetVCSInstanceByName(ctx context.Context, name string) (*models.VCSInstance, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var instance models.VCSInstance
	var providerType string
	var port sql.NullInt64
	var organization, scope, exceptions sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, provider_type, scheme, hostname, port, organization, vcs_scope, exceptions
		 FROM vcs_instance WHERE name = ?`, name).
		Scan(&instance.ID, &instance.Name, &providerType, &instance.Scheme, &instance.Hostname,
			&port, &organization, &scope, &exceptions)
	if err == sql.ErrNoRows {
		return nil, entityErr(ErrUnknownVCSInstance, "vcs_instance name=%s", name)
	}
	if err != nil {
		return nil, translateErr(err, "vcs_instance name="+name)
	}

	instance.ProviderType = models.VCSProviderType(providerType)
	instance.Port = int(port.Int64)
	instance.Organization = organization.String
	instance.Scope = scope.String
	instance.Exceptions = exceptions.String
	return &instance, nil
}

// CreateRepository inserts a repository, or returns the existing row id when
// the (vcs instance, project key, provider repository id) triple is already
// known. Ingestion jobs re-announce repositories on every scan, so create is
// get-or-create.
func (s *Store) CreateRepository(ctx context.Context, repo *models.Repository) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO repository (vcs_instance, project_key, repository_id, repository_name, repository_url)
		 VALUES (?, ?, ?, ?, ?)`,
		repo.VCSInstanceID, repo.ProjectKey, repo.RepositoryID, repo.RepositoryName, repo.RepositoryURL)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetRepositoryByKey(ctx, repo.VCSInstanceID, repo.ProjectKey, repo.RepositoryID)
			if getErr != nil {
				return 0, getErr
			}
			return existing.ID, nil
		}
		return 0, translateErr(err, "repository "+repo.ProjectKey+"/"+repo.RepositoryID)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("repository_pk", id).Str("project", repo.ProjectKey).
		Str("repository", repo.RepositoryName).Msg("Created repository")
	return id, nil
}

// GetRepository retrieves a repository by primary key.
func (s *Store) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, vcs_instance, project_key, repository_id, repository_name, repository_url, deleted_at
		 FROM repository WHERE id = ?`, id)
	return scanRepository(row, id)
}

// GetRepositoryByKey retrieves a repository by its natural key.
func (s *Store) GetRepositoryByKey(ctx context.Context, vcsInstanceID int64, projectKey, repositoryID string) (*models.Repository, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, vcs_instance, project_key, repository_id, repository_name, repository_url, deleted_at
		 FROM repository WHERE vcs_instance = ? AND project_key = ? AND repository_id = ?`,
		vcsInstanceID, projectKey, repositoryID)
	return scanRepository(row, 0)
}

func scanRepository(row *sql.Row, id int64) (*models.Repository, error) {
	var repo models.Repository
	var url sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(&repo.ID, &repo.VCSInstanceID, &repo.ProjectKey, &repo.RepositoryID,
		&repo.RepositoryName, &url, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, entityErr(ErrUnknownRepository, "repository id=%d", id)
	}
	if err != nil {
		return nil, err
	}

	repo.RepositoryURL = url.String
	if deletedAt.Valid {
		t := deletedAt.Time
		repo.DeletedAt = &t
	}
	return &repo, nil
}

// ListRepositories retrieves repositories, optionally including soft deleted
// ones.
func (s *Store) ListRepositories(ctx context.Context, includeDeleted bool) ([]models.Repository, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := `SELECT id, vcs_instance, project_key, repository_id, repository_name, repository_url, deleted_at
		 FROM repository`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, translateErr(err, "repository list")
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var repo models.Repository
		var url sql.NullString
		var deletedAt sql.NullTime
		err := rows.Scan(&repo.ID, &repo.VCSInstanceID, &repo.ProjectKey, &repo.RepositoryID,
			&repo.RepositoryName, &url, &deletedAt)
		if err != nil {
			return nil, err
		}
		repo.RepositoryURL = url.String
		if deletedAt.Valid {
			t := deletedAt.Time
			repo.DeletedAt = &t
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// ToggleRepositoryDeleted flips the soft delete marker on a repository.
func (s *Store) ToggleRepositoryDeleted(ctx context.Context, id int64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	repo, err := s.GetRepository(ctx, id)
	if err != nil {
		return err
	}

	var deletedAt interface{}
	if repo.DeletedAt == nil {
		deletedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `UPDATE repository SET deleted_at = ? WHERE id = ?`, deletedAt, id)
	if err != nil {
		return translateErr(err, fmt.Sprintf("repository id=%d", id))
	}

	s.logger.Info().Int64("repository_pk", id).Bool("deleted", repo.DeletedAt == nil).
		Msg("Toggled repository deletion marker")
	return nil
}
