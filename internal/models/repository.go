package models

import "time"

// VCSProviderType identifies the version control system a repository lives on.
type VCSProviderType string

const (
	ProviderBitbucket   VCSProviderType = "BITBUCKET"
	ProviderAzureDevOps VCSProviderType = "AZURE_DEVOPS"
	ProviderGitHub      VCSProviderType = "GITHUB_PUBLIC"
)

// VCSInstance describes one concrete VCS server that repositories are scanned
// from. Scope is a comma separated list of projects to include.
type VCSInstance struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name" validate:"required"`
	ProviderType VCSProviderType `json:"provider_type" validate:"required,oneof=BITBUCKET AZURE_DEVOPS GITHUB_PUBLIC"`
	Scheme       string          `json:"scheme,omitempty"`
	Hostname     string          `json:"hostname" validate:"required,hostname"`
	Port         int             `json:"port,omitempty"`
	Organization string          `json:"organization,omitempty"`
	Scope        string          `json:"vcs_scope,omitempty"`
	Exceptions   string          `json:"exceptions,omitempty"`
}

// Repository is a scannable repository on a VCS instance, unique per
// (vcs instance, project key, provider-native repository id).
type Repository struct {
	ID             int64      `json:"id"`
	VCSInstanceID  int64      `json:"vcs_instance_id"`
	ProjectKey     string     `json:"project_key" validate:"required"`
	RepositoryID   string     `json:"repository_id" validate:"required"`
	RepositoryName string     `json:"repository_name" validate:"required"`
	RepositoryURL  string     `json:"repository_url,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the repository is soft deleted.
func (r *Repository) IsDeleted() bool {
	return r.DeletedAt != nil
}
