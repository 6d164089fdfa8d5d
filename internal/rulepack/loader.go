// Package rulepack loads gitleaks style TOML rule files and manages the
// versioned rule pack registry.
package rulepack

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/blang/semver/v4"

	"github.com/resc-project/resc/internal/errorwrapper"
	"github.com/resc-project/resc/internal/models"
)

// tomlRuleFile mirrors the gitleaks rule file layout.
type tomlRuleFile struct {
	Title     string         `toml:"title"`
	Version   string         `toml:"version"`
	AllowList *tomlAllowList `toml:"allowlist"`
	Rules     []tomlRule     `toml:"rules"`
}

type tomlRule struct {
	ID          string         `toml:"id"`
	Description string         `toml:"description"`
	Entropy     *float64       `toml:"entropy"`
	SecretGroup *int           `toml:"secretGroup"`
	Regex       string         `toml:"regex"`
	Path        string         `toml:"path"`
	Keywords    []string       `toml:"keywords"`
	Tags        []string       `toml:"tags"`
	AllowList   *tomlAllowList `toml:"allowlist"`
}

type tomlAllowList struct {
	Description string   `toml:"description"`
	Regexes     []string `toml:"regexes"`
	Paths       []string `toml:"paths"`
	Commits     []string `toml:"commits"`
	StopWords   []string `toml:"stopwords"`
}

func (t *tomlAllowList) toModel() *models.AllowList {
	if t == nil {
		return nil
	}
	list := &models.AllowList{
		Description: t.Description,
		Regexes:     t.Regexes,
		Paths:       t.Paths,
		Commits:     t.Commits,
		StopWords:   t.StopWords,
	}
	if list.IsEmpty() {
		return nil
	}
	return list
}

// LoadFile parses a TOML rule file into a rule pack. version overrides the
// file's own version field when non-empty; the effective version must be
// full semver (major.minor.patch).
func LoadFile(path, version string) (*models.RulePack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorwrapper.WrapErrorf(err, "failed to read rule file %s", path)
	}
	return Parse(data, version)
}

// Parse parses raw TOML rule file content into a rule pack.
func Parse(data []byte, version string) (*models.RulePack, error) {
	var file tomlRuleFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, errorwrapper.WrapError(err, "failed to parse rule file")
	}

	if version == "" {
		version = file.Version
	}
	parsed, err := semver.Parse(version)
	if err != nil {
		return nil, errorwrapper.WrapErrorf(err, "invalid rule pack version %q", version)
	}

	if len(file.Rules) == 0 {
		return nil, errorwrapper.NewError("rule file contains no rules")
	}

	pack := &models.RulePack{
		Version:         parsed.String(),
		GlobalAllowList: file.AllowList.toModel(),
	}

	seen := make(map[string]struct{}, len(file.Rules))
	for _, raw := range file.Rules {
		if raw.ID == "" {
			return nil, errorwrapper.NewError("rule without id in rule file")
		}
		if raw.Regex == "" && raw.Path == "" {
			return nil, errorwrapper.NewError("rule %q has neither regex nor path", raw.ID)
		}
		if _, dup := seen[raw.ID]; dup {
			return nil, errorwrapper.NewError("duplicate rule id %q in rule file", raw.ID)
		}
		seen[raw.ID] = struct{}{}

		pack.Rules = append(pack.Rules, models.Rule{
			RulePack:    pack.Version,
			RuleName:    raw.ID,
			Description: raw.Description,
			Entropy:     raw.Entropy,
			SecretGroup: raw.SecretGroup,
			Regex:       raw.Regex,
			Path:        raw.Path,
			Keywords:    raw.Keywords,
			Tags:        raw.Tags,
			AllowList:   raw.AllowList.toModel(),
		})
	}

	return pack, nil
}
