package models

import "time"

// RulePack is a versioned collection of secret detection rules. At most one
// pack is active at any time; scans reference the pack version they ran with.
type RulePack struct {
	Version         string     `json:"version" validate:"required,semver"`
	GlobalAllowList *AllowList `json:"global_allow_list,omitempty"`
	Active          bool       `json:"active"`
	Created         time.Time  `json:"created"`
	Rules           []Rule     `json:"rules,omitempty" validate:"dive"`
}

// Rule is a single detection rule inside a rule pack. The same logical rule
// reappears across pack versions, so its identity is (rule pack, rule name).
type Rule struct {
	ID          int64      `json:"id"`
	RulePack    string     `json:"rule_pack"`
	RuleName    string     `json:"rule_name" validate:"required"`
	Description string     `json:"description,omitempty"`
	Entropy     *float64   `json:"entropy,omitempty"`
	SecretGroup *int       `json:"secret_group,omitempty"`
	Regex       string     `json:"regex,omitempty" validate:"required_without=Path"`
	Path        string     `json:"path,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	AllowList   *AllowList `json:"allow_list,omitempty"`
}

// HasTag reports whether the rule carries the given tag.
func (r *Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Rule tags with special behaviour, carried over from the rule file format.
const (
	RuleTagScanAsDir = "ScanAsDir"
)
