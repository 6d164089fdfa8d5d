package models

// AllowList holds suppression criteria that prevent a detector match from
// becoming a finding. A list is owned independently and referenced either
// globally by a rule pack or by an individual rule.
type AllowList struct {
	ID          int64    `json:"id"`
	Description string   `json:"description,omitempty"`
	Regexes     []string `json:"regexes,omitempty"`
	Paths       []string `json:"paths,omitempty"`
	Commits     []string `json:"commits,omitempty"`
	StopWords   []string `json:"stop_words,omitempty"`
}

// IsEmpty reports whether the list carries no suppression criteria at all.
func (a *AllowList) IsEmpty() bool {
	if a == nil {
		return true
	}
	return len(a.Regexes) == 0 && len(a.Paths) == 0 && len(a.Commits) == 0 && len(a.StopWords) == 0
}
