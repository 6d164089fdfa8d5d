// Package allowlist evaluates detector matches against rule-level and global
// allow lists so known-safe hits never reach the finding store.
package allowlist

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/resc-project/resc/internal/errorwrapper"
	"github.com/resc-project/resc/internal/models"
)

// SuppressionReason identifies which allow list clause suppressed a match.
type SuppressionReason string

const (
	ReasonStopWord SuppressionReason = "stop_word"
	ReasonPath     SuppressionReason = "path"
	ReasonCommit   SuppressionReason = "commit"
	ReasonRegex    SuppressionReason = "regex"
)

// CompiledList is one allow list with its patterns precompiled. Compilation
// happens once per rule pack so every match check is comparison only.
type CompiledList struct {
	description string
	regexes     []*regexp.Regexp
	paths       []string
	commits     map[string]struct{}
	stopWords   []string
}

// Compile precompiles an allow list. A nil or empty list compiles to nil.
func Compile(list *models.AllowList) (*CompiledList, error) {
	if list.IsEmpty() {
		return nil, nil
	}

	compiled := &CompiledList{
		description: list.Description,
		paths:       list.Paths,
		stopWords:   list.StopWords,
	}

	for _, pattern := range list.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errorwrapper.WrapErrorf(err, "invalid allow list regex %q", pattern)
		}
		compiled.regexes = append(compiled.regexes, re)
	}

	for _, path := range list.Paths {
		if !doublestar.ValidatePattern(path) {
			return nil, errorwrapper.NewError("invalid allow list path pattern %q", path)
		}
	}

	if len(list.Commits) > 0 {
		compiled.commits = make(map[string]struct{}, len(list.Commits))
		for _, commit := range list.Commits {
			compiled.commits[commit] = struct{}{}
		}
	}

	return compiled, nil
}

// check evaluates the match against this list's clauses. Clause order is
// stop words, paths, commits, regexes; the first hit wins.
func (cl *CompiledList) check(match *models.SecretMatch) (SuppressionReason, bool) {
	if cl == nil {
		return "", false
	}

	for _, word := range cl.stopWords {
		if word != "" && strings.Contains(match.Secret, word) {
			return ReasonStopWord, true
		}
	}

	for _, pattern := range cl.paths {
		if ok, _ := doublestar.Match(pattern, match.FilePath); ok {
			return ReasonPath, true
		}
	}

	if _, ok := cl.commits[match.CommitID]; ok {
		return ReasonCommit, true
	}

	for _, re := range cl.regexes {
		if re.MatchString(match.Secret) {
			return ReasonRegex, true
		}
	}

	return "", false
}

// Engine holds the compiled allow lists of one rule pack: the pack-wide
// global list plus per-rule lists keyed by rule name.
type Engine struct {
	global *CompiledList
	rules  map[string]*CompiledList
	logger zerolog.Logger
}

// NewEngine compiles the global allow list and every rule's own list. Rules
// without a list get no entry; their matches are checked against the global
// list only.
func NewEngine(global *models.AllowList, rules []models.Rule, logger zerolog.Logger) (*Engine, error) {
	engine := &Engine{
		rules:  make(map[string]*CompiledList),
		logger: logger.With().Str("component", "AllowListEngine").Logger(),
	}

	var err error
	if global != nil {
		engine.global, err = Compile(global)
		if err != nil {
			return nil, errorwrapper.WrapError(err, "global allow list")
		}
	}

	for i := range rules {
		rule := &rules[i]
		if rule.AllowList == nil {
			continue
		}
		compiled, err := Compile(rule.AllowList)
		if err != nil {
			return nil, errorwrapper.WrapErrorf(err, "rule %q allow list", rule.RuleName)
		}
		if compiled != nil {
			engine.rules[rule.RuleName] = compiled
		}
	}

	return engine, nil
}

// IsSuppressed reports whether the match is allow listed. The match's rule
// list is consulted first, then the global list.
func (e *Engine) IsSuppressed(match *models.SecretMatch) (SuppressionReason, bool) {
	if reason, ok := e.rules[match.RuleName].check(match); ok {
		e.logger.Debug().
			Str("rule", match.RuleName).
			Str("path", match.FilePath).
			Str("reason", string(reason)).
			Msg("Match suppressed by rule allow list")
		return reason, true
	}

	if reason, ok := e.global.check(match); ok {
		e.logger.Debug().
			Str("rule", match.RuleName).
			Str("path", match.FilePath).
			Str("reason", string(reason)).
			Msg("Match suppressed by global allow list")
		return reason, true
	}

	return "", false
}

// Filter partitions matches into kept and suppressed counts, returning the
// matches that survive all allow lists.
func (e *Engine) Filter(matches []models.SecretMatch) (kept []models.SecretMatch, suppressed int) {
	for i := range matches {
		if _, ok := e.IsSuppressed(&matches[i]); ok {
			suppressed++
			continue
		}
		kept = append(kept, matches[i])
	}
	return kept, suppressed
}
