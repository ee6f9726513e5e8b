package rules

import (
	"fmt"
	"sort"
	"strings"

	"plant-sage/backend/internal/advisory"
	"plant-sage/backend/internal/match"
)

// GenericDuplicateRuleID identifies verdicts produced from a duplicate hint
// when the question names no known subject.
const GenericDuplicateRuleID = "duplicate_hint"

// Context is the subset of the advisory context the matcher consults.
type Context struct {
	AlreadyLogged []string
	Recognized    []string
}

// Match describes why the matcher resolved a question.
type Match struct {
	RuleID    string `json:"rule_id"`
	Subject   string `json:"subject,omitempty"`
	Duplicate bool   `json:"duplicate"`
	Source    string `json:"source"`
}

// Matcher resolves questions against an immutable alias index.
type Matcher struct {
	rules   []Rule
	aliases []aliasEntry
	hints   [][]string
}

type aliasEntry struct {
	tokens  []string
	subject string
	rule    int
}

type span struct {
	start, end int
	subject    string
	rule       int
}

// NewMatcher builds the alias index. Aliases must be unique across rules.
func NewMatcher(table []Rule) (*Matcher, error) {
	m := &Matcher{rules: table}
	owner := make(map[string]string)
	for idx, rule := range table {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d has no id", idx)
		}
		if rule.Decide == nil {
			return nil, fmt.Errorf("rule %s has no decision", rule.ID)
		}
		for alias, subject := range rule.Aliases {
			for _, form := range match.PluralForms(alias) {
				if prev, ok := owner[form]; ok && prev != rule.ID {
					return nil, fmt.Errorf("alias %q claimed by rules %s and %s", form, prev, rule.ID)
				}
				owner[form] = rule.ID
				m.aliases = append(m.aliases, aliasEntry{
					tokens:  strings.Fields(form),
					subject: subject,
					rule:    idx,
				})
			}
		}
	}
	// Deterministic iteration independent of map order.
	sort.Slice(m.aliases, func(i, j int) bool {
		a, b := m.aliases[i], m.aliases[j]
		if len(a.tokens) != len(b.tokens) {
			return len(a.tokens) > len(b.tokens)
		}
		return strings.Join(a.tokens, " ") < strings.Join(b.tokens, " ")
	})
	for _, hint := range duplicateHints {
		m.hints = append(m.hints, strings.Fields(match.NormalizeText(hint)))
	}
	return m, nil
}

// MustDefault returns a matcher over the built-in table.
func MustDefault() *Matcher {
	m, err := NewMatcher(Default())
	if err != nil {
		panic(err)
	}
	return m
}

// Rules exposes the underlying table.
func (m *Matcher) Rules() []Rule {
	return m.rules
}

// Match resolves question deterministically. The boolean is false when no
// rule applies, in which case the caller should consult the provider.
func (m *Matcher) Match(question string, ctx Context) (advisory.Verdict, Match, bool) {
	tokens := match.Profile(question).Tokens
	hinted := m.hasHint(tokens)

	subjects := m.subjects(tokens)
	source := "question"
	if len(subjects) == 0 {
		subjects = m.recognizedSubjects(ctx.Recognized)
		source = "recognized"
	}

	switch len(subjects) {
	case 0:
		if !hinted {
			return advisory.Verdict{}, Match{}, false
		}
		return genericDuplicate(), Match{RuleID: GenericDuplicateRuleID, Duplicate: true, Source: "hint"}, true
	case 1:
	default:
		return advisory.Verdict{}, Match{}, false
	}

	hit := subjects[0]
	rule := m.rules[hit.rule]
	label := rule.Label(hit.subject)
	result := Match{RuleID: rule.ID, Subject: hit.subject, Source: source}

	if hinted || m.loggedSubjects(ctx.AlreadyLogged)[hit.subject] {
		result.Duplicate = true
		return duplicateOf(label), result, true
	}
	v := rule.Decide(hit.subject, label)
	v.Confidence = 1
	return v.Normalize(), result, true
}

// Resolve returns the canonical subject of a free-text item name, if any.
func (m *Matcher) Resolve(name string) (string, bool) {
	found := m.subjects(match.Profile(name).Tokens)
	if len(found) != 1 {
		return "", false
	}
	return found[0].subject, true
}

func (m *Matcher) hasHint(tokens []string) bool {
	for _, hint := range m.hints {
		if indexOf(tokens, hint, 0) >= 0 {
			return true
		}
	}
	return false
}

// subjects returns one span per distinct canonical subject, ignoring alias
// hits that sit inside a longer alias hit ("apple" inside "apple juice").
func (m *Matcher) subjects(tokens []string) []span {
	if len(tokens) == 0 {
		return nil
	}
	var spans []span
	for _, alias := range m.aliases {
		for from := 0; ; {
			at := indexOf(tokens, alias.tokens, from)
			if at < 0 {
				break
			}
			spans = append(spans, span{start: at, end: at + len(alias.tokens), subject: alias.subject, rule: alias.rule})
			from = at + 1
		}
	}

	var kept []span
	seen := make(map[string]struct{})
	for i, s := range spans {
		if coveredByLonger(s, spans, i) {
			continue
		}
		if _, ok := seen[s.subject]; ok {
			continue
		}
		seen[s.subject] = struct{}{}
		kept = append(kept, s)
	}
	return kept
}

func (m *Matcher) recognizedSubjects(names []string) []span {
	var out []span
	seen := make(map[string]struct{})
	for _, name := range names {
		for _, s := range m.subjects(match.Profile(name).Tokens) {
			if _, ok := seen[s.subject]; ok {
				continue
			}
			seen[s.subject] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func (m *Matcher) loggedSubjects(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		for _, s := range m.subjects(match.Profile(item).Tokens) {
			set[s.subject] = true
		}
	}
	return set
}

func coveredByLonger(s span, all []span, self int) bool {
	for j, other := range all {
		if j == self {
			continue
		}
		if other.start <= s.start && other.end >= s.end && (other.end-other.start) > (s.end-s.start) {
			return true
		}
	}
	return false
}

func indexOf(tokens, phrase []string, from int) int {
	if len(phrase) == 0 {
		return -1
	}
	for i := from; i+len(phrase) <= len(tokens); i++ {
		matched := true
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				matched = false
				break
			}
		}
		if matched {
			return i
		}
	}
	return -1
}

func duplicateOf(label string) advisory.Verdict {
	return advisory.Verdict{
		Verdict:    advisory.DuplicateWeek,
		Points:     advisory.PointsOf(0),
		Answer:     fmt.Sprintf("You have already counted %s this week, so it does not add points again.", label),
		Reason:     "Each plant counts once per week, and colour or variety variants share the same plant.",
		Confidence: 1,
	}
}

func genericDuplicate() advisory.Verdict {
	return advisory.Verdict{
		Verdict:    advisory.DuplicateWeek,
		Points:     advisory.PointsOf(0),
		Answer:     "If you already logged this plant this week, it does not count again.",
		Reason:     "Each plant counts once per week no matter how often you eat it.",
		Confidence: 1,
	}
}
