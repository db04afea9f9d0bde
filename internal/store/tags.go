package store

import (
	"fmt"
	"regexp"
	"strings"

	"polyrotate/internal/portfolio"
)

// TagRule derives the position tag of an outcome token at sync time.
//
// Outcomes other than Yes/No (UP, DOWN, team names) tag as the upper-cased
// outcome. A Yes token tags as the first capture group of the question
// pattern when it matches, otherwise as the market slug. No tokens carry no
// position tag.
type TagRule struct {
	question *regexp.Regexp
}

func NewTagRule(pattern string) (*TagRule, error) {
	if pattern == "" {
		return &TagRule{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile tag pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("tag pattern %q has no capture group", pattern)
	}
	return &TagRule{question: re}, nil
}

func (r *TagRule) Tag(question, slug, outcome string) portfolio.PositionTag {
	outcome = strings.TrimSpace(outcome)
	switch {
	case equalFold(outcome, "no"):
		return portfolio.None
	case equalFold(outcome, "yes"):
		if r != nil && r.question != nil {
			if m := r.question.FindStringSubmatch(question); len(m) > 1 && strings.TrimSpace(m[1]) != "" {
				return portfolio.PositionTag(strings.TrimSpace(m[1]))
			}
		}
		return portfolio.PositionTag(slug)
	case outcome == "":
		return portfolio.None
	default:
		return portfolio.PositionTag(strings.ToUpper(outcome))
	}
}

// Apply sets the position tag of every token of m.
func (r *TagRule) Apply(m *Market) {
	for i := range m.Tokens {
		m.Tokens[i].PositionTag = r.Tag(m.Question, m.MarketSlug, m.Tokens[i].Outcome)
	}
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
