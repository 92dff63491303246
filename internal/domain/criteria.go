package domain

import (
	"fmt"
	"slices"
	"strings"
)

const (
	maxSymbolsPerCriteria    = 50
	maxCategoriesPerCriteria = 20
)

// Criteria is the interest filter attached to a subscription. Every dimension
// is optional; an empty dimension is unrestricted and fully empty criteria
// match everything (wildcard).
type Criteria struct {
	Symbols       []string `json:"symbols,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Tier          string   `json:"tier,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// IsWildcard reports whether no dimension is restricted.
func (c Criteria) IsWildcard() bool {
	return len(c.Symbols) == 0 && len(c.Categories) == 0 && c.Tier == "" && c.MinConfidence == nil
}

// Normalize returns a canonical copy: symbols upper-cased, categories and
// tier lower-cased, duplicates removed, sets sorted.
func (c Criteria) Normalize() Criteria {
	out := Criteria{Tier: strings.ToLower(strings.TrimSpace(c.Tier))}

	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !slices.Contains(out.Symbols, s) {
			out.Symbols = append(out.Symbols, s)
		}
	}
	for _, cat := range c.Categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat != "" && !slices.Contains(out.Categories, cat) {
			out.Categories = append(out.Categories, cat)
		}
	}
	slices.Sort(out.Symbols)
	slices.Sort(out.Categories)

	if c.MinConfidence != nil {
		v := *c.MinConfidence
		out.MinConfidence = &v
	}
	return out
}

// Validate checks well-formedness. It does not normalize; callers normalize
// first so set-size limits apply to the deduplicated sets.
func (c Criteria) Validate() error {
	if len(c.Symbols) > maxSymbolsPerCriteria {
		return fmt.Errorf("%w: at most %d symbols per subscription", ErrInvalidCriteria, maxSymbolsPerCriteria)
	}
	if len(c.Categories) > maxCategoriesPerCriteria {
		return fmt.Errorf("%w: at most %d categories per subscription", ErrInvalidCriteria, maxCategoriesPerCriteria)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("%w: min_confidence must be within [0,1], got %v", ErrInvalidCriteria, *c.MinConfidence)
	}
	return nil
}

// Matches reports whether every restricted dimension is satisfied by the
// corresponding event field.
func (c Criteria) Matches(e Event) bool {
	if len(c.Symbols) > 0 && !slices.Contains(c.Symbols, e.Symbol) {
		return false
	}
	if len(c.Categories) > 0 && !slices.Contains(c.Categories, e.Category) {
		return false
	}
	if c.Tier != "" && c.Tier != e.Tier {
		return false
	}
	if c.MinConfidence != nil && e.Confidence < *c.MinConfidence {
		return false
	}
	return true
}
