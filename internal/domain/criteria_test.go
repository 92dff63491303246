package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestCriteriaNormalize(t *testing.T) {
	c := Criteria{
		Symbols:    []string{" aapl ", "MSFT", "aapl", ""},
		Categories: []string{"Breakout", "breakout", " Surge "},
		Tier:       " Intraday ",
	}

	n := c.Normalize()

	assert.Equal(t, []string{"AAPL", "MSFT"}, n.Symbols)
	assert.Equal(t, []string{"breakout", "surge"}, n.Categories)
	assert.Equal(t, "intraday", n.Tier)
	assert.Nil(t, n.MinConfidence)
}

func TestCriteriaNormalizeCopiesConfidence(t *testing.T) {
	v := 0.5
	c := Criteria{MinConfidence: &v}

	n := c.Normalize()
	require.NotNil(t, n.MinConfidence)

	v = 0.9
	assert.Equal(t, 0.5, *n.MinConfidence, "normalized criteria must not alias the caller's pointer")
}

func TestCriteriaValidate(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		wantErr  bool
	}{
		{"empty is valid wildcard", Criteria{}, false},
		{"single symbol", Criteria{Symbols: []string{"AAPL"}}, false},
		{"confidence at bounds", Criteria{MinConfidence: floatPtr(1)}, false},
		{"confidence below zero", Criteria{MinConfidence: floatPtr(-0.1)}, true},
		{"confidence above one", Criteria{MinConfidence: floatPtr(1.1)}, true},
		{"too many symbols", Criteria{Symbols: make([]string, 51)}, true},
		{"too many categories", Criteria{Categories: make([]string, 21)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criteria.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCriteria)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCriteriaMatches(t *testing.T) {
	event := Event{Symbol: "AAPL", Category: "breakout", Tier: "intraday", Confidence: 0.8}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"wildcard matches everything", Criteria{}, true},
		{"symbol match", Criteria{Symbols: []string{"AAPL"}}, true},
		{"symbol mismatch", Criteria{Symbols: []string{"MSFT"}}, false},
		{"one of several symbols", Criteria{Symbols: []string{"MSFT", "AAPL"}}, true},
		{"category match", Criteria{Categories: []string{"breakout"}}, true},
		{"category mismatch", Criteria{Categories: []string{"surge"}}, false},
		{"tier match", Criteria{Tier: "intraday"}, true},
		{"tier mismatch", Criteria{Tier: "daily"}, false},
		{"confidence satisfied", Criteria{MinConfidence: floatPtr(0.8)}, true},
		{"confidence not satisfied", Criteria{MinConfidence: floatPtr(0.81)}, false},
		{"all dimensions", Criteria{Symbols: []string{"AAPL"}, Categories: []string{"breakout"}, Tier: "intraday", MinConfidence: floatPtr(0.5)}, true},
		{"all but one dimension", Criteria{Symbols: []string{"AAPL"}, Categories: []string{"breakout"}, Tier: "daily"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(event))
		})
	}
}

func TestCriteriaIsWildcard(t *testing.T) {
	assert.True(t, Criteria{}.IsWildcard())
	assert.False(t, Criteria{Symbols: []string{"AAPL"}}.IsWildcard())
	assert.False(t, Criteria{Tier: "daily"}.IsWildcard())
	assert.False(t, Criteria{MinConfidence: floatPtr(0)}.IsWildcard())
}
