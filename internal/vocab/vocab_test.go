package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/pkg/models"
)

const testVocabulary = `
tags:
  - name: investing
    category: business
    weight: 0.9
    synonyms: ["投資", "理財", "finance", "stocks"]
  - name: entrepreneurship
    category: business
    weight: 0.8
    synonyms: ["startup", "founder", "創業"]
  - name: language-learning
    category: education
    weight: 0.9
    synonyms: ["english", "英文", "vocabulary"]
  - name: history
    category: education
    synonyms: ["歷史"]
  - name: true-crime
    category: other
    synonyms: ["crime"]
`

func mustParse(t *testing.T) *Vocabulary {
	t.Helper()
	v, err := Parse([]byte(testVocabulary))
	require.NoError(t, err)
	return v
}

func TestParse(t *testing.T) {
	t.Run("builds category and synonym indices", func(t *testing.T) {
		v := mustParse(t)

		assert.Len(t, v.Tags(), 5)
		assert.Len(t, v.TagsFor(models.CategoryBusiness), 2)
		assert.Len(t, v.TagsFor(models.CategoryEducation), 2)
		assert.Len(t, v.TagsFor(models.CategoryOther), 1)

		tag, ok := v.Lookup("finance")
		require.True(t, ok)
		assert.Equal(t, "investing", tag.Name)
		assert.Equal(t, models.CategoryBusiness, tag.Category)
	})

	t.Run("rejects duplicate synonyms across tags", func(t *testing.T) {
		_, err := Parse([]byte(`
tags:
  - name: investing
    category: business
    synonyms: ["money"]
  - name: budgeting
    category: business
    synonyms: ["money"]
`))
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrConfig)
	})

	t.Run("rejects malformed rows", func(t *testing.T) {
		_, err := Parse([]byte(`
tags:
  - category: business
`))
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrConfig)
	})

	t.Run("rejects unknown category values", func(t *testing.T) {
		_, err := Parse([]byte(`
tags:
  - name: investing
    category: finance-stuff
`))
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrConfig)
	})
}

func TestMatch(t *testing.T) {
	v := mustParse(t)

	t.Run("canonical name beats synonym score", func(t *testing.T) {
		matches := v.Match("thoughts on investing and stocks")
		require.NotEmpty(t, matches)
		assert.Equal(t, "investing", matches[0].Tag.Name)
		assert.Equal(t, 1.0, matches[0].Score)
	})

	t.Run("synonym match scores 0.8", func(t *testing.T) {
		matches := v.Match("any good startup stories?")
		require.Len(t, matches, 1)
		assert.Equal(t, "entrepreneurship", matches[0].Tag.Name)
		assert.Equal(t, 0.8, matches[0].Score)
	})

	t.Run("matches CJK synonyms without word boundaries", func(t *testing.T) {
		matches := v.Match("我想學習投資理財")
		require.NotEmpty(t, matches)
		assert.Equal(t, "investing", matches[0].Tag.Name)
		assert.Equal(t, 0.8, matches[0].Score)
	})

	t.Run("multi category query hits both domains", func(t *testing.T) {
		matches := v.Match("學習商業英文 startup")
		names := make(map[string]bool)
		for _, m := range matches {
			names[m.Tag.Name] = true
		}
		assert.True(t, names["language-learning"], "expected education hit")
		assert.True(t, names["entrepreneurship"], "expected business hit")
	})

	t.Run("no match returns empty list, never errors", func(t *testing.T) {
		matches := v.Match("quantum chromodynamics lattice simulations")
		assert.Empty(t, matches)
	})

	t.Run("ordering is deterministic", func(t *testing.T) {
		a := v.Match("english 歷史 investing")
		b := v.Match("english 歷史 investing")
		assert.Equal(t, a, b)
	})
}

func TestTagOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical sets", []string{"x", "y"}, []string{"x", "y"}, 1.0},
		{"empty right", []string{"x"}, nil, 0.0},
		{"empty left", nil, []string{"x"}, 0.0},
		{"half overlap", []string{"x", "y"}, []string{"y", "z"}, 1.0 / 3.0},
		{"case insensitive", []string{"Investing"}, []string{"investing"}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TagOverlap(tt.a, tt.b), 1e-9)
		})
	}
}
