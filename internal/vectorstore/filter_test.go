package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/podsage/podsage/pkg/models"
)

func TestFilterExpr(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{
			name:   "empty filter",
			filter: Filter{},
			want:   "",
		},
		{
			name:   "category only",
			filter: Filter{Category: models.CategoryBusiness},
			want:   `category == "Business"`,
		},
		{
			name:   "tags only",
			filter: Filter{Tags: []string{"investing", "startup"}},
			want:   `json_contains_any(tags, ["investing", "startup"])`,
		},
		{
			name: "all predicates joined with and",
			filter: Filter{
				Category:  models.CategoryEducation,
				Tags:      []string{"language-learning"},
				Language:  "zh",
				PodcastID: "pod-7",
			},
			want: `category == "Education" and json_contains_any(tags, ["language-learning"]) and language == "zh" and podcast_id == "pod-7"`,
		},
		{
			name:   "quotes in values are escaped",
			filter: Filter{PodcastID: `pod"7`},
			want:   `podcast_id == "pod\"7"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Expr())
		})
	}
}
