package vectorstore

import (
	"fmt"
	"strings"
)

// Expr renders the filter as a Milvus boolean expression: an AND of
// equality/IN predicates over category, tags, language and podcast_id.
// Tag values are matched against the chunk's tag array.
func (f Filter) Expr() string {
	var parts []string

	if f.Category != "" {
		parts = append(parts, fmt.Sprintf(`category == %s`, quote(string(f.Category))))
	}
	if len(f.Tags) > 0 {
		quoted := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			quoted[i] = quote(tag)
		}
		parts = append(parts, fmt.Sprintf(`json_contains_any(tags, [%s])`, strings.Join(quoted, ", ")))
	}
	if f.Language != "" {
		parts = append(parts, fmt.Sprintf(`language == %s`, quote(f.Language)))
	}
	if f.PodcastID != "" {
		parts = append(parts, fmt.Sprintf(`podcast_id == %s`, quote(f.PodcastID)))
	}

	return strings.Join(parts, " and ")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
}
