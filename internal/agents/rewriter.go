package agents

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/internal/vocab"
	"github.com/podsage/podsage/pkg/models"
)

// Intent labels form a closed set; everything unrecognized is IntentOther.
const (
	IntentRecommendation = "recommendation"
	IntentHowTo          = "howto"
	IntentFactual        = "factual"
	IntentOther          = "other"
)

// RewriteResult is the query rewriter output.
type RewriteResult struct {
	Rewritten  string
	Expansions []string
	Entities   []string
	Intent     string
	Matches    []vocab.Match
	Confidence float64
	TimedOut   bool
}

// Rewriter expands the query with vocabulary synonyms and labels its intent.
// Pure CPU work; the budget exists for symmetry with the other workers.
type Rewriter struct {
	vocabulary *vocab.Store
}

func NewRewriter(vocabulary *vocab.Store) *Rewriter {
	return &Rewriter{vocabulary: vocabulary}
}

var intentCues = []struct {
	intent string
	cues   []string
}{
	{IntentRecommendation, []string{"recommend", "suggest", "which podcast", "what podcast", "推薦", "有什麼", "有沒有"}},
	{IntentHowTo, []string{"how do i", "how to", "how can", "怎麼", "如何", "怎樣"}},
	{IntentFactual, []string{"what is", "what are", "who is", "when did", "why", "是什麼", "為什麼", "什麼是"}},
}

func classifyIntent(text string) string {
	lower := strings.ToLower(text)
	for _, c := range intentCues {
		for _, cue := range c.cues {
			if strings.Contains(lower, cue) {
				return c.intent
			}
		}
	}
	return IntentOther
}

func (r *Rewriter) Run(ctx context.Context, query models.Query, budget time.Duration) (RewriteResult, pipeline.TraceEntry) {
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()
	start := time.Now()

	out := RewriteResult{
		Rewritten: query.Text,
		Intent:    classifyIntent(query.Text),
	}

	matches := r.vocabulary.Current().Match(query.Text)
	out.Matches = matches

	seen := make(map[string]struct{})
	for _, m := range matches {
		out.Entities = append(out.Entities, m.Tag.Name)
		for _, syn := range m.Tag.Synonyms {
			key := strings.ToLower(syn)
			if _, dup := seen[key]; dup || strings.Contains(strings.ToLower(query.Text), key) {
				continue
			}
			seen[key] = struct{}{}
			out.Expansions = append(out.Expansions, syn)
		}
	}
	sort.Strings(out.Expansions)

	if len(out.Expansions) > 0 {
		out.Rewritten = query.Text + " " + strings.Join(out.Expansions, " ")
	}

	// Confidence follows evidence: each tag hit adds, a recognized intent
	// adds, an unmatched query stays under the threshold.
	out.Confidence = 0.4
	for _, m := range matches {
		out.Confidence += 0.25 * m.Score
	}
	if out.Intent != IntentOther {
		out.Confidence += 0.1
	}
	if out.Confidence > 0.95 {
		out.Confidence = 0.95
	}

	out.TimedOut = ctx.Err() != nil

	return out, pipeline.TraceEntry{
		Stage:      "rewrite",
		Elapsed:    time.Since(start),
		InputSize:  len(query.Text),
		OutputSize: len(out.Rewritten),
		Confidence: out.Confidence,
		TimedOut:   out.TimedOut,
	}
}
