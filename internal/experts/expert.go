// Package experts implements the per-category retrieval specialists. An
// expert runs rewrite, hybrid search and rerank inside its own category scope
// and grades itself; it never calls the LLM.
package experts

import (
	"context"
	"strings"

	"github.com/podsage/podsage/internal/agents"
	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/pkg/models"
)

// Result is what one expert hands back to the leader.
type Result struct {
	Category   models.Category
	Candidates []models.Candidate
	Confidence float64
	TimedOut   bool
}

type Expert struct {
	category models.Category
	rewriter *agents.Rewriter
	searcher *agents.Searcher
	reranker *agents.Reranker
	budgets  config.PipelineConfig
}

func New(category models.Category, rewriter *agents.Rewriter, searcher *agents.Searcher, reranker *agents.Reranker, budgets config.PipelineConfig) *Expert {
	return &Expert{
		category: category,
		rewriter: rewriter,
		searcher: searcher,
		reranker: reranker,
		budgets:  budgets,
	}
}

func (e *Expert) Category() models.Category { return e.category }

// Run executes rewrite, search and rerank strictly in order. Trace entries are
// prefixed with the category so concurrent experts stay distinguishable.
func (e *Expert) Run(ctx context.Context, query models.Query, trace *pipeline.Trace) (Result, error) {
	rewritten, entry := e.rewriter.Run(ctx, query, e.budgets.StageBudget("rewrite"))
	e.record(trace, entry)

	search, entry, err := e.searcher.Run(ctx, agents.SearchInput{
		Rewritten: rewritten.Rewritten,
		Matches:   rewritten.Matches,
		Category:  e.category,
		Language:  query.Lang,
	}, e.budgets.StageBudget("search"))
	e.record(trace, entry)
	if err != nil {
		return Result{Category: e.category}, err
	}

	reranked, entry := e.reranker.Run(ctx, search.Candidates, e.budgets.StageBudget("rerank"))
	e.record(trace, entry)

	// Self-score on the searcher's hybrid evidence, not the reranked
	// scores; reranking reshuffles but does not add evidence.
	confidence := agents.MeanTopHybrid(search.Candidates, 3)

	return Result{
		Category:   e.category,
		Candidates: reranked.Candidates,
		Confidence: confidence,
		TimedOut:   rewritten.TimedOut || search.TimedOut || reranked.TimedOut,
	}, nil
}

func (e *Expert) record(trace *pipeline.Trace, entry pipeline.TraceEntry) {
	entry.Stage = strings.ToLower(string(e.category)) + "/" + entry.Stage
	trace.Append(entry)
}
