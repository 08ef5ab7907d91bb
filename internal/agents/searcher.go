package agents

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/podsage/podsage/internal/embedding"
	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/internal/vectorstore"
	"github.com/podsage/podsage/internal/vocab"
	"github.com/podsage/podsage/pkg/models"
)

// MaxSearchCandidates caps what a single hybrid search returns.
const MaxSearchCandidates = 8

// SearchInput is the rewritten query plus the expert's retrieval scope.
type SearchInput struct {
	Rewritten string
	Matches   []vocab.Match
	Category  models.Category
	Language  string
}

// SearchResult carries fused candidates. Confidence is the mean of the top
// three hybrid scores, which is also how experts grade themselves.
type SearchResult struct {
	Candidates []models.Candidate
	Confidence float64
	TimedOut   bool
}

// Searcher fuses dense ANN retrieval with sparse tag overlap. Dense and
// sparse disagree often enough that neither alone clears the reranker.
type Searcher struct {
	embedder embedding.Client
	store    vectorstore.Searcher
	alpha    float64
}

func NewSearcher(embedder embedding.Client, store vectorstore.Searcher, alpha float64) *Searcher {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.7
	}
	return &Searcher{embedder: embedder, store: store, alpha: alpha}
}

func (s *Searcher) Run(ctx context.Context, in SearchInput, budget time.Duration) (SearchResult, pipeline.TraceEntry, error) {
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()
	start := time.Now()

	entry := pipeline.TraceEntry{
		Stage:     "search",
		InputSize: len(in.Rewritten),
	}

	vector, err := s.embedder.Embed(ctx, in.Rewritten)
	if err != nil {
		entry.Elapsed = time.Since(start)
		if timedOut(ctx, err) {
			entry.TimedOut = true
			return SearchResult{TimedOut: true}, entry, nil
		}
		return SearchResult{}, entry, err
	}

	candidates, err := s.store.Search(ctx, vector, vectorstore.Filter{
		Category: in.Category,
		Language: in.Language,
	}, MaxSearchCandidates)
	if err != nil {
		entry.Elapsed = time.Since(start)
		if timedOut(ctx, err) {
			entry.TimedOut = true
			return SearchResult{TimedOut: true}, entry, nil
		}
		return SearchResult{}, entry, err
	}

	queryTags := make([]string, 0, len(in.Matches))
	for _, m := range in.Matches {
		queryTags = append(queryTags, m.Tag.Name)
	}

	for i := range candidates {
		candidates[i].TagScore = vocab.TagOverlap(queryTags, candidates[i].MatchedTags)
		candidates[i].HybridScore = s.alpha*candidates[i].SemanticScore + (1-s.alpha)*candidates[i].TagScore
		candidates[i].SourceStage = "search"
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].HybridScore != candidates[b].HybridScore {
			return candidates[a].HybridScore > candidates[b].HybridScore
		}
		return candidates[a].ChunkID < candidates[b].ChunkID
	})
	if len(candidates) > MaxSearchCandidates {
		candidates = candidates[:MaxSearchCandidates]
	}

	out := SearchResult{
		Candidates: candidates,
		Confidence: MeanTopHybrid(candidates, 3),
	}

	entry.Elapsed = time.Since(start)
	entry.OutputSize = len(candidates)
	entry.Confidence = out.Confidence
	return out, entry, nil
}

// MeanTopHybrid averages the hybrid scores of the best n candidates. An empty
// set scores zero.
func MeanTopHybrid(candidates []models.Candidate, n int) float64 {
	if len(candidates) == 0 {
		return 0
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += candidates[i].HybridScore
	}
	return sum / float64(n)
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}
