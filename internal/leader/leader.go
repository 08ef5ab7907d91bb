// Package leader implements the top-level orchestrator: it classifies the
// query, fans out to category experts, merges their evidence, drives the
// answer stages and gates the final response between rag, web fallback and
// the default apology.
package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/podsage/podsage/internal/agents"
	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/internal/experts"
	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/internal/vocab"
	"github.com/podsage/podsage/internal/websearch"
	"github.com/podsage/podsage/pkg/models"
)

// State is the request lifecycle position, recorded for tracing and logs.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateClassified State = "CLASSIFIED"
	StateExpertsRan State = "EXPERTS_RAN"
	StateMerged     State = "MERGED"
	StateAnswered   State = "ANSWERED"
	StateRAGOK      State = "RAG_OK"
	StateFallbackOK State = "FALLBACK_OK"
	StateDefault    State = "DEFAULT"
)

type Leader struct {
	vocabulary  *vocab.Store
	experts     map[models.Category]*experts.Expert
	augmenter   *agents.Augmenter
	compressor  *agents.Compressor
	answerer    *agents.Answerer
	recommender Recommender
	episodes    EpisodeStore
	fallback    websearch.Client

	cfg             config.PipelineConfig
	fallbackEnabled bool
	logger          *logrus.Logger
}

func New(
	vocabulary *vocab.Store,
	expertSet []*experts.Expert,
	augmenter *agents.Augmenter,
	compressor *agents.Compressor,
	answerer *agents.Answerer,
	rec Recommender,
	episodes EpisodeStore,
	fallback websearch.Client,
	cfg config.PipelineConfig,
	fallbackEnabled bool,
	logger *logrus.Logger,
) *Leader {
	byCategory := make(map[models.Category]*experts.Expert, len(expertSet))
	for _, e := range expertSet {
		byCategory[e.Category()] = e
	}
	return &Leader{
		vocabulary:      vocabulary,
		experts:         byCategory,
		augmenter:       augmenter,
		compressor:      compressor,
		answerer:        answerer,
		recommender:     rec,
		episodes:        episodes,
		fallback:        fallback,
		cfg:             cfg,
		fallbackEnabled: fallbackEnabled,
		logger:          logger,
	}
}

// Run drives one query through the full pipeline. Stage failures degrade to
// the fallback path; only a dead LLM pool with fallback disabled surfaces as
// an error.
func (l *Leader) Run(ctx context.Context, query models.Query, trace *pipeline.Trace) (models.Response, error) {
	state := StateReceived
	log := l.logger.WithFields(logrus.Fields{
		"trace_id": trace.ID,
		"user_id":  query.UserID,
	})

	// Classify.
	start := time.Now()
	decision, primaryConfidence := Classify(l.vocabulary.Current(), query.Text)
	trace.Append(pipeline.TraceEntry{
		Stage:      "classify",
		Elapsed:    time.Since(start),
		InputSize:  len(query.Text),
		OutputSize: len(decision.Categories()),
		Confidence: primaryConfidence,
	})
	state = StateClassified
	log.WithFields(logrus.Fields{
		"state":    state,
		"primary":  decision.Primary,
		"is_multi": decision.IsMulti,
	}).Debug("Query classified")

	// Dispatch experts concurrently; merge order stays deterministic.
	results, expertErr := l.dispatch(ctx, query, decision, trace)
	state = StateExpertsRan
	log.WithFields(logrus.Fields{"state": state, "experts": len(results)}).Debug("Experts finished")
	if len(results) == 0 {
		reason := "experts_failed"
		if expertErr != nil {
			log.WithError(expertErr).Warn("All experts failed")
		} else {
			reason = "no_candidates"
		}
		return l.fallbackResponse(ctx, query, trace, reason)
	}

	merged := mergeExpertResults(results, l.cfg.MergeLimit)
	retrievalScore := bestHybrid(merged)
	trace.Append(pipeline.TraceEntry{
		Stage:      "merge",
		InputSize:  totalCandidates(results),
		OutputSize: len(merged),
		Confidence: retrievalScore,
	})
	state = StateMerged
	log.WithFields(logrus.Fields{"state": state, "candidates": len(merged)}).Debug("Expert results merged")
	if len(merged) == 0 {
		return l.fallbackResponse(ctx, query, trace, "no_candidates")
	}

	// Augment and compress.
	augmented, entry := l.augmenter.Run(ctx, merged, l.cfg.StageBudget("augment"))
	trace.Append(entry)

	compressed, entry := l.compressor.Run(ctx, augmented.Candidates, query.Text, l.cfg.StageBudget("compress"))
	trace.Append(entry)
	if compressed.Context == "" {
		return l.fallbackResponse(ctx, query, trace, "empty_context")
	}

	// Answer.
	answer, entry, err := l.answerer.Run(ctx, compressed.Context, query.Text, l.cfg.StageBudget("answer"))
	trace.Append(entry)
	if err != nil {
		if !l.fallbackEnabled {
			return models.Response{}, fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
		}
		return l.fallbackResponse(ctx, query, trace, "llm_unavailable")
	}
	state = StateAnswered
	log.WithFields(logrus.Fields{"state": state, "backend": answer.Backend}).Debug("Answer generated")

	// Confidence gate.
	leaderConfidence := l.cfg.GateRetrievalWeight*retrievalScore + l.cfg.GateAnswerWeight*answer.Confidence
	trace.Append(pipeline.TraceEntry{
		Stage:      "gate",
		Confidence: leaderConfidence,
	})

	if answer.TimedOut || leaderConfidence < l.cfg.RAGThreshold {
		return l.fallbackResponse(ctx, query, trace, "low_confidence")
	}

	state = StateRAGOK
	log.WithFields(logrus.Fields{
		"state":      state,
		"confidence": leaderConfidence,
	}).Info("Request answered from corpus")

	return models.Response{
		Answer:          answer.Answer,
		Recommendations: l.recommend(ctx, query, merged),
		Confidence:      leaderConfidence,
		Source:          models.SourceRAG,
		TraceID:         trace.ID,
	}, nil
}

// dispatch runs the selected experts in parallel and returns the successful
// results in deterministic category order.
func (l *Leader) dispatch(ctx context.Context, query models.Query, decision models.CategoryDecision, trace *pipeline.Trace) ([]experts.Result, error) {
	categories := decision.Categories()

	type slot struct {
		result experts.Result
		err    error
		ran    bool
	}
	slots := make([]slot, len(categories))

	g, ctx := errgroup.WithContext(ctx)
	for i, category := range categories {
		expert, ok := l.experts[category]
		if !ok {
			continue
		}
		i, expert := i, expert
		g.Go(func() error {
			result, err := expert.Run(ctx, query, trace)
			slots[i] = slot{result: result, err: err, ran: true}
			// Expert errors degrade; they must not cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	var results []experts.Result
	var firstErr error
	for _, s := range slots {
		if !s.ran {
			continue
		}
		if s.err != nil {
			if firstErr == nil {
				firstErr = s.err
			}
			continue
		}
		results = append(results, s.result)
	}
	return results, firstErr
}

// fallbackResponse runs the web-search path, or the default response when the
// fallback is disabled or unconvincing. The search gets a grace window even
// when the request deadline already fired, so a timed-out pipeline can still
// return something useful.
func (l *Leader) fallbackResponse(ctx context.Context, query models.Query, trace *pipeline.Trace, reason string) (models.Response, error) {
	if !l.fallbackEnabled {
		trace.Append(pipeline.TraceEntry{Stage: "fallback", Fallback: reason + ";disabled"})
		return l.defaultResponse(trace), nil
	}

	searchCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
	}

	start := time.Now()
	result := l.fallback.Search(searchCtx, query.Text, query.Lang)
	trace.Append(pipeline.TraceEntry{
		Stage:      "fallback",
		Elapsed:    time.Since(start),
		OutputSize: len(result.Hits),
		Confidence: result.Confidence,
		Fallback:   reason,
	})

	if result.Confidence >= l.cfg.FallbackThreshold && result.Summary != "" {
		l.logger.WithFields(logrus.Fields{
			"trace_id": trace.ID,
			"state":    StateFallbackOK,
			"reason":   reason,
		}).Info("Request answered from web fallback")
		return models.Response{
			Answer:     result.Summary,
			Confidence: result.Confidence,
			Source:     models.SourceWebFallback,
			TraceID:    trace.ID,
		}, nil
	}

	return l.defaultResponse(trace), nil
}

func (l *Leader) defaultResponse(trace *pipeline.Trace) models.Response {
	l.logger.WithFields(logrus.Fields{
		"trace_id": trace.ID,
		"state":    StateDefault,
	}).Info("Request answered with default response")
	return models.Response{
		Answer:  models.DefaultAnswer,
		Source:  models.SourceDefault,
		TraceID: trace.ID,
	}
}

func totalCandidates(results []experts.Result) int {
	var n int
	for _, r := range results {
		n += len(r.Candidates)
	}
	return n
}
