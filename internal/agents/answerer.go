package agents

import (
	"context"
	"errors"
	"time"

	"github.com/podsage/podsage/internal/llm"
	"github.com/podsage/podsage/internal/pipeline"
)

// answerSystemPrompt pins the model to the retrieved context. The wording is
// part of the answer contract; grounding tests depend on it staying strict.
const answerSystemPrompt = `You are a podcast knowledge assistant. Answer the user's question using ONLY the provided podcast transcript excerpts. Do not use outside knowledge. If the excerpts do not contain the answer, say you do not know. Answer in the same language as the question. Cite the podcast name in square brackets when you draw on an excerpt.`

// AnswerResult is the generated answer with the LLM's heuristic confidence.
type AnswerResult struct {
	Answer     string
	Backend    string
	Confidence float64
	TimedOut   bool
}

// Answerer is the only worker that talks to the LLM pool.
type Answerer struct {
	client    llm.Client
	maxTokens int
}

func NewAnswerer(client llm.Client, maxTokens int) *Answerer {
	return &Answerer{client: client, maxTokens: maxTokens}
}

func (a *Answerer) Run(ctx context.Context, contextText, queryText string, budget time.Duration) (AnswerResult, pipeline.TraceEntry, error) {
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()
	start := time.Now()

	entry := pipeline.TraceEntry{
		Stage:     "answer",
		InputSize: len(contextText) + len(queryText),
	}

	result, err := a.client.Complete(ctx, llm.Request{
		System:    answerSystemPrompt,
		User:      "Podcast excerpts:\n\n" + contextText + "\n\nQuestion: " + queryText,
		MaxTokens: a.maxTokens,
	})
	entry.Elapsed = time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			entry.TimedOut = true
			return AnswerResult{TimedOut: true}, entry, nil
		}
		return AnswerResult{}, entry, err
	}

	out := AnswerResult{
		Answer:     result.Text,
		Backend:    result.Backend,
		Confidence: result.Confidence,
	}
	entry.OutputSize = len(out.Answer)
	entry.Confidence = out.Confidence
	return out, entry, nil
}
