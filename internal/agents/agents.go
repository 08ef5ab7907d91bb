// Package agents holds the six stateless pipeline workers. Every worker takes
// its input plus a time budget and returns its output together with a trace
// entry; on budget expiry it returns whatever it has, marked timed out,
// instead of failing the request.
package agents

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// Per-worker confidence thresholds. A worker whose confidence lands below its
// threshold still returns output; the leader decides what a weak stage means.
const (
	ThresholdRewriter   = 0.6
	ThresholdSearcher   = 0.7
	ThresholdAugmenter  = 0.75
	ThresholdReranker   = 0.8
	ThresholdCompressor = 0.85
	ThresholdAnswerer   = 0.9
)

// withBudget caps ctx at the stage budget. Budgets of zero or less mean the
// caller's deadline alone applies.
func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// estimateTokens approximates token counts without a tokenizer: CJK text runs
// about one token per rune, space-delimited text about 0.75 words per token.
func estimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	words := len(strings.Fields(strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return ' '
		}
		return r
	}, text)))
	return cjk + (words*4+2)/3
}

// splitSentences breaks text on sentence punctuation for both latin and CJK
// scripts. The delimiter stays attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？', '\n':
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
