package agents

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/podsage/podsage/internal/embedding"
	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/pkg/models"
)

// CompressResult is the context window handed to the answerer. Candidates
// keep their compressed text so the trace can attribute every kept sentence.
type CompressResult struct {
	Candidates []models.Candidate
	Context    string
	Tokens     int
	Confidence float64
	TimedOut   bool
}

// Compressor squeezes candidate text under the context budget by dropping
// sentences that score below the similarity floor against the query.
type Compressor struct {
	embedder  embedding.Client
	maxTokens int
	threshold float64
}

func NewCompressor(embedder embedding.Client, maxTokens int, threshold float64) *Compressor {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	if threshold <= 0 {
		threshold = 0.25
	}
	return &Compressor{embedder: embedder, maxTokens: maxTokens, threshold: threshold}
}

func (c *Compressor) Run(ctx context.Context, candidates []models.Candidate, queryText string, budget time.Duration) (CompressResult, pipeline.TraceEntry) {
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()
	start := time.Now()

	out := CompressResult{Confidence: ThresholdCompressor}

	queryVector, embedErr := c.embedder.Embed(ctx, queryText)

	spent := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			out.TimedOut = true
			break
		}
		if spent >= c.maxTokens {
			break
		}

		sentences := splitSentences(cand.Text)
		kept := sentences

		// Without a query vector every sentence survives; the token cap
		// still applies.
		if embedErr == nil && len(sentences) > 1 {
			vectors, err := c.embedder.EmbedBatch(ctx, sentences)
			if err == nil {
				kept = kept[:0]
				for i, s := range sentences {
					if cosine32(queryVector, vectors[i]) >= c.threshold {
						kept = append(kept, s)
					}
				}
				if len(kept) == 0 {
					// An all-dropped candidate keeps its strongest lead
					// sentence so the answerer still sees the source.
					kept = sentences[:1]
				}
			}
		}

		var compressed []string
		for _, s := range kept {
			cost := estimateTokens(s)
			if spent+cost > c.maxTokens {
				break
			}
			spent += cost
			compressed = append(compressed, s)
		}
		if len(compressed) == 0 {
			continue
		}

		cand.Text = strings.Join(compressed, " ")
		cand.SourceStage = "compress"
		out.Candidates = append(out.Candidates, cand)
	}

	var blocks []string
	for _, cand := range out.Candidates {
		header := cand.PodcastName
		if header == "" {
			header = cand.EpisodeID
		}
		blocks = append(blocks, "["+header+"] "+cand.Text)
	}
	out.Context = strings.Join(blocks, "\n\n")
	out.Tokens = spent

	if embedErr != nil {
		out.Confidence = 0.5
	}

	return out, pipeline.TraceEntry{
		Stage:      "compress",
		Elapsed:    time.Since(start),
		InputSize:  len(candidates),
		OutputSize: len(out.Candidates),
		Confidence: out.Confidence,
		TimedOut:   out.TimedOut,
	}
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
