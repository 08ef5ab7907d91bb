package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// Deterministic is a dependency-free embedder for tests and local runs. It
// hashes tokens into buckets so texts sharing vocabulary land near each other
// under cosine similarity, and equal inputs always produce equal vectors.
type Deterministic struct {
	Dim int

	// Err, if set, is returned by every call.
	Err error
}

func NewDeterministic(dim int) *Deterministic {
	return &Deterministic{Dim: dim}
}

func (d *Deterministic) Dimension() int { return d.Dim }

func (d *Deterministic) Embed(ctx context.Context, text string) ([]float32, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	v := make([]float64, d.Dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		v[int(h.Sum32())%d.Dim]++
	}
	// CJK text has no spaces; fall back to character bigrams.
	if strings.TrimSpace(text) != "" && allZero(v) {
		runes := []rune(strings.ToLower(text))
		for i := 0; i+1 < len(runes); i++ {
			h := fnv.New32a()
			h.Write([]byte(string(runes[i : i+2])))
			v[int(h.Sum32())%d.Dim]++
		}
	}
	return Normalize(v), nil
}

func (d *Deterministic) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := d.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
