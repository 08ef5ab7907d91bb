package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("unit norm", func(t *testing.T) {
		v := Normalize([]float64{3, 4})
		assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
	})

	t.Run("zero vector passes through", func(t *testing.T) {
		v := Normalize([]float64{0, 0, 0})
		assert.Equal(t, []float32{0, 0, 0}, v)
	})
}

func cosine(a, b []float32) float64 {
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

func TestDeterministic(t *testing.T) {
	emb := NewDeterministic(64)
	ctx := context.Background()

	t.Run("equal input equal vector", func(t *testing.T) {
		a, err := emb.Embed(ctx, "learn about investing")
		require.NoError(t, err)
		b, err := emb.Embed(ctx, "learn about investing")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("shared vocabulary scores higher", func(t *testing.T) {
		q, _ := emb.Embed(ctx, "how do I start investing in index funds")
		near, _ := emb.Embed(ctx, "investing in index funds for beginners")
		far, _ := emb.Embed(ctx, "medieval castle siege warfare tactics")
		assert.Greater(t, cosine(q, near), cosine(q, far))
	})

	t.Run("CJK text produces a non-zero vector", func(t *testing.T) {
		v, err := emb.Embed(ctx, "我想學習投資理財")
		require.NoError(t, err)
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	})

	t.Run("batch preserves order", func(t *testing.T) {
		vs, err := emb.EmbedBatch(ctx, []string{"alpha", "beta"})
		require.NoError(t, err)
		a, _ := emb.Embed(ctx, "alpha")
		assert.Equal(t, a, vs[0])
	})
}
