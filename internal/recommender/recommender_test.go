package recommender

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

type staticSource struct {
	interactions []models.UserInteraction
	err          error
}

func (s *staticSource) ListInteractions(ctx context.Context, limit int) ([]models.UserInteraction, error) {
	return s.interactions, s.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() config.RecommenderConfig {
	return config.RecommenderConfig{
		Neighbourhood:   10,
		MinInteractions: 5,
		HalfLife:        90 * 24 * time.Hour,
		MaxInteractions: 100000,
	}
}

func interaction(user, episode string, action models.InteractionAction, age time.Duration) models.UserInteraction {
	return models.UserInteraction{
		UserID:    user,
		EpisodeID: episode,
		Action:    action,
		Timestamp: time.Now().Add(-age),
	}
}

// denseHistory gives a user enough interactions to clear the cold-start floor.
func denseHistory(user string, likes, skips []string) []models.UserInteraction {
	var out []models.UserInteraction
	for _, ep := range likes {
		out = append(out, interaction(user, ep, models.ActionLike, time.Hour))
	}
	for _, ep := range skips {
		out = append(out, interaction(user, ep, models.ActionSkip, time.Hour))
	}
	return out
}

func TestEngineColdStart(t *testing.T) {
	interactions := append(
		denseHistory("warm", []string{"ep1", "ep1", "ep1", "ep2"}, []string{"ep3"}),
		interaction("other", "ep1", models.ActionLike, time.Hour),
	)
	engine := NewEngine(&staticSource{interactions: interactions}, testConfig(), testLogger())
	require.NoError(t, engine.Refresh(context.Background()))

	t.Run("unknown user gets popularity order", func(t *testing.T) {
		got := engine.Recommend("nobody", []string{"ep3", "ep1", "ep2"}, 3)
		require.Len(t, got, 3)
		assert.Equal(t, "ep1", got[0].EpisodeID)
		assert.True(t, got[0].ColdStart)
		assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	})

	t.Run("user below interaction floor gets popularity order", func(t *testing.T) {
		got := engine.Recommend("other", []string{"ep2", "ep1"}, 2)
		require.Len(t, got, 2)
		assert.Equal(t, "ep1", got[0].EpisodeID)
		assert.True(t, got[0].ColdStart)
	})

	t.Run("unseen candidate scores zero", func(t *testing.T) {
		got := engine.Recommend("nobody", []string{"ep-unknown"}, 1)
		require.Len(t, got, 1)
		assert.Zero(t, got[0].Score)
	})
}

func TestEnginePrediction(t *testing.T) {
	// alice and bob agree on the seed episodes; bob liked ep-target and
	// carol skipped it. alice should inherit bob's taste.
	var interactions []models.UserInteraction
	interactions = append(interactions, denseHistory("alice", []string{"s1", "s2", "s3"}, []string{"s4", "s5"})...)
	interactions = append(interactions, denseHistory("bob", []string{"s1", "s2", "s3"}, []string{"s4", "s5"})...)
	interactions = append(interactions, denseHistory("carol", []string{"s4", "s5"}, []string{"s1", "s2", "s3"})...)
	interactions = append(interactions,
		interaction("bob", "ep-target", models.ActionLike, time.Hour),
		interaction("carol", "ep-other", models.ActionLike, time.Hour),
	)

	engine := NewEngine(&staticSource{interactions: interactions}, testConfig(), testLogger())
	require.NoError(t, engine.Refresh(context.Background()))

	got := engine.Recommend("alice", []string{"ep-target", "ep-other"}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "ep-target", got[0].EpisodeID)
	assert.Greater(t, got[0].Score, got[1].Score)
	assert.False(t, got[0].ColdStart)

	t.Run("scores stay in unit range", func(t *testing.T) {
		for _, s := range got {
			assert.GreaterOrEqual(t, s.Score, 0.0)
			assert.LessOrEqual(t, s.Score, 1.0)
		}
	})

	t.Run("ties break on episode id", func(t *testing.T) {
		scored := engine.Recommend("nobody", []string{"zz", "aa"}, 2)
		require.Len(t, scored, 2)
		assert.Equal(t, "aa", scored[0].EpisodeID)
	})
}

func TestEngineRefresh(t *testing.T) {
	source := &staticSource{interactions: denseHistory("u", []string{"e1", "e2", "e3", "e4", "e5"}, nil)}
	engine := NewEngine(source, testConfig(), testLogger())
	require.NoError(t, engine.Refresh(context.Background()))
	before := engine.Snapshot()

	t.Run("failed refresh keeps previous snapshot", func(t *testing.T) {
		source.err = errors.New("kafka down")
		err := engine.Refresh(context.Background())
		require.Error(t, err)
		assert.Same(t, before, engine.Snapshot())
	})

	t.Run("successful refresh bumps version", func(t *testing.T) {
		source.err = nil
		require.NoError(t, engine.Refresh(context.Background()))
		after := engine.Snapshot()
		assert.Greater(t, after.Version, before.Version)
	})
}

func TestAgeDecay(t *testing.T) {
	now := time.Now()
	halfLife := 90 * 24 * time.Hour

	assert.InDelta(t, 1.0, ageDecay(now, now, halfLife), 1e-9)
	assert.InDelta(t, 0.5, ageDecay(now.Add(-halfLife), now, halfLife), 1e-9)
	assert.Equal(t, 1.0, ageDecay(now.Add(-halfLife), now, 0))

	t.Run("recent like outranks old like in popularity", func(t *testing.T) {
		snap := BuildSnapshot([]models.UserInteraction{
			interaction("a", "fresh", models.ActionLike, time.Hour),
			interaction("b", "stale", models.ActionLike, 365*24*time.Hour),
		}, testConfig(), 1, now)
		assert.Greater(t, snap.popularity["fresh"], snap.popularity["stale"])
	})
}
