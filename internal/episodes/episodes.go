// Package episodes is the PostgreSQL store for episode metadata and user
// interaction history. It backs both response shaping (episode lookups) and
// the collaborative-filtering snapshot (interaction listing).
package episodes

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/pkg/models"
)

// Querier is the pgx surface the store needs; *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type Store struct {
	db     Querier
	logger *logrus.Logger
}

func NewStore(db Querier, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// GetEpisodesByIDs resolves episode metadata for the given ids. Missing ids
// are simply absent from the result; callers degrade to candidate-level
// fields when a lookup comes back short.
func (s *Store) GetEpisodesByIDs(ctx context.Context, ids []string) ([]models.Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT episode_id, podcast_id, podcast_name, title, description,
		       audio_uri, image_uri, rss_id, category
		FROM episodes
		WHERE episode_id = ANY($1)`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("episode lookup failed: %w", err)
	}
	defer rows.Close()

	var episodes []models.Episode
	for rows.Next() {
		var ep models.Episode
		var category string
		if err := rows.Scan(&ep.EpisodeID, &ep.PodcastID, &ep.PodcastName, &ep.Title,
			&ep.Description, &ep.AudioURI, &ep.ImageURI, &ep.RSSID, &category); err != nil {
			s.logger.WithError(err).Error("Failed to scan episode row")
			continue
		}
		ep.Category = models.ParseCategory(category)
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("episode lookup failed: %w", err)
	}

	return episodes, nil
}

// ListInteractions returns the most recent interactions, newest first, capped
// at limit. The recommender rebuilds its snapshot from this.
func (s *Store) ListInteractions(ctx context.Context, limit int) ([]models.UserInteraction, error) {
	if limit <= 0 {
		limit = 100000
	}

	query := `
		SELECT user_id, episode_id, action, occurred_at, weight
		FROM user_interactions
		ORDER BY occurred_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("interaction listing failed: %w", err)
	}
	defer rows.Close()

	var interactions []models.UserInteraction
	for rows.Next() {
		var in models.UserInteraction
		var action string
		if err := rows.Scan(&in.UserID, &in.EpisodeID, &action, &in.Timestamp, &in.Weight); err != nil {
			s.logger.WithError(err).Error("Failed to scan interaction row")
			continue
		}
		in.Action = models.InteractionAction(action)
		interactions = append(interactions, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interaction listing failed: %w", err)
	}

	return interactions, nil
}

// RecordInteraction persists one user/episode event. A later event for the
// same user, episode and action replaces the earlier one.
func (s *Store) RecordInteraction(ctx context.Context, in models.UserInteraction) error {
	if in.UserID == "" || in.EpisodeID == "" {
		return fmt.Errorf("%w: interaction requires user_id and episode_id", models.ErrInput)
	}
	if !models.ValidAction(string(in.Action)) {
		return fmt.Errorf("%w: unknown action %q", models.ErrInput, in.Action)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	query := `
		INSERT INTO user_interactions (user_id, episode_id, action, occurred_at, weight)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, episode_id, action)
		DO UPDATE SET occurred_at = EXCLUDED.occurred_at, weight = EXCLUDED.weight`

	if _, err := s.db.Exec(ctx, query, in.UserID, in.EpisodeID, string(in.Action), in.Timestamp, in.Weight); err != nil {
		return fmt.Errorf("failed to store interaction: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    in.UserID,
		"episode_id": in.EpisodeID,
		"action":     in.Action,
	}).Debug("Recorded interaction")

	return nil
}
