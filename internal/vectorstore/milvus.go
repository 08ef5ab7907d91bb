package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

const (
	hnswM              = 16
	hnswEfConstruction = 256
	hnswEfSearch       = 64
)

// MilvusStore is the production Searcher backed by a Milvus collection of
// transcript chunks.
type MilvusStore struct {
	client     client.Client
	collection string
	dimension  int
	efSearch   int
	logger     *logrus.Logger
}

func NewMilvusStore(ctx context.Context, cfg config.VectorIndexConfig, logger *logrus.Logger) (*MilvusStore, error) {
	if cfg.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	c, err := client.NewGrpcClient(ctx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{
		client:     c,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		efSearch:   cfg.NProbe,
		logger:     logger,
	}

	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates and loads the chunk collection when it does not
// exist yet. Ingestion populates it out of band.
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if has {
		return m.client.LoadCollection(ctx, m.collection, false)
	}

	schema := &entity.Schema{
		CollectionName: m.collection,
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "episode_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "podcast_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "podcast_name",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.dimension),
				},
			},
			{
				// JSON array of canonical tag names.
				Name:     "tags",
				DataType: entity.FieldTypeJSON,
			},
			{
				Name:       "language",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "16"},
			},
			{
				Name:       "category",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "32"},
			},
			{
				Name:     "published_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstruction)
	if err != nil {
		return fmt.Errorf("failed to create index config: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return m.client.LoadCollection(ctx, m.collection, false)
}

var outputFields = []string{
	"chunk_id", "episode_id", "podcast_id", "podcast_name",
	"chunk_index", "text", "tags", "language", "category", "published_at",
}

func (m *MilvusStore) Search(ctx context.Context, vector []float32, filter Filter, k int) ([]models.Candidate, error) {
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.dimension, len(vector))
	}
	if k <= 0 {
		return []models.Candidate{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(searchEf(m.efSearch, k))
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		nil,
		filter.Expr(),
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	if len(results) == 0 {
		return []models.Candidate{}, nil
	}

	now := time.Now()
	candidates := make([]models.Candidate, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		cand, err := candidateAt(results[0].Fields, i)
		if err != nil {
			m.logger.WithError(err).Warn("Skipping malformed search hit")
			continue
		}
		cand.SemanticScore = clampScore(float64(results[0].Scores[i]))
		cand.RecencyScore = recencyFromField(results[0].Fields, i, now)
		candidates = append(candidates, cand)
	}

	// Score ties are broken by chunk_id so repeated searches agree.
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].SemanticScore != candidates[b].SemanticScore {
			return candidates[a].SemanticScore > candidates[b].SemanticScore
		}
		return candidates[a].ChunkID < candidates[b].ChunkID
	})

	return candidates, nil
}

func (m *MilvusStore) Neighbors(ctx context.Context, episodeID string, chunkIndex, span int) ([]models.Candidate, error) {
	if span <= 0 {
		return []models.Candidate{}, nil
	}

	expr := fmt.Sprintf(
		`episode_id == %s and chunk_index >= %d and chunk_index <= %d and chunk_index != %d`,
		quote(episodeID), chunkIndex-span, chunkIndex+span, chunkIndex,
	)

	columns, err := m.client.Query(ctx, m.collection, nil, expr, outputFields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	if len(columns) == 0 {
		return []models.Candidate{}, nil
	}

	now := time.Now()
	n := columns[0].Len()
	candidates := make([]models.Candidate, 0, n)
	for i := 0; i < n; i++ {
		cand, err := candidateAt(columns, i)
		if err != nil {
			m.logger.WithError(err).Warn("Skipping malformed neighbor row")
			continue
		}
		cand.RecencyScore = recencyFromField(columns, i, now)
		candidates = append(candidates, cand)
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].ChunkIndex < candidates[b].ChunkIndex
	})

	return candidates, nil
}

// searchEf picks the HNSW ef for one search from the configured search
// breadth (the nprobe knob). Milvus rejects ef below the requested k.
func searchEf(configured, k int) int {
	if configured <= 0 {
		configured = hnswEfSearch
	}
	if configured < k {
		return k
	}
	return configured
}

// Ping verifies the collection is still reachable; the health endpoint uses it.
func (m *MilvusStore) Ping(ctx context.Context) error {
	_, err := m.client.HasCollection(ctx, m.collection)
	return err
}

func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// candidateAt decodes row i of a result column set into a Candidate, leaving
// the score fields for the caller.
func candidateAt(columns []entity.Column, i int) (models.Candidate, error) {
	var cand models.Candidate
	for _, col := range columns {
		switch col.Name() {
		case "chunk_id":
			cand.ChunkID = varcharAt(col, i)
		case "episode_id":
			cand.EpisodeID = varcharAt(col, i)
		case "podcast_id":
			cand.PodcastID = varcharAt(col, i)
		case "podcast_name":
			cand.PodcastName = varcharAt(col, i)
		case "chunk_index":
			cand.ChunkIndex = int(int64At(col, i))
		case "text":
			cand.Text = varcharAt(col, i)
		case "language":
			cand.Language = varcharAt(col, i)
		case "category":
			cand.Category = models.Category(varcharAt(col, i))
		case "tags":
			if jsonCol, ok := col.(*entity.ColumnJSONBytes); ok && i < jsonCol.Len() {
				var tags []string
				if err := json.Unmarshal(jsonCol.Data()[i], &tags); err == nil {
					cand.MatchedTags = tags
				}
			}
		}
	}
	if cand.ChunkID == "" {
		return cand, fmt.Errorf("row %d missing chunk_id", i)
	}
	return cand, nil
}

func recencyFromField(columns []entity.Column, i int, now time.Time) float64 {
	for _, col := range columns {
		if col.Name() == "published_at" {
			ts := int64At(col, i)
			if ts <= 0 {
				return 0.5
			}
			return recencyScore(time.Unix(ts, 0), now)
		}
	}
	return 0.5
}

func varcharAt(col entity.Column, i int) string {
	if c, ok := col.(*entity.ColumnVarChar); ok && i < c.Len() {
		return c.Data()[i]
	}
	return ""
}

func int64At(col entity.Column, i int) int64 {
	if c, ok := col.(*entity.ColumnInt64); ok && i < c.Len() {
		return c.Data()[i]
	}
	return 0
}
