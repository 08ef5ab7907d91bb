package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/podsage/podsage/pkg/models"
)

// Chunk is the stored form a FakeStore holds. Tags carry the canonical tag
// names attached at ingestion time.
type Chunk struct {
	ChunkID     string
	EpisodeID   string
	PodcastID   string
	PodcastName string
	ChunkIndex  int
	Text        string
	Category    models.Category
	Language    string
	Tags        []string
	PublishedAt time.Time
	Embedding   []float32
}

// FakeStore is an in-memory Searcher with exact cosine scoring. It exists for
// tests and local runs without a Milvus instance.
type FakeStore struct {
	mu     sync.RWMutex
	chunks []Chunk

	// Err, if set, is returned by every call.
	Err error
}

func NewFakeStore(chunks ...Chunk) *FakeStore {
	return &FakeStore{chunks: chunks}
}

func (f *FakeStore) Add(chunks ...Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
}

func (f *FakeStore) Search(ctx context.Context, vector []float32, filter Filter, k int) ([]models.Candidate, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	now := time.Now()
	candidates := make([]models.Candidate, 0, k)
	for _, chunk := range f.chunks {
		if !matchesFilter(chunk, filter) {
			continue
		}
		candidates = append(candidates, models.Candidate{
			ChunkID:       chunk.ChunkID,
			EpisodeID:     chunk.EpisodeID,
			PodcastID:     chunk.PodcastID,
			PodcastName:   chunk.PodcastName,
			ChunkIndex:    chunk.ChunkIndex,
			Text:          chunk.Text,
			Category:      chunk.Category,
			Language:      chunk.Language,
			MatchedTags:   chunk.Tags,
			SemanticScore: clampScore(cosine(vector, chunk.Embedding)),
			RecencyScore:  recencyScore(chunk.PublishedAt, now),
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].SemanticScore != candidates[b].SemanticScore {
			return candidates[a].SemanticScore > candidates[b].SemanticScore
		}
		return candidates[a].ChunkID < candidates[b].ChunkID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (f *FakeStore) Neighbors(ctx context.Context, episodeID string, chunkIndex, span int) ([]models.Candidate, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	now := time.Now()
	var candidates []models.Candidate
	for _, chunk := range f.chunks {
		if chunk.EpisodeID != episodeID || chunk.ChunkIndex == chunkIndex {
			continue
		}
		if chunk.ChunkIndex < chunkIndex-span || chunk.ChunkIndex > chunkIndex+span {
			continue
		}
		candidates = append(candidates, models.Candidate{
			ChunkID:      chunk.ChunkID,
			EpisodeID:    chunk.EpisodeID,
			PodcastID:    chunk.PodcastID,
			PodcastName:  chunk.PodcastName,
			ChunkIndex:   chunk.ChunkIndex,
			Text:         chunk.Text,
			Category:     chunk.Category,
			Language:     chunk.Language,
			MatchedTags:  chunk.Tags,
			RecencyScore: recencyScore(chunk.PublishedAt, now),
		})
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].ChunkIndex < candidates[b].ChunkIndex
	})
	return candidates, nil
}

func matchesFilter(chunk Chunk, filter Filter) bool {
	if filter.Category != "" && chunk.Category != filter.Category {
		return false
	}
	if filter.Language != "" && chunk.Language != filter.Language {
		return false
	}
	if filter.PodcastID != "" && chunk.PodcastID != filter.PodcastID {
		return false
	}
	if len(filter.Tags) > 0 {
		found := false
		for _, want := range filter.Tags {
			for _, have := range chunk.Tags {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
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
