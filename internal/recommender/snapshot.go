package recommender

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

// Snapshot is an immutable view of the interaction matrix. Readers never see
// a partially built snapshot; Engine swaps the whole pointer at once.
type Snapshot struct {
	Version int64
	BuiltAt time.Time

	userIndex    map[string]int
	episodeIndex map[string]int
	episodeIDs   []string

	// ratings is users x episodes of decayed ratings on the 0..5 scale.
	// A zero cell means "not rated"; explicit zero ratings (unlike) are
	// tracked in rated.
	ratings *mat.Dense
	rated   [][]bool

	userMeans  []float64
	userCounts []int

	// popularity holds decayed interaction mass per episode, used for
	// cold-start users.
	popularity map[string]float64
}

// BuildSnapshot folds raw interactions into a dense user/episode matrix with
// exponential age decay. Repeated interactions on the same pair keep the
// strongest decayed rating so a recent like is not diluted by old skips.
func BuildSnapshot(interactions []models.UserInteraction, cfg config.RecommenderConfig, version int64, now time.Time) *Snapshot {
	if cfg.MaxInteractions > 0 && len(interactions) > cfg.MaxInteractions {
		// Keep the most recent events when the feed exceeds the cap.
		sorted := make([]models.UserInteraction, len(interactions))
		copy(sorted, interactions)
		sort.SliceStable(sorted, func(a, b int) bool {
			return sorted[a].Timestamp.After(sorted[b].Timestamp)
		})
		interactions = sorted[:cfg.MaxInteractions]
	}

	userIndex := make(map[string]int)
	episodeIndex := make(map[string]int)
	var episodeIDs []string
	for _, it := range interactions {
		if it.UserID == "" || it.EpisodeID == "" {
			continue
		}
		if _, ok := userIndex[it.UserID]; !ok {
			userIndex[it.UserID] = len(userIndex)
		}
		if _, ok := episodeIndex[it.EpisodeID]; !ok {
			episodeIndex[it.EpisodeID] = len(episodeIndex)
			episodeIDs = append(episodeIDs, it.EpisodeID)
		}
	}

	snap := &Snapshot{
		Version:      version,
		BuiltAt:      now,
		userIndex:    userIndex,
		episodeIndex: episodeIndex,
		episodeIDs:   episodeIDs,
		popularity:   make(map[string]float64, len(episodeIndex)),
	}

	nUsers, nEpisodes := len(userIndex), len(episodeIndex)
	if nUsers == 0 || nEpisodes == 0 {
		return snap
	}

	snap.ratings = mat.NewDense(nUsers, nEpisodes, nil)
	snap.rated = make([][]bool, nUsers)
	for i := range snap.rated {
		snap.rated[i] = make([]bool, nEpisodes)
	}

	for _, it := range interactions {
		u, ok := userIndex[it.UserID]
		if !ok {
			continue
		}
		e := episodeIndex[it.EpisodeID]

		rating := it.Action.Rating() * ageDecay(it.Timestamp, now, cfg.HalfLife)
		if it.Weight > 0 {
			rating *= it.Weight
		}
		if rating > 5 {
			rating = 5
		}

		if !snap.rated[u][e] || rating > snap.ratings.At(u, e) {
			snap.ratings.Set(u, e, rating)
			snap.rated[u][e] = true
		}
		snap.popularity[it.EpisodeID] += rating
	}

	snap.userMeans = make([]float64, nUsers)
	snap.userCounts = make([]int, nUsers)
	for u := 0; u < nUsers; u++ {
		var sum float64
		var n int
		for e := 0; e < nEpisodes; e++ {
			if snap.rated[u][e] {
				sum += snap.ratings.At(u, e)
				n++
			}
		}
		snap.userCounts[u] = n
		if n > 0 {
			snap.userMeans[u] = sum / float64(n)
		}
	}

	return snap
}

func ageDecay(at, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 || at.IsZero() || at.After(now) {
		return 1
	}
	return math.Exp2(-float64(now.Sub(at)) / float64(halfLife))
}

// similarity is cosine over mean-centered ratings of the episodes both users
// rated. Centering keeps users with opposite taste out of the neighbourhood;
// ratings are all positive, so raw cosine would call them similar.
func (s *Snapshot) similarity(a, b int) float64 {
	var dot, na, nb float64
	shared := 0
	_, nEpisodes := s.ratings.Dims()
	for e := 0; e < nEpisodes; e++ {
		if !s.rated[a][e] || !s.rated[b][e] {
			continue
		}
		shared++
		ra := s.ratings.At(a, e) - s.userMeans[a]
		rb := s.ratings.At(b, e) - s.userMeans[b]
		dot += ra * rb
		na += ra * ra
		nb += rb * rb
	}
	if shared == 0 || na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// UserInteractionCount reports how many episodes the user has rated in this
// snapshot. Unknown users report zero.
func (s *Snapshot) UserInteractionCount(userID string) int {
	u, ok := s.userIndex[userID]
	if !ok {
		return 0
	}
	return s.userCounts[u]
}
