package models

// Candidate is a retrievable chunk scored against the current query. Created
// by the hybrid searcher, mutated along the pipeline (augmented, reranked,
// compressed), discarded once the response is built.
type Candidate struct {
	ChunkID       string   `json:"chunk_id"`
	EpisodeID     string   `json:"episode_id"`
	PodcastID     string   `json:"podcast_id"`
	PodcastName   string   `json:"podcast_name,omitempty"`
	ChunkIndex    int      `json:"chunk_index"`
	Text          string   `json:"text"`
	Category      Category `json:"category"`
	Language      string   `json:"language,omitempty"`
	SemanticScore float64  `json:"semantic_score"`
	TagScore      float64  `json:"tag_score"`
	HybridScore   float64  `json:"hybrid_score"`
	RecencyScore  float64  `json:"recency_score,omitempty"`
	MatchedTags   []string `json:"matched_tags,omitempty"`
	SourceStage   string   `json:"source_stage,omitempty"`
}

// Episode is the summary view used for response shaping. Owned by the episode
// store; the pipeline only reads it.
type Episode struct {
	EpisodeID   string   `json:"episode_id"`
	PodcastID   string   `json:"podcast_id"`
	PodcastName string   `json:"podcast_name"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	AudioURI    string   `json:"audio_uri"`
	ImageURI    string   `json:"image_uri"`
	RSSID       string   `json:"rss_id,omitempty"`
	Category    Category `json:"category"`
}
