package models

// ResponseSource distinguishes how the answer was produced so clients can
// render the appropriate UI.
type ResponseSource string

const (
	SourceRAG         ResponseSource = "rag"
	SourceWebFallback ResponseSource = "web_fallback"
	SourceDefault     ResponseSource = "default"
)

// DefaultAnswer is the canonical apology emitted when neither retrieval nor
// web fallback produced a confident answer.
const DefaultAnswer = "Sorry, I couldn't find a confident answer to that. " +
	"Try rephrasing your question or asking about a different topic."

// EpisodeRecommendation is one ranked episode in the final response body.
type EpisodeRecommendation struct {
	EpisodeID    string  `json:"episode_id"`
	PodcastName  string  `json:"podcast_name"`
	EpisodeTitle string  `json:"episode_title"`
	AudioURI     string  `json:"audio_uri"`
	ImageURI     string  `json:"image_uri"`
	Score        float64 `json:"score"`
}

// Response is the terminal output of one query through the pipeline.
type Response struct {
	Answer          string                  `json:"answer"`
	Recommendations []EpisodeRecommendation `json:"recommendations"`
	Confidence      float64                 `json:"confidence"`
	Source          ResponseSource          `json:"source"`
	TraceID         string                  `json:"trace_id"`
}
