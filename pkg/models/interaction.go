package models

import "time"

// InteractionAction is the closed set of user actions the recommender consumes.
type InteractionAction string

const (
	ActionLike   InteractionAction = "like"
	ActionUnlike InteractionAction = "unlike"
	ActionPlay   InteractionAction = "play"
	ActionSkip   InteractionAction = "skip"
)

// ValidAction reports whether s is one of the recognised interaction actions.
func ValidAction(s string) bool {
	switch InteractionAction(s) {
	case ActionLike, ActionUnlike, ActionPlay, ActionSkip:
		return true
	}
	return false
}

// UserInteraction is one user/episode event from the interaction store.
type UserInteraction struct {
	UserID    string            `json:"user_id"`
	EpisodeID string            `json:"episode_id"`
	Action    InteractionAction `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Weight    float64           `json:"weight"`
}

// ActionRating maps an action to its base contribution on the 0..5 rating
// scale before age decay.
func (a InteractionAction) Rating() float64 {
	switch a {
	case ActionLike:
		return 5.0
	case ActionPlay:
		return 3.5
	case ActionSkip:
		return 1.0
	case ActionUnlike:
		return 0.0
	default:
		return 2.5
	}
}
