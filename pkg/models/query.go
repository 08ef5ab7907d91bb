package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is one of the three top-level domains that gates expert dispatch.
type Category string

const (
	CategoryBusiness  Category = "Business"
	CategoryEducation Category = "Education"
	CategoryOther     Category = "Other"
)

// Categories lists all categories in their canonical rank order. The order is
// load-bearing: merge ties across experts are broken by this rank.
var Categories = []Category{CategoryBusiness, CategoryEducation, CategoryOther}

// ParseCategory maps persisted category strings to the canonical enum.
// Unknown or empty strings map to Other.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "business":
		return CategoryBusiness
	case "education":
		return CategoryEducation
	default:
		return CategoryOther
	}
}

// Rank returns the category's position in the canonical order.
func (c Category) Rank() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return len(Categories)
}

// Query is the per-request input entity. Created at the gateway, immutable,
// destroyed when the response is emitted.
type Query struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	UserID     string    `json:"user_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Lang       string    `json:"lang,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// CategoryConfidence pairs a secondary category with its classification score.
type CategoryConfidence struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// CategoryDecision is the stage-0 classification output feeding expert dispatch.
type CategoryDecision struct {
	Primary     Category             `json:"primary"`
	Secondaries []CategoryConfidence `json:"secondaries,omitempty"`
	IsMulti     bool                 `json:"is_multi"`
}

// Categories returns the primary plus any secondary categories, deduplicated,
// primary first.
func (d CategoryDecision) Categories() []Category {
	cats := []Category{d.Primary}
	for _, sec := range d.Secondaries {
		if sec.Category != d.Primary {
			cats = append(cats, sec.Category)
		}
	}
	return cats
}
