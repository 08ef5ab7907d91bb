package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/validation"
	"github.com/podsage/podsage/pkg/models"
)

// Recorder persists interactions directly; the episode store satisfies it.
type Recorder interface {
	RecordInteraction(ctx context.Context, in models.UserInteraction) error
}

// Publisher puts interactions on the message bus instead. When Kafka is
// enabled the handler prefers it so writes do not block the request.
type Publisher interface {
	PublishInteraction(ctx context.Context, in models.UserInteraction) error
}

type InteractionHandler struct {
	recorder  Recorder
	publisher Publisher
	validator *validation.SchemaValidator
	logger    *logrus.Logger
}

func NewInteractionHandler(recorder Recorder, publisher Publisher, validator *validation.SchemaValidator, logger *logrus.Logger) *InteractionHandler {
	return &InteractionHandler{
		recorder:  recorder,
		publisher: publisher,
		validator: validator,
		logger:    logger,
	}
}

type interactionRequest struct {
	UserID    string  `json:"user_id"`
	EpisodeID string  `json:"episode_id"`
	Action    string  `json:"action"`
	Timestamp string  `json:"timestamp"`
	Weight    float64 `json:"weight"`
}

func (h *InteractionHandler) Record(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to read request body",
			},
		})
		return
	}

	if result := h.validator.ValidateInteraction(body); !result.Valid {
		c.JSON(http.StatusBadRequest, result.ToAPIError())
		return
	}

	var req interactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
			},
		})
		return
	}

	interaction := models.UserInteraction{
		UserID:    req.UserID,
		EpisodeID: req.EpisodeID,
		Action:    models.InteractionAction(req.Action),
		Timestamp: time.Now(),
		Weight:    req.Weight,
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_TIMESTAMP",
					"message": "Timestamp must be RFC 3339",
				},
			})
			return
		}
		interaction.Timestamp = ts
	}

	if h.publisher != nil {
		if err := h.publisher.PublishInteraction(c.Request.Context(), interaction); err == nil {
			c.JSON(http.StatusAccepted, gin.H{"message": "Interaction accepted"})
			return
		} else {
			// Broker trouble must not lose the event; store it directly.
			h.logger.WithError(err).Warn("Interaction publish failed, recording directly")
		}
	}

	if err := h.recorder.RecordInteraction(c.Request.Context(), interaction); err != nil {
		if errors.Is(err, models.ErrInput) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_INTERACTION",
					"message": err.Error(),
				},
			})
			return
		}
		h.logger.WithError(err).Error("Failed to record interaction")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERACTION_FAILED",
				"message": "Failed to record interaction",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Interaction recorded"})
}
