package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/podsage/podsage/internal/middleware"
	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/internal/validation"
	"github.com/podsage/podsage/pkg/models"
)

// QueryRunner drives one query through the pipeline; the runner satisfies it.
type QueryRunner interface {
	Run(ctx context.Context, query models.Query) (models.Response, *pipeline.Trace, error)
}

type QueryHandler struct {
	runner         QueryRunner
	validator      *validation.SchemaValidator
	maxQueryLength int
	logger         *logrus.Logger
}

func NewQueryHandler(runner QueryRunner, validator *validation.SchemaValidator, maxQueryLength int, logger *logrus.Logger) *QueryHandler {
	if maxQueryLength <= 0 {
		maxQueryLength = 2000
	}
	return &QueryHandler{
		runner:         runner,
		validator:      validator,
		maxQueryLength: maxQueryLength,
		logger:         logger,
	}
}

type queryRequest struct {
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Lang      string `json:"lang"`
}

func (h *QueryHandler) Handle(c *gin.Context) {
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

	if result := h.validator.ValidateQuery(body); !result.Valid {
		c.JSON(http.StatusBadRequest, result.ToAPIError())
		return
	}

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
			},
		})
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "EMPTY_QUERY",
				"message": "Query text must not be empty",
			},
		})
		return
	}
	if utf8.RuneCountInString(text) > h.maxQueryLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "QUERY_TOO_LONG",
				"message": "Query text exceeds the maximum length",
			},
		})
		return
	}

	query := models.Query{
		ID:         uuid.New(),
		Text:       text,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Lang:       normalizeLang(req.Lang),
		ReceivedAt: time.Now(),
	}
	c.Set(middleware.TraceIDKey, query.ID.String())

	response, trace, err := h.runner.Run(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, trace, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *QueryHandler) respondError(c *gin.Context, trace *pipeline.Trace, err error) {
	traceID := ""
	if trace != nil {
		traceID = trace.ID
	}
	log := h.logger.WithError(err).WithField("trace_id", traceID)

	switch {
	case errors.Is(err, models.ErrInput):
		c.JSON(http.StatusBadRequest, errorBody("INVALID_QUERY", "Query rejected", traceID))
	case errors.Is(err, models.ErrTimeout):
		log.Warn("Query timed out")
		c.JSON(http.StatusRequestTimeout, errorBody("REQUEST_TIMEOUT", "Query exceeded the request budget", traceID))
	case errors.Is(err, models.ErrResourceExhausted):
		c.JSON(http.StatusTooManyRequests, errorBody("RESOURCE_EXHAUSTED", "Service is at capacity", traceID))
	case errors.Is(err, models.ErrBackendUnavailable):
		log.Error("Answer backends unavailable")
		c.JSON(http.StatusServiceUnavailable, errorBody("BACKEND_UNAVAILABLE", "Answer generation is unavailable", traceID))
	default:
		log.Error("Query failed")
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "Query processing failed", traceID))
	}
}

func errorBody(code, message, traceID string) gin.H {
	body := gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
	if traceID != "" {
		body["trace_id"] = traceID
	}
	return body
}

// normalizeLang reduces a BCP 47 tag to its base language ("zh-TW" to "zh").
// Unparseable tags are dropped so they cannot poison the search filter.
func normalizeLang(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
