package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/services"
)

// RateLimit enforces the per-client QPS ceiling. The client key is the
// X-User-ID header when present, otherwise the caller's IP.
func RateLimit(limiter *services.RateLimiter, limit int, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader("X-User-ID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))

		if !limiter.Allow(c.Request.Context(), clientID) {
			logger.WithFields(logrus.Fields{
				"client_id": clientID,
				"path":      c.Request.URL.Path,
			}).Warn("Rate limit exceeded")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
