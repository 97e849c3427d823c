package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/llm"
	"mailtriage/internal/repository"
	"mailtriage/internal/service"
	"mailtriage/pkg/logger"
)

const rateLimitMessage = "AI rate limit reached, please try again shortly"

// writeError maps service errors to a status code. fallback is the message used for
// unexpected failures, which are logged with the request trace id.
func writeError(c *gin.Context, log *zap.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidPrompt):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmailNotFound), errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Email not found"})
	case errors.Is(err, service.ErrBatchInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Another analysis run is in progress"})
	case llm.IsRateLimit(err):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": rateLimitMessage})
	default:
		logger.WithTrace(c.Request.Context(), log).Error(fallback,
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
