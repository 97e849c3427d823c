package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/service"
)

type PromptHandler struct {
	triage *service.TriageService
	logger *zap.Logger
}

func NewPromptHandler(triage *service.TriageService, logger *zap.Logger) *PromptHandler {
	return &PromptHandler{
		triage: triage,
		logger: logger,
	}
}

// ListPrompts handles GET /api/prompts
func (h *PromptHandler) ListPrompts(c *gin.Context) {
	prompts, err := h.triage.ListPrompts(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err, "Failed to fetch prompts")
		return
	}
	if prompts == nil {
		prompts = []model.Prompt{}
	}
	c.JSON(http.StatusOK, prompts)
}

// UpdatePrompts handles POST /api/prompts/update. Body keys are prompt types,
// e.g. {"categorization": "...", "auto_reply": "..."}; blank values are ignored.
func (h *PromptHandler) UpdatePrompts(c *gin.Context) {
	var req map[model.PromptType]string
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cleared, err := h.triage.UpdatePrompts(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err, "Failed to update prompts")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Prompts updated and analysis cleared",
		"cleared": cleared,
	})
}
