package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/service"
)

type EmailHandler struct {
	triage *service.TriageService
	logger *zap.Logger
}

func NewEmailHandler(triage *service.TriageService, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{
		triage: triage,
		logger: logger,
	}
}

func emailID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email id"})
		return 0, false
	}
	return id, true
}

// ListEmails handles GET /api/emails
func (h *EmailHandler) ListEmails(c *gin.Context) {
	emails, err := h.triage.ListEmails(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err, "Failed to fetch emails")
		return
	}
	if emails == nil {
		emails = []model.Email{}
	}
	c.JSON(http.StatusOK, emails)
}

// GetEmail handles GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	id, ok := emailID(c)
	if !ok {
		return
	}
	email, err := h.triage.GetEmail(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err, "Failed to fetch email")
		return
	}
	c.JSON(http.StatusOK, email)
}

// CreateEmail handles POST /api/emails
func (h *EmailHandler) CreateEmail(c *gin.Context) {
	var req struct {
		From       string     `json:"from"`
		Subject    string     `json:"subject"`
		Body       string     `json:"body"`
		ReceivedAt *time.Time `json:"receivedAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	email := &model.Email{From: req.From, Subject: req.Subject, Body: req.Body}
	if req.ReceivedAt != nil {
		email.ReceivedAt = *req.ReceivedAt
	}
	if err := h.triage.IngestEmail(c.Request.Context(), email); err != nil {
		writeError(c, h.logger, err, "Failed to store email")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": email.ID})
}

// Ingest handles POST /api/emails/ingest. It analyzes at most one batch of
// unanalyzed emails and blocks until the batch is done.
func (h *EmailHandler) Ingest(c *gin.Context) {
	summary, err := h.triage.RunBatch(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err, "Failed to process emails")
		return
	}
	message := "Ingestion complete"
	if summary.NothingToDo() {
		message = "No new emails to process."
	}
	c.JSON(http.StatusOK, summaryResponse(message, summary))
}

// Reanalyze handles POST /api/emails/reanalyze
func (h *EmailHandler) Reanalyze(c *gin.Context) {
	summary, err := h.triage.ReanalyzeAll(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err, "Failed to re-analyze emails")
		return
	}
	c.JSON(http.StatusOK, summaryResponse("Re-analysis complete", summary))
}

func summaryResponse(message string, s model.BatchSummary) gin.H {
	return gin.H{
		"message":   message,
		"processed": s.Processed,
		"failed":    s.Failed,
		"total":     s.Total,
	}
}

// Analyze handles POST /api/emails/:id/analyze
func (h *EmailHandler) Analyze(c *gin.Context) {
	id, ok := emailID(c)
	if !ok {
		return
	}
	email, err := h.triage.AnalyzeOnDemand(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err, "Failed to analyze email")
		return
	}
	c.JSON(http.StatusOK, email)
}

// GenerateDraft handles POST /api/emails/:id/generate-draft
func (h *EmailHandler) GenerateDraft(c *gin.Context) {
	id, ok := emailID(c)
	if !ok {
		return
	}
	draft, err := h.triage.GenerateDraft(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err, "Failed to generate draft")
		return
	}
	c.JSON(http.StatusOK, gin.H{"responseDraft": draft, "draft": draft})
}

// RegenerateDraft handles POST /api/emails/:id/regenerate-draft
func (h *EmailHandler) RegenerateDraft(c *gin.Context) {
	id, ok := emailID(c)
	if !ok {
		return
	}
	draft, err := h.triage.RegenerateDraft(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err, "Failed to regenerate draft")
		return
	}
	c.JSON(http.StatusOK, gin.H{"responseDraft": draft, "draft": draft})
}

// Chat handles POST /api/emails/:id/chat
func (h *EmailHandler) Chat(c *gin.Context) {
	id, ok := emailID(c)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	answer, err := h.triage.Chat(c.Request.Context(), id, req.Message)
	if err != nil {
		writeError(c, h.logger, err, "Failed to process chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": answer})
}

// Suggestions handles GET /api/emails/:id/suggestions
func (h *EmailHandler) Suggestions(c *gin.Context) {
	id, ok := emailID(c)
	if !ok {
		return
	}
	suggestions, err := h.triage.Suggestions(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err, "Failed to generate suggestions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}
