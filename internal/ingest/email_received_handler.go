// Package ingest stores emails arriving from outside the HTTP API: the
// email.received queue and RFC 822 files.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/service"
	"mailtriage/pkg/logger"
)

// Ingester stores one new email. *service.TriageService implements it.
type Ingester interface {
	IngestEmail(ctx context.Context, e *model.Email) error
}

// EmailReceivedPayload email.received 事件的 payload
type EmailReceivedPayload struct {
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

type EmailReceivedHandler struct {
	ingester Ingester
	logger   *zap.Logger
}

func NewEmailReceivedHandler(ingester Ingester, logger *zap.Logger) *EmailReceivedHandler {
	return &EmailReceivedHandler{
		ingester: ingester,
		logger:   logger,
	}
}

// HandleEmailReceived stores the email carried by the event. Malformed or invalid
// payloads are logged and dropped; store errors are returned so the consumer can
// requeue or dead-letter the message.
func (h *EmailReceivedHandler) HandleEmailReceived(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p EmailReceivedPayload
	if err := gojson.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal email received payload", zap.Error(err))
		return nil
	}

	email := &model.Email{
		From:       p.From,
		Subject:    p.Subject,
		Body:       p.Body,
		ReceivedAt: p.ReceivedAt,
	}
	if err := h.ingester.IngestEmail(ctx, email); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			log.Warn("Dropping invalid email received event",
				zap.String("from", p.From),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	log.Debug("Email received event stored", zap.Int("email_id", email.ID))
	return nil
}
