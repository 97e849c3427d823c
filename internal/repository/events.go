package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"mailtriage/pkg/outbox"
	"mailtriage/pkg/trace"
)

// 发布到 MQ 的事件
const (
	RoutingKeyEmailAnalyzed  = "email.analyzed"
	RoutingKeyPromptsUpdated = "prompts.updated"
)

type EmailAnalyzedEvent struct {
	EmailID     int       `json:"email_id"`
	Category    string    `json:"category"`
	ActionItems int       `json:"action_items"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type PromptsUpdatedEvent struct {
	Types   []string `json:"types"`
	Cleared int64    `json:"cleared"`
	TraceID string   `json:"trace_id,omitempty"`
}

// publishInTx is a no-op when no outbox is configured.
func publishInTx(ctx context.Context, tx pgx.Tx, repo *outbox.Repository, aggregateType string, aggregateID *int64, routingKey string, payload any) error {
	if repo == nil {
		return nil
	}
	return outbox.InsertEventInTx(ctx, tx, repo, aggregateType, aggregateID, routingKey, payload)
}

func traceID(ctx context.Context) string {
	return trace.FromContext(ctx)
}
