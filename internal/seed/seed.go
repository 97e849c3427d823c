// Package seed loads the demo mailbox and the default prompts.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"mailtriage/internal/model"
)

//go:embed demo_emails.json
var demoEmailsJSON []byte

// DefaultPrompts are the prompts a fresh install starts with.
var DefaultPrompts = map[model.PromptType]string{
	model.PromptCategorization: "Analyze the email content and categorize it into one of the following: 'Important', 'Promotional', 'Spam', 'General', 'Meeting', 'Urgent'. Return only the category name.",
	model.PromptActionItem:     "Extract any action items, tasks, or requests from the email. Return them as a JSON array of strings. If there are no action items, return an empty array.",
	model.PromptAutoReply:      "Draft a professional and concise reply to this email based on its context. If it's a meeting request, suggest checking the calendar. If it's spam, ignore it.",
}

type demoEmail struct {
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// DemoEmails returns the demo mailbox, newest first as listed.
func DemoEmails() ([]model.Email, error) {
	var raw []demoEmail
	if err := json.Unmarshal(demoEmailsJSON, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode demo emails: %w", err)
	}
	emails := make([]model.Email, 0, len(raw))
	for _, d := range raw {
		emails = append(emails, model.Email{
			From:       d.From,
			Subject:    d.Subject,
			Body:       d.Body,
			ReceivedAt: d.ReceivedAt,
		})
	}
	return emails, nil
}

type EmailWriter interface {
	CreateEmail(ctx context.Context, e *model.Email) error
	DeleteAllEmails(ctx context.Context) error
}

type PromptWriter interface {
	UpsertPrompts(ctx context.Context, prompts map[model.PromptType]string) error
}

type Seeder struct {
	emails  EmailWriter
	prompts PromptWriter
	logger  *zap.Logger
}

func NewSeeder(emails EmailWriter, prompts PromptWriter, logger *zap.Logger) *Seeder {
	return &Seeder{
		emails:  emails,
		prompts: prompts,
		logger:  logger,
	}
}

// Run resets the prompts to their defaults and inserts the demo emails. With reset
// set, existing emails and analyses are deleted first.
func (s *Seeder) Run(ctx context.Context, reset bool) (int, error) {
	emails, err := DemoEmails()
	if err != nil {
		return 0, err
	}

	if reset {
		if err := s.emails.DeleteAllEmails(ctx); err != nil {
			return 0, err
		}
		s.logger.Info("Deleted existing emails")
	}

	if err := s.prompts.UpsertPrompts(ctx, DefaultPrompts); err != nil {
		return 0, err
	}
	s.logger.Info("Seeded prompts", zap.Int("count", len(DefaultPrompts)))

	for i := range emails {
		if err := s.emails.CreateEmail(ctx, &emails[i]); err != nil {
			return i, fmt.Errorf("failed to seed email %q: %w", emails[i].Subject, err)
		}
	}
	s.logger.Info("Seeded emails", zap.Int("count", len(emails)))
	return len(emails), nil
}
