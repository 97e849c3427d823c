package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/llm"
	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/internal/retry"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/util"
)

var (
	ErrEmailNotFound   = errors.New("email not found")
	ErrBatchInProgress = errors.New("a batch analysis is already running")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidPrompt   = errors.New("unknown prompt type")
)

type EmailStore interface {
	ListEmails(ctx context.Context) ([]model.Email, error)
	GetEmail(ctx context.Context, id int) (*model.Email, error)
	ListUnanalyzed(ctx context.Context, limit int) ([]model.Email, error)
	CreateEmail(ctx context.Context, e *model.Email) error
}

// AnalysisStore returns repository.ErrNotFound for missing rows and
// repository.ErrDuplicate when CreateAnalysis hits an existing row.
type AnalysisStore interface {
	GetAnalysis(ctx context.Context, emailID int) (*model.EmailAnalysis, error)
	CreateAnalysis(ctx context.Context, a *model.EmailAnalysis) error
	PatchAnalysis(ctx context.Context, emailID int, patch model.AnalysisPatch) error
	DeleteAllAnalyses(ctx context.Context) (int64, error)
}

type PromptStore interface {
	ListPrompts(ctx context.Context) ([]model.Prompt, error)
	UpdatePromptsAndInvalidate(ctx context.Context, updates map[model.PromptType]string) (int64, error)
}

const DefaultBatchSize = 5

type Options struct {
	BatchSize int
	Retry     retry.Policy
	// PacingDelay separates consecutive emails of a batch.
	PacingDelay time.Duration
	// Sleep is used for pacing. Nil means retry.Sleep.
	Sleep  func(ctx context.Context, d time.Duration) error
	Lock   util.RunLock
	Logger *zap.Logger
	Now    func() time.Time
}

type TriageService struct {
	emails   EmailStore
	analyses AnalysisStore
	prompts  PromptStore
	llm      llm.Generator

	batchSize   int
	policy      retry.Policy
	pacingDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	lock        util.RunLock
	logger      *zap.Logger
	now         func() time.Time
}

func NewTriageService(emails EmailStore, analyses AnalysisStore, prompts PromptStore, gen llm.Generator, opts Options) *TriageService {
	s := &TriageService{
		emails:      emails,
		analyses:    analyses,
		prompts:     prompts,
		llm:         gen,
		batchSize:   opts.BatchSize,
		policy:      opts.Retry,
		pacingDelay: opts.PacingDelay,
		sleep:       opts.Sleep,
		lock:        opts.Lock,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.policy.MaxAttempts <= 0 {
		s.policy = retry.DefaultPolicy()
	}
	if s.sleep == nil {
		s.sleep = retry.Sleep
	}
	if s.lock == nil {
		s.lock = util.NewLocalLock()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *TriageService) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, s.logger)
}

// withRetry runs fn under the retry policy. Missing rows and bad input are never retried.
func (s *TriageService) withRetry(ctx context.Context, op string, emailID int, fn func(ctx context.Context) error) (int, error) {
	p := s.policy
	userHook := p.OnRetry
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		reason := "error"
		if llm.IsRateLimit(err) {
			reason = "rate_limit"
		}
		metrics.IncrementRetry(op, reason)
		s.log(ctx).Warn("Retrying LLM operation",
			zap.String("op", op),
			zap.Int("email_id", emailID),
			zap.Int("attempt", attempt),
			zap.String("reason", reason),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if userHook != nil {
			userHook(attempt, err, wait)
		}
	}

	return retry.Do(ctx, p, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrInvalidInput) {
			return retry.Permanent(err)
		}
		return err
	})
}

// generateText is one retried completion; blank output counts as a failed attempt.
func (s *TriageService) generateText(ctx context.Context, emailID int, req llm.Request) (string, error) {
	var text string
	_, err := s.withRetry(ctx, req.Op, emailID, func(ctx context.Context) error {
		out, err := s.llm.Generate(ctx, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		if text == "" {
			return llm.ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (s *TriageService) getEmail(ctx context.Context, id int) (*model.Email, error) {
	e, err := s.emails.GetEmail(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("email %d: %w", id, ErrEmailNotFound)
		}
		return nil, err
	}
	return e, nil
}

// loadPrompts resolves the prompt set once per operation.
func (s *TriageService) loadPrompts(ctx context.Context) (model.PromptSet, error) {
	prompts, err := s.prompts.ListPrompts(ctx)
	if err != nil {
		return model.PromptSet{}, fmt.Errorf("failed to load prompts: %w", err)
	}
	return model.NewPromptSet(prompts), nil
}

// upsertAnalysis creates the row of emailID, or patches it when one already exists,
// including one created concurrently by another request.
func (s *TriageService) upsertAnalysis(ctx context.Context, emailID int, patch model.AnalysisPatch) error {
	a := &model.EmailAnalysis{EmailID: emailID, ActionItems: []model.ActionItem{}}
	patch.Apply(a)

	err := s.analyses.CreateAnalysis(ctx, a)
	if errors.Is(err, repository.ErrDuplicate) {
		s.log(ctx).Debug("Analysis exists, updating in place", zap.Int("email_id", emailID))
		return s.analyses.PatchAnalysis(ctx, emailID, patch)
	}
	return err
}
