package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailtriage/internal/analysis"
	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/otel"
	"mailtriage/pkg/util"
)

// RunBatch analyzes up to the batch size of unanalyzed emails, one at a time.
//
// Item failures are counted, never returned; only a store failure while loading
// prompts or emails is a hard error. When ctx is cancelled the loop stops and the
// summary covers the items reached so far.
func (s *TriageService) RunBatch(ctx context.Context) (model.BatchSummary, error) {
	unlock, err := acquireLock(ctx, s.lock)
	if err != nil {
		return model.BatchSummary{}, err
	}
	defer unlock()

	return s.runBatch(ctx)
}

// ReanalyzeAll clears every analysis and runs one batch.
func (s *TriageService) ReanalyzeAll(ctx context.Context) (model.BatchSummary, error) {
	unlock, err := acquireLock(ctx, s.lock)
	if err != nil {
		return model.BatchSummary{}, err
	}
	defer unlock()

	cleared, err := s.analyses.DeleteAllAnalyses(ctx)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("failed to clear analyses: %w", err)
	}
	s.log(ctx).Info("Cleared analyses for re-analysis", zap.Int64("cleared", cleared))

	return s.runBatch(ctx)
}

func acquireLock(ctx context.Context, lock util.RunLock) (func(), error) {
	unlock, ok, err := lock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire batch lock: %w", err)
	}
	if !ok {
		return nil, ErrBatchInProgress
	}
	return unlock, nil
}

func (s *TriageService) runBatch(ctx context.Context) (model.BatchSummary, error) {
	start := time.Now()
	defer func() { metrics.RecordBatchRun(time.Since(start)) }()

	ctx, span := otel.StartSpan(ctx, "triage.batch")
	defer span.End()

	prompts, err := s.loadPrompts(ctx)
	if err != nil {
		return model.BatchSummary{}, err
	}

	emails, err := s.emails.ListUnanalyzed(ctx, s.batchSize)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("failed to list unanalyzed emails: %w", err)
	}

	log := s.log(ctx)
	summary := model.BatchSummary{Total: len(emails)}
	if len(emails) == 0 {
		log.Info("No unanalyzed emails")
		return summary, nil
	}

	log.Info("Batch analysis started", zap.Int("total", len(emails)))

	for i, e := range emails {
		// 两封邮件之间固定间隔，最后一封之后不等待
		if i > 0 {
			if err := s.sleep(ctx, s.pacingDelay); err != nil {
				summary.Total = summary.Processed + summary.Failed
				return summary, err
			}
		}

		itemCtx, itemSpan := otel.StartSpan(ctx, "triage.analyze_email", attribute.Int("email.id", e.ID))
		attempts, err := s.withRetry(itemCtx, "analyze", e.ID, func(ctx context.Context) error {
			return s.analyzeAndSave(ctx, prompts, e)
		})
		itemSpan.SetAttributes(attribute.Int("attempts", attempts))
		otel.EndSpan(itemSpan, err)
		if err != nil {
			if ctx.Err() != nil {
				summary.Total = summary.Processed + summary.Failed
				log.Warn("Batch analysis cancelled",
					zap.Int("processed", summary.Processed),
					zap.Int("failed", summary.Failed),
				)
				return summary, ctx.Err()
			}

			summary.Failed++
			metrics.IncrementEmailAnalyzed("failed")
			retryable, errorType := util.IsRetryableError(err)
			log.Error("Email analysis failed",
				zap.Int("email_id", e.ID),
				zap.Int("attempts", attempts),
				zap.String("error_type", errorType),
				zap.Bool("retryable", retryable),
				zap.Error(err),
			)
			continue
		}

		summary.Processed++
		log.Info("Email analyzed",
			zap.Int("email_id", e.ID),
			zap.Int("attempts", attempts),
		)
	}

	span.SetAttributes(
		attribute.Int("batch.processed", summary.Processed),
		attribute.Int("batch.failed", summary.Failed),
	)
	log.Info("Batch analysis finished",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("total", summary.Total),
		zap.Duration("took", time.Since(start)),
	)
	return summary, nil
}

// AnalyzeEmail is one model call plus parsing. Malformed output is a Fallback, not an error.
func (s *TriageService) AnalyzeEmail(ctx context.Context, prompts model.PromptSet, e model.Email) (analysis.Outcome, error) {
	text, err := s.llm.Generate(ctx, analysis.BuildAnalyzeRequest(prompts, e))
	if err != nil {
		return nil, err
	}
	return analysis.ParseAnalysis(text), nil
}

func (s *TriageService) analyzeAndSave(ctx context.Context, prompts model.PromptSet, e model.Email) error {
	outcome, err := s.AnalyzeEmail(ctx, prompts, e)
	if err != nil {
		return err
	}

	status := "processed"
	if fb, ok := outcome.(analysis.Fallback); ok {
		status = "fallback"
		s.log(ctx).Warn("Unparseable analysis, storing fallback",
			zap.Int("email_id", e.ID),
			zap.Error(fb.Cause),
		)
	}

	if err := s.saveAnalysis(ctx, e.ID, outcome.Value()); err != nil {
		return fmt.Errorf("failed to save analysis of email %d: %w", e.ID, err)
	}
	metrics.IncrementEmailAnalyzed(status)
	return nil
}

// saveAnalysis upserts the categorization fields and marks the email analyzed.
// Draft and suggestions of an existing row are kept.
func (s *TriageService) saveAnalysis(ctx context.Context, emailID int, r analysis.Result) error {
	now := s.now()
	items := r.ActionItems
	if items == nil {
		items = []model.ActionItem{}
	}
	return s.upsertAnalysis(ctx, emailID, model.AnalysisPatch{
		Category:    &r.Category,
		Summary:     &r.Summary,
		ActionItems: &items,
		AnalyzedAt:  &now,
	})
}

// AnalyzeOnDemand returns the email with its analysis, analyzing it first when needed.
// An already analyzed email is returned without calling the model.
func (s *TriageService) AnalyzeOnDemand(ctx context.Context, id int) (*model.Email, error) {
	e, err := s.getEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Analysis.IsAnalyzed() {
		return e, nil
	}

	prompts, err := s.loadPrompts(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.withRetry(ctx, "analyze", id, func(ctx context.Context) error {
		return s.analyzeAndSave(ctx, prompts, *e)
	}); err != nil {
		return nil, err
	}

	return s.getEmail(ctx, id)
}
