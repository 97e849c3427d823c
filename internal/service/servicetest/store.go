// Package servicetest provides in-memory stores and a mock generator for tests
// of the triage service and its HTTP handlers.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailtriage/internal/model"
	"mailtriage/internal/repository"
)

// MemoryStore implements the email, analysis and prompt stores. It enforces one
// analysis per email like the unique index does.
type MemoryStore struct {
	mu       sync.Mutex
	emails   map[int]model.Email
	analyses map[int]model.EmailAnalysis
	prompts  map[model.PromptType]model.Prompt
	nextID   int

	// BeforeCreate runs before an analysis insert with the lock released.
	BeforeCreate func(emailID int)
	// Err, when set, is returned by every list and get call.
	Err error

	CreateCalls int
	PatchCalls  int
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		emails:   map[int]model.Email{},
		analyses: map[int]model.EmailAnalysis{},
		prompts:  map[model.PromptType]model.Prompt{},
	}
	for _, t := range model.PromptTypes {
		s.prompts[t] = model.Prompt{Type: t, Content: "default " + string(t)}
	}
	return s
}

// AddEmail stores an email and returns its id.
func (s *MemoryStore) AddEmail(from, subject, body string) int {
	e := &model.Email{From: from, Subject: subject, Body: body}
	_ = s.CreateEmail(context.Background(), e)
	return e.ID
}

// Analysis returns a copy of the analysis row of emailID.
func (s *MemoryStore) Analysis(emailID int) (model.EmailAnalysis, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[emailID]
	return a, ok
}

func (s *MemoryStore) AnalysisCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.analyses)
}

// SetPrompt replaces a prompt row; an empty content simulates a blank row.
func (s *MemoryStore) SetPrompt(t model.PromptType, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[t] = model.Prompt{Type: t, Content: content}
}

func (s *MemoryStore) DeletePrompt(t model.PromptType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prompts, t)
}

func (s *MemoryStore) withAnalysis(e model.Email) model.Email {
	if a, ok := s.analyses[e.ID]; ok {
		e.Analysis = &a
	}
	return e
}

func (s *MemoryStore) sortedEmails() []model.Email {
	out := make([]model.Email, 0, len(s.emails))
	for _, e := range s.emails {
		out = append(out, s.withAnalysis(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListEmails(_ context.Context) ([]model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := s.sortedEmails()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetEmail(_ context.Context, id int) (*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	e, ok := s.emails[id]
	if !ok {
		return nil, fmt.Errorf("email %d: %w", id, repository.ErrNotFound)
	}
	e = s.withAnalysis(e)
	return &e, nil
}

func (s *MemoryStore) ListUnanalyzed(_ context.Context, limit int) ([]model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []model.Email
	for _, e := range s.sortedEmails() {
		if e.Analysis.IsAnalyzed() {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateEmail(_ context.Context, e *model.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	stored := *e
	stored.Analysis = nil
	s.emails[e.ID] = stored
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, emailID int) (*model.EmailAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[emailID]
	if !ok {
		return nil, fmt.Errorf("analysis of email %d: %w", emailID, repository.ErrNotFound)
	}
	return &a, nil
}

func (s *MemoryStore) CreateAnalysis(_ context.Context, a *model.EmailAnalysis) error {
	if s.BeforeCreate != nil {
		s.BeforeCreate(a.EmailID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if _, ok := s.emails[a.EmailID]; !ok {
		return fmt.Errorf("email %d: %w", a.EmailID, repository.ErrNotFound)
	}
	if _, ok := s.analyses[a.EmailID]; ok {
		return fmt.Errorf("analysis of email %d: %w", a.EmailID, repository.ErrDuplicate)
	}
	now := time.Now()
	a.ID = a.EmailID
	a.CreatedAt, a.UpdatedAt = now, now
	s.analyses[a.EmailID] = *a
	return nil
}

func (s *MemoryStore) PatchAnalysis(_ context.Context, emailID int, patch model.AnalysisPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PatchCalls++
	a, ok := s.analyses[emailID]
	if !ok {
		return fmt.Errorf("analysis of email %d: %w", emailID, repository.ErrNotFound)
	}
	patch.Apply(&a)
	a.UpdatedAt = time.Now()
	s.analyses[emailID] = a
	return nil
}

func (s *MemoryStore) DeleteAllAnalyses(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.analyses))
	s.analyses = map[int]model.EmailAnalysis{}
	return n, nil
}

func (s *MemoryStore) ListPrompts(_ context.Context) ([]model.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]model.Prompt, 0, len(s.prompts))
	for _, t := range model.PromptTypes {
		if p, ok := s.prompts[t]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdatePromptsAndInvalidate(_ context.Context, updates map[model.PromptType]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range updates {
		if _, ok := s.prompts[t]; !ok {
			return 0, fmt.Errorf("prompt %s: %w", t, repository.ErrNotFound)
		}
	}
	for t, content := range updates {
		s.prompts[t] = model.Prompt{Type: t, Content: content, UpdatedAt: time.Now()}
	}
	n := int64(len(s.analyses))
	s.analyses = map[int]model.EmailAnalysis{}
	return n, nil
}
