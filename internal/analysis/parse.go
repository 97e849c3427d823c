package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"mailtriage/internal/model"
)

var ErrMalformedOutput = errors.New("malformed model output")

// Result is the structured part of an analysis produced by the model.
type Result struct {
	Category    string             `json:"category"`
	Summary     string             `json:"summary"`
	ActionItems []model.ActionItem `json:"action_items"`
}

// FallbackResult is stored when the model output cannot be parsed.
func FallbackResult() Result {
	return Result{
		Category:    "General",
		Summary:     "Parse error",
		ActionItems: []model.ActionItem{},
	}
}

// Outcome is either Parsed or Fallback.
type Outcome interface {
	Value() Result
	isOutcome()
}

type Parsed struct {
	Result Result
}

func (p Parsed) Value() Result { return p.Result }
func (Parsed) isOutcome()      {}

// Fallback carries the sentinel result and why parsing failed.
type Fallback struct {
	Result Result
	Cause  error
}

func (f Fallback) Value() Result { return f.Result }
func (Fallback) isOutcome()      {}

func fallback(cause error) Fallback {
	return Fallback{Result: FallbackResult(), Cause: fmt.Errorf("%w: %v", ErrMalformedOutput, cause)}
}

// StripCodeFence removes a ``` or ```json wrapper around the model output.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type rawAnalysis struct {
	Category    *string            `json:"category"`
	Summary     *string            `json:"summary"`
	ActionItems []model.ActionItem `json:"action_items"`
}

// ParseAnalysis validates the model output against {category, summary, action_items}.
// It never fails: anything unusable becomes a Fallback.
func ParseAnalysis(text string) Outcome {
	var raw rawAnalysis
	if err := decodeObject(StripCodeFence(text), &raw); err != nil {
		return fallback(err)
	}

	if raw.Category == nil || strings.TrimSpace(*raw.Category) == "" {
		return fallback(errors.New("category missing"))
	}
	if raw.Summary == nil {
		return fallback(errors.New("summary missing"))
	}

	items := lo.Filter(raw.ActionItems, func(item model.ActionItem, _ int) bool {
		return item.Task != ""
	})
	if items == nil {
		items = []model.ActionItem{}
	}

	return Parsed{Result: Result{
		Category:    strings.TrimSpace(*raw.Category),
		Summary:     strings.TrimSpace(*raw.Summary),
		ActionItems: items,
	}}
}

// decodeObject decodes s, retrying on the outermost {...} when the model wrapped the
// object in prose.
func decodeObject(s string, out any) error {
	err := json.Unmarshal([]byte(s), out)
	if err == nil {
		return nil
	}

	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start || (start == 0 && end == len(s)-1) {
		return err
	}
	return json.Unmarshal([]byte(s[start:end+1]), out)
}

const SuggestionCount = 4

// DefaultSuggestions are served when the model gives no usable suggestions.
func DefaultSuggestions() []string {
	return []string{
		"Summarize this email",
		"What are the action items?",
		"Draft a reply",
		"Who is this from?",
	}
}

// ParseSuggestions returns exactly four suggestions. ok is false when the defaults were used.
func ParseSuggestions(text string) ([]string, bool) {
	s := StripCodeFence(text)

	var wrapped struct {
		Suggestions []string `json:"suggestions"`
	}
	var list []string
	if err := decodeObject(s, &wrapped); err == nil {
		list = wrapped.Suggestions
	} else if err := json.Unmarshal([]byte(s), &list); err != nil {
		return DefaultSuggestions(), false
	}

	list = lo.Uniq(lo.Compact(lo.Map(list, func(item string, _ int) string {
		return strings.TrimSpace(item)
	})))
	if len(list) < SuggestionCount {
		return DefaultSuggestions(), false
	}
	return list[:SuggestionCount], true
}
