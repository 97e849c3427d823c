package model

import (
	"strings"
	"time"
)

type PromptType string

const (
	PromptCategorization PromptType = "categorization"
	PromptActionItem     PromptType = "action_item"
	PromptAutoReply      PromptType = "auto_reply"
)

// PromptTypes lists every known prompt type in display order.
var PromptTypes = []PromptType{PromptCategorization, PromptActionItem, PromptAutoReply}

func (t PromptType) Valid() bool {
	switch t {
	case PromptCategorization, PromptActionItem, PromptAutoReply:
		return true
	}
	return false
}

// 缺失或为空时使用的默认提示词
const (
	DefaultCategorizationPrompt = "Categorize this email"
	DefaultActionItemPrompt     = "Extract action items"
	DefaultAutoReplyPrompt      = "Draft a professional reply to this email."
)

type Prompt struct {
	Type      PromptType `json:"type"`
	Content   string     `json:"content"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// PromptSet is the prompt configuration resolved once and passed to every analysis of a run.
type PromptSet struct {
	Categorization string
	ActionItem     string
	AutoReply      string
}

// NewPromptSet resolves stored prompts, falling back to the defaults for missing or blank rows.
func NewPromptSet(prompts []Prompt) PromptSet {
	set := PromptSet{
		Categorization: DefaultCategorizationPrompt,
		ActionItem:     DefaultActionItemPrompt,
		AutoReply:      DefaultAutoReplyPrompt,
	}
	for _, p := range prompts {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		switch p.Type {
		case PromptCategorization:
			set.Categorization = content
		case PromptActionItem:
			set.ActionItem = content
		case PromptAutoReply:
			set.AutoReply = content
		}
	}
	return set
}
