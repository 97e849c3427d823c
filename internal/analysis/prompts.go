package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/samber/lo"

	"mailtriage/internal/llm"
	"mailtriage/internal/model"
)

const ChatSystemPrompt = "You are a helpful email assistant."

// PlainBody flattens HTML bodies to text; plain bodies are returned as is.
func PlainBody(body string) string {
	if !looksLikeHTML(body) {
		return body
	}
	text, err := html2text.FromString(body, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		return body
	}
	return text
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return lo.SomeBy([]string{"<html", "<body", "<div", "<p>", "<p ", "<br", "<table"}, func(tag string) bool {
		return strings.Contains(lower, tag)
	})
}

// BuildAnalyzeRequest embeds both rules and the email and asks for strict JSON.
func BuildAnalyzeRequest(prompts model.PromptSet, e model.Email) llm.Request {
	prompt := fmt.Sprintf(`Analyze this email based on these rules:
1. Categorization Rule: %q
2. Action Item Rule: %q

Email Content:
Subject: %s
Body: %s

STRICT OUTPUT FORMAT (JSON ONLY):
{
  "category": "String",
  "summary": "String (2-3 sentences, detailed overview)",
  "action_items": [{"task": "String", "deadline": "String"}]
}`, prompts.Categorization, prompts.ActionItem, e.Subject, PlainBody(e.Body))

	return llm.Request{Op: "analyze", Prompt: prompt, JSON: true}
}

func BuildDraftRequest(prompts model.PromptSet, e model.Email) llm.Request {
	prompt := fmt.Sprintf("Incoming Email: %q\nTASK: %s\nOutput just the reply body.",
		PlainBody(e.Body), prompts.AutoReply)
	return llm.Request{Op: "draft", Prompt: prompt}
}

// BuildRegenerateRequest asks for a reply that differs from previous. previous may be empty.
func BuildRegenerateRequest(prompts model.PromptSet, e model.Email, previous string) llm.Request {
	var b strings.Builder
	b.WriteString("Make this reply different from before.\n")
	if previous != "" {
		fmt.Fprintf(&b, "Previous reply: %q\n", previous)
	}
	fmt.Fprintf(&b, "Email: %q\nTASK: %s\nOutput just the reply body.", PlainBody(e.Body), prompts.AutoReply)
	return llm.Request{Op: "regenerate", Prompt: b.String()}
}

func BuildSummaryRequest(e model.Email) llm.Request {
	return llm.Request{
		Op:     "summary",
		Prompt: fmt.Sprintf("Summarize this email in 2 sentences: %q", PlainBody(e.Body)),
	}
}

// BuildChatRequest answers one question about e. No history is kept.
func BuildChatRequest(e model.Email, question string) llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Email from %s\nSubject: %s\nReceived: %s\n", e.From, e.Subject, e.ReceivedAt.Format(time.RFC1123))
	if a := e.Analysis; a.IsAnalyzed() {
		fmt.Fprintf(&b, "Category: %s\nSummary: %s\n", a.Category, a.Summary)
		if len(a.ActionItems) > 0 {
			b.WriteString("Action items:\n")
			for _, item := range a.ActionItems {
				if item.Deadline != "" {
					fmt.Fprintf(&b, "- %s (deadline: %s)\n", item.Task, item.Deadline)
				} else {
					fmt.Fprintf(&b, "- %s\n", item.Task)
				}
			}
		}
	}
	fmt.Fprintf(&b, "Body: %s", PlainBody(e.Body))

	return llm.Request{
		Op:     "chat",
		System: ChatSystemPrompt,
		Prompt: fmt.Sprintf("Context: %s\n\nQuestion: %s", b.String(), question),
	}
}

func BuildSuggestionsRequest(e model.Email) llm.Request {
	prompt := fmt.Sprintf(`Read this email and provide 4 short, relevant follow-up questions or chat suggestions that a user might ask about this email.

Email: %q

Output JSON format:
{
  "suggestions": ["suggestion 1", "suggestion 2", "suggestion 3", "suggestion 4"]
}`, PlainBody(e.Body))

	return llm.Request{Op: "suggestions", Prompt: prompt, JSON: true}
}
