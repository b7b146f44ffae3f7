// Package suggest generates AI solution drafts for issues through
// Groq's OpenAI-compatible chat completion API.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/faultdex/faultdex/internal/db"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("ai suggestions disabled: no api key configured")

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.3-70b-versatile"

	maxStackTraceChars = 500

	systemPrompt = "You are an expert programmer who helps solve coding errors concisely."
)

type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Suggestion is one AI-drafted solution for an issue.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AIGenerated bool   `json:"ai_generated"`
}

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Generator struct {
	client completionAPI
	model  string
	logger zerolog.Logger
}

// NewGenerator builds a Groq-backed generator. A missing API key is
// not an error at construction: Enabled reports it and Suggest returns
// ErrDisabled.
func NewGenerator(opts Options, logger zerolog.Logger) *Generator {
	g := &Generator{model: opts.Model, logger: logger}
	if g.model == "" {
		g.model = defaultModel
	}
	if opts.APIKey == "" {
		logger.Warn().Msg("no ai api key configured, suggestions disabled")
		return g
	}

	config := openai.DefaultConfig(opts.APIKey)
	config.BaseURL = opts.BaseURL
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	g.client = openai.NewClientWithConfig(config)
	logger.Info().Str("model", g.model).Msg("ai suggestion generator initialized")
	return g
}

func (g *Generator) Enabled() bool {
	return g.client != nil
}

// Suggest drafts a solution for the issue. The draft is advisory text;
// persisting it as a solution is the caller's decision.
func (g *Generator) Suggest(ctx context.Context, issue *db.IssueRecord) (*Suggestion, error) {
	if g.client == nil {
		return nil, ErrDisabled
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(issue)},
		},
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, errors.New("empty completion response")
	}

	errorType := issue.ErrorType
	if errorType == "" {
		errorType = "Error"
	}
	g.logger.Info().Str("issue_uuid", issue.IssueUUID).Msg("generated ai solution suggestion")
	return &Suggestion{
		Title:       "AI Suggestion: Fix for " + errorType,
		Description: resp.Choices[0].Message.Content,
		AIGenerated: true,
	}, nil
}

func buildPrompt(issue *db.IssueRecord) string {
	errorType := orUnknown(issue.ErrorType)
	message := issue.ErrorMessage
	if message == "" {
		message = "No message"
	}
	lang := "Unknown"
	if issue.Language != nil && *issue.Language != "" {
		lang = *issue.Language
	}
	severity := issue.Severity
	if severity == "" {
		severity = "medium"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are an expert programmer helping to solve a coding error.

**Error Details:**
- Type: %s
- Message: %s
- Language: %s
- Severity: %s

`, errorType, message, lang, severity)

	if issue.StackTrace != nil && *issue.StackTrace != "" {
		trace := *issue.StackTrace
		if len(trace) > maxStackTraceChars {
			trace = trace[:maxStackTraceChars]
		}
		fmt.Fprintf(&b, "**Stack Trace:**\n%s\n\n", trace)
	}

	if issue.CodeSnippet != nil && *issue.CodeSnippet != "" {
		fence := ""
		if issue.Language != nil {
			fence = strings.ToLower(*issue.Language)
		}
		fmt.Fprintf(&b, "**Code Snippet:**\n```%s\n%s\n```\n\n", fence, *issue.CodeSnippet)
	}

	b.WriteString(`**Task:**
Provide a concise solution to fix this error. Format your response as:

1. **Root Cause:** Brief explanation (1-2 sentences)
2. **Solution:** Step-by-step fix (3-5 steps max)
3. **Code Fix:** Corrected code snippet if applicable

Keep it practical and actionable. Focus on the most common cause.`)
	return b.String()
}

func orUnknown(value string) string {
	if value == "" {
		return "Unknown"
	}
	return value
}
