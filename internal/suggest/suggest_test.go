package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"

	"github.com/faultdex/faultdex/internal/db"
)

type fakeCompletion struct {
	req     openai.ChatCompletionRequest
	content string
	err     error
}

func (f *fakeCompletion) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func strPtr(s string) *string { return &s }

func TestSuggestDisabledWithoutKey(t *testing.T) {
	t.Parallel()

	generator := NewGenerator(Options{}, zerolog.Nop())
	if generator.Enabled() {
		t.Fatalf("expected generator disabled without api key")
	}
	if _, err := generator.Suggest(context.Background(), &db.IssueRecord{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestSuggestBuildsPromptFromIssue(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletion{content: "1. **Root Cause:** nil map write"}
	generator := &Generator{client: fake, model: defaultModel, logger: zerolog.Nop()}

	issue := &db.IssueRecord{
		IssueUUID:    "uuid-1",
		ErrorType:    "TypeError",
		ErrorMessage: "x is undefined",
		Language:     strPtr("javascript"),
		Severity:     "high",
		StackTrace:   strPtr(strings.Repeat("at frame\n", 100)),
		CodeSnippet:  strPtr("const x = y.z"),
	}

	suggestion, err := generator.Suggest(context.Background(), issue)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if suggestion.Title != "AI Suggestion: Fix for TypeError" {
		t.Fatalf("unexpected title %q", suggestion.Title)
	}
	if !suggestion.AIGenerated {
		t.Fatalf("expected ai_generated flag")
	}

	if fake.req.Model != defaultModel {
		t.Fatalf("unexpected model %q", fake.req.Model)
	}
	if len(fake.req.Messages) != 2 || fake.req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("expected system+user messages, got %+v", fake.req.Messages)
	}
	prompt := fake.req.Messages[1].Content
	for _, want := range []string{
		"- Type: TypeError",
		"- Message: x is undefined",
		"- Language: javascript",
		"- Severity: high",
		"```javascript\nconst x = y.z\n```",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}

	start := strings.Index(prompt, "**Stack Trace:**\n")
	if start < 0 {
		t.Fatalf("prompt missing stack trace section")
	}
	section := prompt[start+len("**Stack Trace:**\n"):]
	section = section[:strings.Index(section, "\n\n")]
	if len(section) > maxStackTraceChars {
		t.Fatalf("stack trace not truncated: %d chars", len(section))
	}
}

func TestSuggestFillsDefaultsForSparseIssue(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletion{content: "answer"}
	generator := &Generator{client: fake, model: defaultModel, logger: zerolog.Nop()}

	suggestion, err := generator.Suggest(context.Background(), &db.IssueRecord{})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if suggestion.Title != "AI Suggestion: Fix for Error" {
		t.Fatalf("unexpected title %q", suggestion.Title)
	}
	prompt := fake.req.Messages[1].Content
	for _, want := range []string{"- Type: Unknown", "- Message: No message", "- Severity: medium"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "**Stack Trace:**") || strings.Contains(prompt, "**Code Snippet:**") {
		t.Fatalf("sparse issue must omit optional sections")
	}
}

func TestSuggestPropagatesAPIError(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletion{err: errors.New("rate limited")}
	generator := &Generator{client: fake, model: defaultModel, logger: zerolog.Nop()}

	if _, err := generator.Suggest(context.Background(), &db.IssueRecord{ErrorType: "E"}); err == nil {
		t.Fatalf("expected api error to propagate")
	}
}
