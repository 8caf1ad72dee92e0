package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockCompleter provides deterministic local replies when no endpoint is configured.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (Completion, error) {
	if strings.TrimSpace(prompt) == "" {
		return Completion{}, &ValidationError{Reason: "prompt is empty"}
	}
	return m.CompleteMessages(ctx, []Message{{Role: "user", Content: prompt}})
}

func (m *MockCompleter) CompleteMessages(ctx context.Context, messages []Message) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, &NetworkError{Attempts: 1, Err: ctx.Err()}
	default:
	}
	if err := validateMessages(messages); err != nil {
		return Completion{}, err
	}
	return Completion{Content: buildMockReply(messages), Model: "mock"}, nil
}

func buildMockReply(messages []Message) string {
	base := strings.TrimSpace(messages[len(messages)-1].Content)

	// With history present, recall the previous user prompt.
	if len(messages) < 3 {
		return fmt.Sprintf("I heard you: %s", base)
	}
	prev := strings.TrimSpace(messages[len(messages)-3].Content)
	if prev == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", base, prev)
}
