package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks delivery of a message.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

var ErrInvalidTransition = errors.New("invalid message status transition")

// Message is a single conversational turn.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// NewUserMessage returns a user message in the sending state.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      RoleUser,
		Timestamp: time.Now().UTC(),
		Status:    StatusSending,
	}
}

// NewAssistantMessage returns a delivered assistant reply.
func NewAssistantMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      RoleAssistant,
		Timestamp: time.Now().UTC(),
		Status:    StatusSent,
	}
}

// Transition moves m to next. Only sending->sent and sending->error are legal.
func (m *Message) Transition(next Status) error {
	if m.Status != StatusSending || (next != StatusSent && next != StatusError) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, next)
	}
	m.Status = next
	return nil
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// IsBlank reports whether a prompt has no content worth sending.
func IsBlank(prompt string) bool {
	return strings.TrimSpace(prompt) == ""
}
