package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage MessageType = "chat_message"
	TypeChatClear   MessageType = "chat_clear"
	TypeChatReply   MessageType = "chat_reply"
	TypeChatCleared MessageType = "chat_cleared"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage asks for a reply within a conversation.
type ChatMessage struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Message        string      `json:"message"`
}

// ChatClear drops a conversation.
type ChatClear struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
}

type ChatReply struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	Reply          string      `json:"reply"`
}

type ChatCleared struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
}

type ErrorEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Code           string      `json:"code"`
	Retryable      bool        `json:"retryable"`
	Detail         string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid chat_message: message is empty")
		}
		return msg, nil
	case TypeChatClear:
		var msg ChatClear
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of a known payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ChatMessage:
		return m.Type, true
	case ChatClear:
		return m.Type, true
	case ChatReply:
		return m.Type, true
	case ChatCleared:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
