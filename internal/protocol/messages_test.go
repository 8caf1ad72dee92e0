package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageChat(t *testing.T) {
	raw := []byte(`{"type":"chat_message","conversation_id":"c1","message":"hello"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	chat, ok := msg.(ChatMessage)
	if !ok {
		t.Fatalf("message type = %T, want ChatMessage", msg)
	}
	if chat.ConversationID != "c1" || chat.Message != "hello" {
		t.Fatalf("unexpected chat message: %+v", chat)
	}
}

func TestParseClientMessageRejectsBlankChat(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"chat_message","message":"   "}`)); err == nil {
		t.Fatalf("ParseClientMessage() expected error for blank message")
	}
}

func TestParseClientMessageClear(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"chat_clear","conversation_id":"c9"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	cl, ok := msg.(ChatClear)
	if !ok || cl.ConversationID != "c9" {
		t.Fatalf("unexpected clear message: %#v", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("ParseClientMessage() expected error")
	}
}

func TestTypeOf(t *testing.T) {
	typ, ok := TypeOf(ChatReply{Type: TypeChatReply})
	if !ok || typ != TypeChatReply {
		t.Fatalf("TypeOf() = %q, %v", typ, ok)
	}
	if _, ok := TypeOf(struct{}{}); ok {
		t.Fatalf("TypeOf() recognized unknown payload")
	}
}
