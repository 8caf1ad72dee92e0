package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/ent0n29/xianwen/internal/chat"
	"github.com/ent0n29/xianwen/internal/completion"
	"github.com/ent0n29/xianwen/internal/history"
	"github.com/ent0n29/xianwen/internal/observability"
	"github.com/ent0n29/xianwen/internal/policy"
)

// Reply is the assistant answer for one chat turn.
type Reply struct {
	ConversationID string       `json:"conversationId"`
	Reply          string       `json:"reply"`
	Message        chat.Message `json:"-"`
}

// Service runs chat turns against the completion backend and records them
// in the in-memory conversation store.
type Service struct {
	history   *history.Manager
	completer completion.Completer
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewService(store *history.Manager, completer completion.Completer, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		history:   store,
		completer: completer,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "conversation")),
	}
}

// Send asks for a reply to message using the conversation so far as context.
// The store only changes when the completion succeeds, so a failed turn never
// leaves an unanswered user message behind.
func (s *Service) Send(ctx context.Context, userID, conversationID, message string) (Reply, error) {
	if chat.IsBlank(message) {
		return Reply{}, &completion.ValidationError{Reason: "message is empty"}
	}
	start := time.Now()
	key := history.NewKey(userID, conversationID)

	prior := s.history.Get(key)
	outbound := make([]completion.Message, 0, len(prior)+1)
	for _, m := range prior {
		outbound = append(outbound, completion.Message{Role: string(m.Role), Content: m.Content})
	}
	outbound = append(outbound, completion.Message{Role: string(chat.RoleUser), Content: message})

	res, err := s.completer.CompleteMessages(ctx, outbound)
	if err != nil {
		s.logger.Warn("chat turn failed",
			slog.String("user_id", userID),
			slog.String("conversation_id", key.ConversationID),
			slog.String("kind", completion.Kind(err)),
			slog.String("prompt", policy.PromptPreview(message, 80)),
			slog.Any("error", err),
		)
		return Reply{}, err
	}

	user := chat.NewUserMessage(message)
	user.Status = chat.StatusSent
	assistant := chat.NewAssistantMessage(res.Content)
	s.history.AppendTurn(key, user, assistant)

	if s.metrics != nil {
		s.metrics.LiveConversations.Set(float64(s.history.Len()))
		s.metrics.ObserveChatTurn(time.Since(start))
	}
	s.logger.Debug("chat turn complete",
		slog.String("user_id", userID),
		slog.String("conversation_id", key.ConversationID),
		slog.Int("history_len", len(prior)+2),
	)

	return Reply{ConversationID: key.ConversationID, Reply: res.Content, Message: assistant}, nil
}

func (s *Service) History(userID, conversationID string) []chat.Message {
	return s.history.Get(history.NewKey(userID, conversationID))
}

func (s *Service) Clear(userID, conversationID string) {
	s.history.Clear(history.NewKey(userID, conversationID))
	s.syncGauge()
}

// ClearUser drops all conversations of userID, e.g. on logout.
func (s *Service) ClearUser(userID string) int {
	n := s.history.ClearUser(userID)
	s.syncGauge()
	return n
}

func (s *Service) syncGauge() {
	if s.metrics != nil {
		s.metrics.LiveConversations.Set(float64(s.history.Len()))
	}
}
