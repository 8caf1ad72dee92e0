package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ent0n29/xianwen/internal/chat"
	"github.com/ent0n29/xianwen/internal/completion"
	"github.com/ent0n29/xianwen/internal/history"
)

// Replier produces the assistant answer for prompt given the prior turns.
type Replier interface {
	Reply(ctx context.Context, prior []chat.Message, prompt string) (string, error)
}

// Persister keeps the local message list across runs.
type Persister interface {
	Load(ctx context.Context) ([]chat.Message, error)
	Save(ctx context.Context, msgs []chat.Message) error
}

// DirectReplier calls the completion endpoint itself, sending prior turns as context.
type DirectReplier struct {
	Completer completion.Completer
}

func (d DirectReplier) Reply(ctx context.Context, prior []chat.Message, prompt string) (string, error) {
	msgs := make([]completion.Message, 0, len(prior)+1)
	for _, m := range prior {
		msgs = append(msgs, completion.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, completion.Message{Role: string(chat.RoleUser), Content: prompt})
	res, err := d.Completer.CompleteMessages(ctx, msgs)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// ServerReplier goes through the backend, which keeps its own context.
type ServerReplier struct {
	API            *API
	ConversationID string
}

func (s ServerReplier) Reply(ctx context.Context, _ []chat.Message, prompt string) (string, error) {
	return s.API.Chat(ctx, s.ConversationID, prompt)
}

// localKey scopes the single local conversation inside the history manager.
var localKey = history.NewKey("local", history.DefaultConversationID)

// Session drives outgoing messages through composed -> sending -> sent|error
// and keeps the local history persisted after every change.
type Session struct {
	history *history.Manager
	replier Replier
	store   Persister
	logger  *slog.Logger

	// persistMu orders snapshot+save pairs so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex
}

// NewSession loads the persisted history into a manager capped at maxTurns.
func NewSession(ctx context.Context, store Persister, replier Replier, maxTurns int, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		history: history.NewManager(maxTurns),
		replier: replier,
		store:   store,
		logger:  logger.With(slog.String("component", "client")),
	}
	msgs, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load local history: %w", err)
	}
	s.history.Replace(localKey, msgs)
	return s, nil
}

func (s *Session) Messages() []chat.Message {
	return s.history.Get(localKey)
}

// Submit sends prompt and returns the assistant reply. A failed call leaves
// the user message in the error state; it is never retried automatically.
func (s *Session) Submit(ctx context.Context, prompt string) (chat.Message, error) {
	if chat.IsBlank(prompt) {
		return chat.Message{}, &completion.ValidationError{Reason: "prompt is empty"}
	}

	prior := delivered(s.history.Get(localKey))
	user := chat.NewUserMessage(prompt)
	s.history.Append(localKey, user)
	if err := s.persist(ctx); err != nil {
		if terr := user.Transition(chat.StatusError); terr == nil {
			s.history.Update(localKey, user)
		}
		return chat.Message{}, err
	}

	reply, err := s.replier.Reply(ctx, prior, prompt)
	if err != nil {
		if terr := user.Transition(chat.StatusError); terr == nil {
			s.history.Update(localKey, user)
		}
		s.logger.Debug("submit failed", slog.String("message_id", user.ID), slog.Any("error", err))
		if perr := s.persist(context.WithoutCancel(ctx)); perr != nil {
			s.logger.Warn("persist after failure", slog.Any("error", perr))
		}
		return chat.Message{}, err
	}

	if err := user.Transition(chat.StatusSent); err != nil {
		return chat.Message{}, err
	}
	s.history.Update(localKey, user)
	assistant := chat.NewAssistantMessage(reply)
	s.history.Append(localKey, assistant)
	s.history.Trim(localKey)
	if err := s.persist(ctx); err != nil {
		return assistant, err
	}
	return assistant, nil
}

func (s *Session) Clear(ctx context.Context) error {
	s.history.Clear(localKey)
	return s.persist(ctx)
}

func (s *Session) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.store.Save(ctx, s.history.Get(localKey)); err != nil {
		return fmt.Errorf("persist local history: %w", err)
	}
	return nil
}

// delivered drops failed and in-flight prompts so the context sent upstream
// only holds answered turns.
func delivered(msgs []chat.Message) []chat.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Status == chat.StatusSent {
			out = append(out, m)
		}
	}
	return out
}
