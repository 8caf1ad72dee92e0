package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/xianwen/internal/auth"
	"github.com/ent0n29/xianwen/internal/completion"
	"github.com/ent0n29/xianwen/internal/history"
	"github.com/ent0n29/xianwen/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
)

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.logger.Debug("ws connected", slog.String("user_id", id.UserID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runChatConnection(ctx, id.UserID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.observeWS("outbound", msg)
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case outbound <- protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}:
			default:
				// Writer is saturated; drop rather than block the reader.
			}
			continue
		}
		s.observeWS("inbound", parsed)
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.logger.Debug("ws disconnected", slog.String("user_id", id.UserID))
}

// runChatConnection handles one client message at a time so replies keep the
// order in which prompts arrived.
func (s *Server) runChatConnection(ctx context.Context, userID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		var out any
		switch m := msg.(type) {
		case protocol.ChatMessage:
			out = s.wsChat(ctx, userID, m)
		case protocol.ChatClear:
			convID := history.NewKey(userID, m.ConversationID).ConversationID
			s.chats.Clear(userID, convID)
			out = protocol.ChatCleared{Type: protocol.TypeChatCleared, ConversationID: convID}
		default:
			continue
		}
		select {
		case <-ctx.Done():
			return
		case outbound <- out:
		}
	}
}

func (s *Server) wsChat(ctx context.Context, userID string, m protocol.ChatMessage) any {
	if !s.limiter.Allow(userID) {
		return protocol.ErrorEvent{
			Type:           protocol.TypeErrorEvent,
			ConversationID: m.ConversationID,
			Code:           "rate_limited",
			Retryable:      true,
			Detail:         "too many chat requests",
		}
	}
	reply, err := s.chats.Send(ctx, userID, m.ConversationID, m.Message)
	if err != nil {
		kind := completion.Kind(err)
		return protocol.ErrorEvent{
			Type:           protocol.TypeErrorEvent,
			ConversationID: m.ConversationID,
			Code:           kind,
			Retryable:      kind == completion.KindNetwork || kind == completion.KindRemote,
			Detail:         err.Error(),
		}
	}
	return protocol.ChatReply{
		Type:           protocol.TypeChatReply,
		ConversationID: reply.ConversationID,
		MessageID:      reply.Message.ID,
		Reply:          reply.Reply,
	}
}

func (s *Server) observeWS(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := protocol.TypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}
