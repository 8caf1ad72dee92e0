package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/xianwen/internal/auth"
	"github.com/ent0n29/xianwen/internal/chat"
	"github.com/ent0n29/xianwen/internal/completion"
	"github.com/ent0n29/xianwen/internal/history"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
}

type historyResponse struct {
	History []chat.Message `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if chat.IsBlank(req.Message) {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	id, _ := auth.FromContext(r.Context())

	reply, err := s.chats.Send(r.Context(), id.UserID, req.ConversationID, req.Message)
	if err != nil {
		status, code := completionStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{Reply: reply.Reply, ConversationID: reply.ConversationID})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	msgs := s.chats.History(id.UserID, conversationParam(r))
	if msgs == nil {
		msgs = []chat.Message{}
	}
	respondJSON(w, http.StatusOK, historyResponse{History: msgs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	s.chats.Clear(id.UserID, conversationParam(r))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared"})
}

func conversationParam(r *http.Request) string {
	v := strings.TrimSpace(chi.URLParam(r, "conversationId"))
	if v == "" {
		return history.DefaultConversationID
	}
	return v
}

// completionStatus maps a completion failure onto an HTTP status and error code.
func completionStatus(err error) (int, string) {
	kind := completion.Kind(err)
	switch kind {
	case completion.KindValidation:
		return http.StatusBadRequest, kind
	case completion.KindConfiguration:
		return http.StatusServiceUnavailable, kind
	case completion.KindRemote:
		return http.StatusBadGateway, kind
	case completion.KindNetwork:
		return http.StatusGatewayTimeout, kind
	default:
		return http.StatusInternalServerError, "internal"
	}
}
