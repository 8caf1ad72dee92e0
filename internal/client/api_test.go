package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPILoginThenChat(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":  map[string]string{"id": "u1", "email": "a@b.c"},
			"token": "tok-1",
		})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"reply":          "re: " + req["message"],
			"conversationId": req["conversationId"],
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	api := NewAPI(ts.URL+"/", "", nil)
	res, err := api.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "u1", res.User.ID)

	reply, err := ServerReplier{API: api, ConversationID: "c1"}.Reply(context.Background(), nil, "ping")
	require.NoError(t, err)
	assert.Equal(t, "re: ping", reply)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestAPIErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"HTTP error: 500","code":"remote"}`))
	}))
	defer ts.Close()

	_, err := NewAPI(ts.URL, "tok", nil).Chat(context.Background(), "default", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "remote", apiErr.Code)
	assert.Equal(t, "HTTP error: 500", apiErr.Message)
}

func TestAPIHistoryAndClear(t *testing.T) {
	var deleted string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"history":[{"id":"1","content":"hi","role":"user","status":"sent"}]}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			_, _ = w.Write([]byte(`{"message":"Chat history cleared"}`))
		}
	}))
	defer ts.Close()

	api := NewAPI(ts.URL, "tok", nil)
	hist, err := api.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "hi", hist[0].Content)

	require.NoError(t, api.Clear(context.Background(), "c1"))
	assert.Equal(t, "/api/chat/c1", deleted)
}
