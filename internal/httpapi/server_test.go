package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/ent0n29/xianwen/internal/auth"
	"github.com/ent0n29/xianwen/internal/completion"
	"github.com/ent0n29/xianwen/internal/config"
	"github.com/ent0n29/xianwen/internal/conversation"
	"github.com/ent0n29/xianwen/internal/history"
	"github.com/ent0n29/xianwen/internal/observability"
	"github.com/ent0n29/xianwen/internal/protocol"
	"github.com/ent0n29/xianwen/internal/users"
)

type failingCompleter struct{ err error }

func (f failingCompleter) Complete(ctx context.Context, prompt string) (completion.Completion, error) {
	return completion.Completion{}, f.err
}

func (f failingCompleter) CompleteMessages(context.Context, []completion.Message) (completion.Completion, error) {
	return completion.Completion{}, f.err
}

func newTestServer(t *testing.T, completer completion.Completer, ratePerMinute int) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		AllowAnyOrigin:    true,
		CompletionMode:    "mock",
		ChatRatePerMinute: ratePerMinute,
	}
	authSvc, err := auth.NewService(users.NewInMemoryStore(), auth.Config{
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	metrics := observability.NewMetrics("test_httpapi_" + strings.ReplaceAll(t.Name(), "/", "_"))
	chats := conversation.NewService(history.NewManager(history.DefaultMaxTurns), completer, metrics, nil)
	srv := New(cfg, authSvc, chats, metrics, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func registerUser(t *testing.T, baseURL, email string) string {
	t.Helper()
	res, body := doJSON(t, http.MethodPost, baseURL+"/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter22",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want %d (%v)", res.StatusCode, http.StatusCreated, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("missing token in register response: %+v", body)
	}
	return token
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)

	res, body := doJSON(t, http.MethodGet, ts.URL+"/", "", nil)
	if res.StatusCode != http.StatusOK || body["message"] != "XianwenAI API is running" {
		t.Fatalf("GET / = %d %v", res.StatusCode, body)
	}
	res, body = doJSON(t, http.MethodGet, ts.URL+"/readyz", "", nil)
	if res.StatusCode != http.StatusOK || body["user_store_mode"] != "in-memory" {
		t.Fatalf("GET /readyz = %d %v", res.StatusCode, body)
	}
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)
	registerUser(t, ts.URL, "Ada@Example.com")

	res, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]string{
		"email":    "ada@example.com",
		"password": "other",
	})
	if res.StatusCode != http.StatusBadRequest || body["code"] != "email_taken" {
		t.Fatalf("duplicate register = %d %v", res.StatusCode, body)
	}

	res, body = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "hunter22",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want %d (%v)", res.StatusCode, http.StatusOK, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["email"] != "ada@example.com" {
		t.Fatalf("login user = %v", user)
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Fatalf("password hash leaked: %v", user)
	}

	res, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	res, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{"email": "ada@example.com"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestProtectedRoutesRejectMissingAndInvalidTokens(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)

	res, body := doJSON(t, http.MethodPost, ts.URL+"/api/chat", "", map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusUnauthorized || body["code"] != "unauthorized" {
		t.Fatalf("missing token = %d %v", res.StatusCode, body)
	}
	res, body = doJSON(t, http.MethodGet, ts.URL+"/api/chat/default", "not-a-jwt", nil)
	if res.StatusCode != http.StatusForbidden || body["code"] != "forbidden" {
		t.Fatalf("invalid token = %d %v", res.StatusCode, body)
	}
}

func TestChatHistoryAndClear(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)
	token := registerUser(t, ts.URL, "bob@example.com")

	res, body := doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{
		"message":        "hello",
		"conversationId": "c1",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d (%v)", res.StatusCode, body)
	}
	if body["reply"] != "I heard you: hello" || body["conversationId"] != "c1" {
		t.Fatalf("chat body = %v", body)
	}

	res, body = doJSON(t, http.MethodGet, ts.URL+"/api/chat/c1", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", res.StatusCode)
	}
	hist, _ := body["history"].([]any)
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2 (%v)", len(hist), body)
	}
	first, _ := hist[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "hello" || first["status"] != "sent" {
		t.Fatalf("first entry = %v", first)
	}

	res, body = doJSON(t, http.MethodDelete, ts.URL+"/api/chat/c1", token, nil)
	if res.StatusCode != http.StatusOK || body["message"] != "Chat history cleared" {
		t.Fatalf("clear = %d %v", res.StatusCode, body)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/chat/c1", token, nil)
	if hist, _ := body["history"].([]any); len(hist) != 0 {
		t.Fatalf("history after clear = %v", hist)
	}
}

func TestChatDefaultsConversationAndRejectsBlank(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)
	token := registerUser(t, ts.URL, "eve@example.com")

	res, body := doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{"message": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank message status = %d (%v)", res.StatusCode, body)
	}
	_, body = doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{"message": "hey"})
	if body["conversationId"] != history.DefaultConversationID {
		t.Fatalf("conversationId = %v, want %q", body["conversationId"], history.DefaultConversationID)
	}
}

func TestLogoutClearsConversations(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)
	token := registerUser(t, ts.URL, "carol@example.com")

	doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{"message": "one", "conversationId": "a"})
	doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{"message": "two", "conversationId": "b"})

	res, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/logout", token, nil)
	if res.StatusCode != http.StatusOK || body["conversations_cleared"] != float64(2) {
		t.Fatalf("logout = %d %v", res.StatusCode, body)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/chat/a", token, nil)
	if hist, _ := body["history"].([]any); len(hist) != 0 {
		t.Fatalf("history after logout = %v", hist)
	}
}

func TestChatErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "configuration", err: &completion.ConfigurationError{Field: "APIKey"}, want: http.StatusServiceUnavailable},
		{name: "remote", err: &completion.RemoteError{Status: 401, Message: "bad key"}, want: http.StatusBadGateway},
		{name: "network", err: &completion.NetworkError{Attempts: 3, Err: context.DeadlineExceeded}, want: http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, failingCompleter{err: tc.err}, 0)
			token := registerUser(t, ts.URL, tc.name+"@example.com")

			res, body := doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{"message": "hi"})
			if res.StatusCode != tc.want || body["code"] != tc.name {
				t.Fatalf("status = %d code = %v, want %d %q", res.StatusCode, body["code"], tc.want, tc.name)
			}
			_, body = doJSON(t, http.MethodGet, ts.URL+"/api/chat/default", token, nil)
			if hist, _ := body["history"].([]any); len(hist) != 0 {
				t.Fatalf("failed turn was stored: %v", hist)
			}
		})
	}
}

func TestChatRateLimit(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 1)
	token := registerUser(t, ts.URL, "rate@example.com")

	res, _ := doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{"message": "one"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first chat status = %d", res.StatusCode)
	}
	res, body := doJSON(t, http.MethodPost, ts.URL+"/api/chat", token, map[string]string{"message": "two"})
	if res.StatusCode != http.StatusTooManyRequests || body["code"] != "rate_limited" {
		t.Fatalf("second chat = %d %v", res.StatusCode, body)
	}
}

func TestChatWebSocketRoundTrip(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)
	token := registerUser(t, ts.URL, "ws@example.com")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, ConversationID: "w", Message: "ping"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var reply protocol.ChatReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if reply.Type != protocol.TypeChatReply || reply.Reply != "I heard you: ping" || reply.MessageID == "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if errEvent.Code != "invalid_client_message" {
		t.Fatalf("error code = %q", errEvent.Code)
	}

	if err := conn.WriteJSON(protocol.ChatClear{Type: protocol.TypeChatClear, ConversationID: "w"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var cleared protocol.ChatCleared
	if err := conn.ReadJSON(&cleared); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if cleared.Type != protocol.TypeChatCleared || cleared.ConversationID != "w" {
		t.Fatalf("unexpected cleared: %+v", cleared)
	}
}

func TestChatWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t, completion.NewMockCompleter(), 0)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("Dial() succeeded without token")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", res)
	}
}

func TestPerfLatencyShapeWithoutMetrics(t *testing.T) {
	decode := func(s *Server) map[string]any {
		t.Helper()
		rec := httptest.NewRecorder()
		s.handlePerfLatency(rec, httptest.NewRequest(http.MethodGet, "/api/perf/latency", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var out map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	empty := decode(&Server{})
	withMetrics := decode(&Server{metrics: observability.NewMetrics("test_httpapi_perf_shape")})
	for key := range withMetrics {
		if _, ok := empty[key]; !ok {
			t.Fatalf("empty snapshot missing %q: %v", key, empty)
		}
	}
	if stages, ok := empty["stages"].([]any); !ok || len(stages) != 0 {
		t.Fatalf("stages = %#v, want empty list", empty["stages"])
	}
	if _, err := time.Parse(time.RFC3339Nano, empty["generated_at"].(string)); err != nil {
		t.Fatalf("generated_at = %v: %v", empty["generated_at"], err)
	}
}
