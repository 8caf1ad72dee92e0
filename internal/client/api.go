package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/xianwen/internal/chat"
	"github.com/ent0n29/xianwen/internal/users"
)

// APIError is a non-2xx answer from the chat backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// AuthResult is what register and login return.
type AuthResult struct {
	User  users.User `json:"user"`
	Token string     `json:"token"`
}

// API talks to the xianwen HTTP backend.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPI(baseURL, token string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 90 * time.Second}
	}
	return &API{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    hc,
	}
}

func (a *API) SetToken(token string) { a.token = strings.TrimSpace(token) }

func (a *API) Register(ctx context.Context, email, password string) (AuthResult, error) {
	return a.authenticate(ctx, "/api/auth/register", email, password)
}

func (a *API) Login(ctx context.Context, email, password string) (AuthResult, error) {
	return a.authenticate(ctx, "/api/auth/login", email, password)
}

func (a *API) authenticate(ctx context.Context, path, email, password string) (AuthResult, error) {
	var out AuthResult
	body := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return AuthResult{}, err
	}
	a.token = out.Token
	return out, nil
}

func (a *API) Logout(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Chat sends one message; the server supplies the conversation context.
func (a *API) Chat(ctx context.Context, conversationID, message string) (string, error) {
	var out struct {
		Reply          string `json:"reply"`
		ConversationID string `json:"conversationId"`
	}
	body := map[string]string{"message": message, "conversationId": conversationID}
	if err := a.do(ctx, http.MethodPost, "/api/chat", body, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (a *API) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var out struct {
		History []chat.Message `json:"history"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (a *API) Clear(ctx context.Context, conversationID string) error {
	return a.do(ctx, http.MethodDelete, "/api/chat/"+url.PathEscape(conversationID), nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	res, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.Code = eb.Code
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
