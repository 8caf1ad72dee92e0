package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/xianwen/internal/cache"
	"github.com/ent0n29/xianwen/internal/reliability"
)

const (
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	DefaultTimeout     = 60 * time.Second
)

// Message is one role-tagged entry of the outbound message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a single generated reply.
type Completion struct {
	Content          string `json:"content"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// Completer produces completions for a message list.
type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
	CompleteMessages(ctx context.Context, messages []Message) (Completion, error)
}

// Observer receives client events. observability.Metrics satisfies it.
type Observer interface {
	ObserveCompletion(outcome string, d time.Duration)
	ObserveCacheLookup(hit bool)
	ObserveRetry(reason string)
}

// Config controls client construction. BaseURL and APIKey must come from
// the environment; there are no built-in defaults for either.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retry       reliability.RetryPolicy
	CacheTTL    time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint with a
// response cache and bounded retries.
type Client struct {
	cfg      Config
	http     *http.Client
	cache    *cache.TTLCache[Completion]
	sleep    func(ctx context.Context, d time.Duration) error
	observer Observer
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache shares a cache between clients.
func WithCache(rc *cache.TTLCache[Completion]) Option {
	return func(c *Client) { c.cache = rc }
}

// WithSleep overrides how backoff delays are waited out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = reliability.DefaultRetryPolicy()
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.New[Completion](cfg.CacheTTL)
	}
	c.logger = c.logger.With(slog.String("component", "completion"))
	return c
}

// Cache exposes the response cache so its owner can clear it.
func (c *Client) Cache() *cache.TTLCache[Completion] { return c.cache }

// Complete sends prompt as a single user message.
func (c *Client) Complete(ctx context.Context, prompt string) (Completion, error) {
	if strings.TrimSpace(prompt) == "" {
		return Completion{}, &ValidationError{Reason: "prompt is empty"}
	}
	return c.CompleteMessages(ctx, []Message{{Role: "user", Content: prompt}})
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// fingerprintPayload is the part of the request that identifies a response.
type fingerprintPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CompleteMessages sends the full message list.
func (c *Client) CompleteMessages(ctx context.Context, messages []Message) (Completion, error) {
	if c.cfg.APIKey == "" {
		return Completion{}, &ConfigurationError{Field: "api key"}
	}
	if c.cfg.BaseURL == "" {
		return Completion{}, &ConfigurationError{Field: "base url"}
	}
	if err := validateMessages(messages); err != nil {
		return Completion{}, err
	}

	key, err := cache.Fingerprint(fingerprintPayload{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return Completion{}, &ValidationError{Reason: err.Error()}
	}
	if hit, ok := c.cache.Get(key); ok {
		c.observeCache(true)
		return hit, nil
	}
	c.observeCache(false)

	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return Completion{}, &ValidationError{Reason: fmt.Sprintf("marshal request: %v", err)}
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		res := c.attempt(ctx, payload)
		decision := c.cfg.Retry.Decide(attempt, reliability.Outcome{Err: res.err, Status: res.status})

		switch decision.Action {
		case reliability.ActionDone:
			if res.decodeErr != nil {
				c.observeDone(KindRemote, start)
				return Completion{}, &RemoteError{Status: res.status, Message: res.decodeErr.Error()}
			}
			c.cache.Set(key, res.completion)
			c.observeDone("ok", start)
			return res.completion, nil

		case reliability.ActionRetry:
			reason := "transport"
			if res.err == nil {
				reason = fmt.Sprintf("status_%d", res.status)
			}
			c.logger.Warn("completion attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", decision.Delay),
				slog.String("reason", reason),
			)
			if c.observer != nil {
				c.observer.ObserveRetry(reason)
			}
			if err := c.sleep(ctx, decision.Delay); err != nil {
				c.observeDone(KindNetwork, start)
				return Completion{}, &NetworkError{Attempts: attempt, Err: err}
			}

		default:
			if res.err != nil {
				c.observeDone(KindNetwork, start)
				return Completion{}, &NetworkError{Attempts: attempt, Err: res.err}
			}
			c.observeDone(KindRemote, start)
			return Completion{}, &RemoteError{Status: res.status, Message: res.remoteMessage}
		}
	}
}

type attemptResult struct {
	completion    Completion
	status        int
	remoteMessage string
	err           error
	decodeErr     error
}

func (c *Client) attempt(ctx context.Context, payload []byte) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return attemptResult{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.http.Do(req)
	if err != nil {
		return attemptResult{err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return attemptResult{err: fmt.Errorf("read response: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return attemptResult{status: res.StatusCode, remoteMessage: remoteMessage(res.StatusCode, body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return attemptResult{status: res.StatusCode, decodeErr: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return attemptResult{status: res.StatusCode, decodeErr: errors.New("response has no choices")}
	}

	out := Completion{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
	}
	if parsed.Usage != nil {
		out.PromptTokens = parsed.Usage.PromptTokens
		out.CompletionTokens = parsed.Usage.CompletionTokens
	}
	return attemptResult{status: res.StatusCode, completion: out}
}

func remoteMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && strings.TrimSpace(eb.Error.Message) != "" {
		return eb.Error.Message
	}
	return fmt.Sprintf("HTTP error: %d", status)
}

func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return &ValidationError{Reason: "message list is empty"}
	}
	for i, m := range messages {
		if m.Role != "user" && m.Role != "assistant" && m.Role != "system" {
			return &ValidationError{Reason: fmt.Sprintf("message %d has unsupported role %q", i, m.Role)}
		}
	}
	last := messages[len(messages)-1]
	if strings.TrimSpace(last.Content) == "" {
		return &ValidationError{Reason: "prompt is empty"}
	}
	return nil
}

func (c *Client) observeCache(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(hit)
	}
}

func (c *Client) observeDone(outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveCompletion(outcome, time.Since(start))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
