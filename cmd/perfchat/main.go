package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/xianwen/internal/protocol"
)

type options struct {
	baseURL        string
	token          string
	conversationID string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Reply  string `json:"reply,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

var defaultPrompts = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:3000", "Xianwen base URL")
	flag.StringVar(&cfg.token, "token", os.Getenv("XIANWEN_TOKEN"), "bearer token; a throwaway user is registered when empty")
	flag.StringVar(&cfg.conversationID, "conversation-id", "perf-replay", "conversation used for the replay")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 90000, "timeout waiting for chat_reply per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "prompts separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	texts, err := splitPrompts(textsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.texts = texts
	return cfg, nil
}

func splitPrompts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultPrompts...), nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty prompts")
	}
	return out, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	token := strings.TrimSpace(cfg.token)
	if token == "" {
		var err error
		token, err = registerThrowaway(ctx, httpClient, cfg.baseURL)
		if err != nil {
			return fmt.Errorf("register perf user: %w", err)
		}
	}

	wsURL, err := chatWSURL(cfg.baseURL, token)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Printf("perfchat: conversation=%s turns=%d\n", cfg.conversationID, cfg.turns)
	}

	replyCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, replyCh, readErrCh)

	samples := make([]time.Duration, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		prompt := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if err := conn.WriteJSON(protocol.ChatMessage{
			Type:           protocol.TypeChatMessage,
			ConversationID: cfg.conversationID,
			Message:        prompt,
		}); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		env, err := awaitReply(replyCh, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await chat_reply: %w", i+1, err)
		}
		elapsed := time.Since(start)
		if env.Type == string(protocol.TypeErrorEvent) {
			fmt.Fprintf(os.Stderr, "perfchat: turn %d error_event code=%s detail=%s\n", i+1, env.Code, env.Detail)
		} else {
			samples = append(samples, elapsed)
		}
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d/%d %s %q\n", i+1, cfg.turns, elapsed.Round(time.Millisecond), prompt)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	_ = conn.WriteJSON(protocol.ChatClear{Type: protocol.TypeChatClear, ConversationID: cfg.conversationID})

	fmt.Printf("perfchat: ok=%d p50=%s p95=%s max=%s\n",
		len(samples), percentile(samples, 50), percentile(samples, 95), percentile(samples, 100))
	return nil
}

func registerThrowaway(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	body, err := json.Marshal(credentials{
		Email:    "perf-" + uuid.NewString()[:8] + "@xianwen.local",
		Password: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/auth/register", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("status=%d body=%s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out authResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("register response has no token")
	}
	return out.Token, nil
}

func chatWSURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/chat/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, replyCh chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeChatReply), string(protocol.TypeErrorEvent):
			replyCh <- env
		}
	}
}

func awaitReply(replyCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-replyCh:
		return env, nil
	case err := <-readErrCh:
		return wsEnvelope{}, err
	case <-timer.C:
		return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
	}
}

// percentile uses nearest-rank on a sorted copy; p=100 is the maximum.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1].Round(time.Millisecond)
}
