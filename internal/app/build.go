package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/xianwen/internal/auth"
	"github.com/ent0n29/xianwen/internal/cache"
	"github.com/ent0n29/xianwen/internal/completion"
	"github.com/ent0n29/xianwen/internal/config"
	"github.com/ent0n29/xianwen/internal/conversation"
	"github.com/ent0n29/xianwen/internal/history"
	"github.com/ent0n29/xianwen/internal/httpapi"
	"github.com/ent0n29/xianwen/internal/observability"
	"github.com/ent0n29/xianwen/internal/reliability"
	"github.com/ent0n29/xianwen/internal/users"
)

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Conversations *conversation.Service
	Metrics       *observability.Metrics
	// Cache is nil when completions come from the mock backend.
	Cache *cache.TTLCache[completion.Completion]

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	userStore, err := users.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("user store init failed: %w", err)
	}

	authSvc, err := auth.NewService(userStore, auth.Config{
		Secret:   cfg.JWTSecret,
		TokenTTL: cfg.JWTTTL,
	})
	if err != nil {
		_ = userStore.Close()
		return nil, fmt.Errorf("auth init failed: %w", err)
	}

	completer, responses := newCompleter(cfg, metrics, logger)

	store := history.NewManager(cfg.HistoryMaxTurns)
	chats := conversation.NewService(store, completer, metrics, logger)
	api := httpapi.New(cfg, authSvc, chats, metrics, logger)

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Conversations: chats,
		Metrics:       metrics,
		Cache:         responses,
		Cleanup:       userStore.Close,
	}, nil
}

func newCompleter(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (completion.Completer, *cache.TTLCache[completion.Completion]) {
	if cfg.CompletionMode == "mock" {
		logger.Info("completion backend: mock")
		return completion.NewMockCompleter(), nil
	}

	responses := cache.New[completion.Completion](cfg.CompletionCacheTTL)
	client := completion.New(completion.Config{
		BaseURL:     cfg.CompletionBaseURL,
		APIKey:      cfg.CompletionAPIKey,
		Model:       cfg.CompletionModel,
		Temperature: cfg.CompletionTemperature,
		MaxTokens:   cfg.CompletionMaxTokens,
		Timeout:     cfg.CompletionTimeout,
		CacheTTL:    cfg.CompletionCacheTTL,
		Retry: reliability.RetryPolicy{
			MaxAttempts: cfg.CompletionMaxAttempts,
			BaseDelay:   cfg.CompletionRetryBaseDelay,
			MaxDelay:    reliability.DefaultRetryPolicy().MaxDelay,
		},
	},
		completion.WithCache(responses),
		completion.WithObserver(metrics),
		completion.WithLogger(logger),
	)
	if cfg.CompletionBaseURL == "" || cfg.CompletionAPIKey == "" {
		// Requests still reach the client so callers see a configuration error.
		logger.Warn("completion backend is not fully configured",
			slog.Bool("base_url_set", cfg.CompletionBaseURL != ""),
			slog.Bool("api_key_set", cfg.CompletionAPIKey != ""),
		)
	}
	logger.Info("completion backend: http", slog.String("model", cfg.CompletionModel))
	return client, responses
}
