package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ovokpus/regcopilot/internal/chat"
	"github.com/ovokpus/regcopilot/internal/config"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/kb"
	"github.com/ovokpus/regcopilot/internal/session"
	"github.com/ovokpus/regcopilot/internal/store"
	"github.com/ovokpus/regcopilot/internal/telemetry"
)

// KnowledgeBase is what the handlers need from the shared knowledge base.
// *kb.KnowledgeBase satisfies it.
type KnowledgeBase interface {
	// Bind materializes vectors for the given API key.
	Bind(ctx context.Context, apiKey string) error

	// Search returns the top-k chunks for a query.
	Search(ctx context.Context, query string, k int) ([]store.SearchResult, error)

	// AddDocument ingests one uploaded file.
	AddDocument(ctx context.Context, path, filename, mimeType string) (*kb.AddResult, error)

	// RemoveDocument deletes a user-uploaded document.
	RemoveDocument(filename string) (int, error)

	// Info returns the status payload.
	Info() kb.Info
}

// ChatFactory builds a chat client bound to an API key and model. Chat
// clients are per-request because every caller brings their own key.
type ChatFactory func(apiKey, model string) chat.Client

// NewChatFactory returns a factory whose clients share one pooled
// transport and one circuit breaker, so upstream health is tracked
// across requests instead of per key.
func NewChatFactory(cfg *config.Config) ChatFactory {
	shared := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          32,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: cfg.RequestTimeoutDuration(),
		},
	}
	breaker := rcerrors.NewCircuitBreaker("openai-chat")

	return func(apiKey, model string) chat.Client {
		return chat.NewOpenAIClientWithOptions(chat.Options{
			APIKey:         apiKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          model,
			MaxRetries:     cfg.OpenAI.MaxRetries,
			RequestTimeout: cfg.RequestTimeoutDuration(),
			HTTPClient:     shared,
			Breaker:        breaker,
		})
	}
}

// Handlers carries the shared state behind the HTTP endpoints.
type Handlers struct {
	cfg         *config.Config
	kb          KnowledgeBase
	sessions    *session.Registry
	metrics     *telemetry.Metrics
	chatClients ChatFactory
	logger      *slog.Logger

	maxUploadBytes int64
}

// NewHandlers wires the endpoint handlers. cfg, knowledgeBase, sessions,
// and chatClients are required; metrics and logger default when nil.
func NewHandlers(cfg *config.Config, knowledgeBase KnowledgeBase, sessions *session.Registry,
	metrics *telemetry.Metrics, chatClients ChatFactory, logger *slog.Logger) (*Handlers, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if knowledgeBase == nil {
		return nil, fmt.Errorf("knowledge base is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if chatClients == nil {
		return nil, fmt.Errorf("chat factory is required")
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Handlers{
		cfg:            cfg,
		kb:             knowledgeBase,
		sessions:       sessions,
		metrics:        metrics,
		chatClients:    chatClients,
		logger:         logger,
		maxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}, nil
}

// resolveAPIKey picks the request key, falling back to the server-side
// OPENAI_API_KEY when the request carries none.
func (h *Handlers) resolveAPIKey(requestKey string) (string, error) {
	if requestKey != "" {
		return requestKey, nil
	}
	if h.cfg.OpenAI.APIKey != "" {
		return h.cfg.OpenAI.APIKey, nil
	}
	return "", rcerrors.New(rcerrors.ErrCodeMissingAPIKey, "an API key is required", nil).
		WithSuggestion("Pass api_key in the request or set OPENAI_API_KEY on the server")
}

// resolveModel picks the request model, falling back to the configured
// chat model.
func (h *Handlers) resolveModel(requestModel string) string {
	if requestModel != "" {
		return requestModel
	}
	return h.cfg.OpenAI.ChatModel
}
