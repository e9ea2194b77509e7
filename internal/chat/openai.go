package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/httpx"
)

const (
	// DefaultModel answers questions unless configured otherwise.
	DefaultModel = "gpt-4o-mini"

	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultRequestTimeout bounds a single non-streaming completion.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry count after the initial attempt.
	DefaultMaxRetries = 2

	// initialBackoff seeds the exponential retry delay.
	initialBackoff = 500 * time.Millisecond

	// maxRetryAfter caps server-directed Retry-After waits.
	maxRetryAfter = 30 * time.Second

	// maxStreamLine caps one SSE line.
	maxStreamLine = 1 << 20
)

// Options configures the OpenAI chat client. Zero values take defaults.
type Options struct {
	// APIKey is the bearer token for the OpenAI API.
	APIKey string

	// BaseURL overrides the API root, e.g. for a proxy or test server.
	BaseURL string

	// Model is the chat model name.
	Model string

	// MaxRetries is the retry count after the initial attempt.
	MaxRetries int

	// RequestTimeout bounds a single non-streaming request. Streams run
	// until the upstream closes or the caller's context cancels.
	RequestTimeout time.Duration

	// HTTPClient overrides the default pooled client.
	HTTPClient *http.Client

	// Breaker overrides the default circuit breaker.
	Breaker *rcerrors.CircuitBreaker
}

// OpenAIClient generates completions through the OpenAI chat API.
type OpenAIClient struct {
	client *http.Client
	opts   Options
	// ownsClient is false when the caller supplied a shared HTTP client;
	// Close must not drain a pool it does not own.
	ownsClient bool
	breaker    *rcerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a chat client with default settings.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithOptions(Options{APIKey: apiKey})
}

// NewOpenAIClientWithOptions creates a chat client with explicit settings.
func NewOpenAIClientWithOptions(opts Options) *OpenAIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	client := opts.HTTPClient
	ownsClient := client == nil
	if client == nil {
		// No client-level timeout: it would cut long streams short. The
		// non-streaming path carries a per-request deadline instead, and
		// the header timeout keeps a dead upstream from hanging stream
		// setup forever.
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          16,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: opts.RequestTimeout,
			},
		}
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = rcerrors.NewCircuitBreaker("openai-chat")
	}

	return &OpenAIClient{client: client, opts: opts, ownsClient: ownsClient, breaker: breaker}
}

// Complete returns the whole answer for a conversation, retrying transient
// upstream failures.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.isClosed() {
		return "", fmt.Errorf("chat client is closed")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to complete")
	}

	var text string
	err := c.withRetry(ctx, "chat request", func(ctx context.Context) (bool, error) {
		out, err := c.doComplete(ctx, messages)
		if err != nil {
			return false, err
		}
		text = out
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Stream relays answer deltas to onDelta as they arrive. Setup failures
// retry like Complete; once a delta has reached the caller the stream is
// not retried.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, onDelta func(string) error) error {
	if c.isClosed() {
		return fmt.Errorf("chat client is closed")
	}
	if len(messages) == 0 {
		return fmt.Errorf("no messages to complete")
	}

	return c.withRetry(ctx, "chat stream", func(ctx context.Context) (bool, error) {
		return c.doStream(ctx, messages, onDelta)
	})
}

// withRetry runs call with exponential backoff on transient failures. call
// reports whether output already reached the caller; delivered output stops
// further attempts. The circuit breaker counts retryable failures only; a
// bad API key must not suspend the service.
func (c *OpenAIClient) withRetry(ctx context.Context, kind string, call func(context.Context) (bool, error)) error {
	backoff := initialBackoff
	attempts := 0
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			var se *httpx.StatusError
			if errors.As(lastErr, &se) && se.RetryAfter > 0 {
				wait = se.RetryAfter
			}
			if err := httpx.SleepWithContext(ctx, httpx.Jitter(wait)); err != nil {
				return err
			}
			backoff *= 2
		}

		if !c.breaker.Allow() {
			return rcerrors.ChatError(
				"chat service suspended after repeated failures", rcerrors.ErrCircuitOpen)
		}

		attempts++
		delivered, err := call(ctx)
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if delivered || !httpx.IsRetryableError(err) || ctx.Err() != nil {
			break
		}
		c.breaker.RecordFailure()
		slog.Debug("retrying chat call",
			slog.String("kind", kind),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	return rcerrors.ChatError(
		fmt.Sprintf("%s failed after %d attempts", kind, attempts), lastErr)
}

// doComplete performs a single non-streaming completion.
func (c *OpenAIClient) doComplete(ctx context.Context, messages []Message) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	resp, err := c.post(reqCtx, chatRequest{Model: c.opts.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer httpx.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return "", httpx.NewStatusError(resp, maxRetryAfter)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// doStream issues one streaming completion and relays the SSE deltas.
// delivered reports whether any delta reached onDelta.
func (c *OpenAIClient) doStream(ctx context.Context, messages []Message, onDelta func(string) error) (delivered bool, err error) {
	resp, err := c.post(ctx, chatRequest{Model: c.opts.Model, Messages: messages, Stream: true})
	if err != nil {
		return false, err
	}
	// Close without draining: an aborted stream must not be read to EOF.
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, httpx.NewStatusError(resp, maxRetryAfter)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return delivered, nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return delivered, fmt.Errorf("decode stream event: %w", err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		delivered = true
		if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
			return delivered, fmt.Errorf("relay delta: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return delivered, fmt.Errorf("read stream: %w", err)
	}
	// Upstream closed without [DONE]; everything it sent was relayed.
	return delivered, nil
}

// post issues one completions request. The caller owns the response body.
func (c *OpenAIClient) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	return c.client.Do(req)
}

// ModelName returns the model identifier.
func (c *OpenAIClient) ModelName() string {
	return c.opts.Model
}

// Close releases idle connections. In-flight requests finish or cancel
// through their own contexts.
func (c *OpenAIClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ownsClient {
		c.client.CloseIdleConnections()
	}
	return nil
}

func (c *OpenAIClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Wire types for POST /v1/chat/completions.

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type chatStreamChunk struct {
	Choices []chatStreamChoice `json:"choices"`
}

type chatStreamChoice struct {
	Delta chatDelta `json:"delta"`
}

type chatDelta struct {
	Content string `json:"content"`
}
