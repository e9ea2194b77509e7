package embed

import (
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

	"golang.org/x/sync/errgroup"

	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/httpx"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultRequestTimeout bounds a single embeddings request.
	DefaultRequestTimeout = 60 * time.Second

	// initialBackoff seeds the exponential retry delay.
	initialBackoff = 500 * time.Millisecond

	// maxRetryAfter caps server-directed Retry-After waits.
	maxRetryAfter = 30 * time.Second
)

// Options configures the OpenAI embedder. Zero values take defaults.
type Options struct {
	// APIKey is the bearer token for the OpenAI API.
	APIKey string

	// BaseURL overrides the API root, e.g. for a proxy or test server.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Dimensions is the vector width of the model.
	Dimensions int

	// BatchSize is the maximum inputs per request.
	BatchSize int

	// Concurrency bounds parallel batch requests.
	Concurrency int

	// MaxRetries is the retry count after the initial attempt.
	MaxRetries int

	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration

	// HTTPClient overrides the default pooled client.
	HTTPClient *http.Client

	// Breaker overrides the default circuit breaker.
	Breaker *rcerrors.CircuitBreaker
}

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
// Large inputs split into batches issued concurrently and reassembled in
// input order.
type OpenAIEmbedder struct {
	client  *http.Client
	opts    Options
	breaker *rcerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder with default settings.
func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return NewOpenAIEmbedderWithOptions(Options{APIKey: apiKey})
}

// NewOpenAIEmbedderWithOptions creates an embedder with explicit settings.
func NewOpenAIEmbedderWithOptions(opts Options) *OpenAIEmbedder {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = DefaultDimensions
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		// No client-level timeout: per-request contexts carry it, so a
		// parent cancellation is never outlived by a stuck read.
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        opts.Concurrency * 2,
				MaxIdleConnsPerHost: opts.Concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = rcerrors.NewCircuitBreaker("openai-embeddings")
	}

	return &OpenAIEmbedder{client: client, opts: opts, breaker: breaker}
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for all texts in input order. Blank texts
// map to zero vectors without an API call; the rest split into batches of
// Options.BatchSize issued with bounded concurrency.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var idxs []int
	var clean []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.opts.Dimensions)
			continue
		}
		idxs = append(idxs, i)
		clean = append(clean, text)
	}
	if len(clean) == 0 {
		return results, nil
	}

	batchCount := (len(clean) + e.opts.BatchSize - 1) / e.opts.BatchSize
	if batchCount > 1 {
		slog.Info("embedding corpus in batches",
			slog.Int("texts", len(clean)),
			slog.Int("batches", batchCount),
			slog.Int("concurrency", e.opts.Concurrency))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for start := 0; start < len(clean); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(clean))
		batchTexts := clean[start:end]
		batchIdxs := idxs[start:end]
		g.Go(func() error {
			vectors, err := e.embedWithRetry(gctx, batchTexts)
			if err != nil {
				return err
			}
			// Batches write disjoint result slots, so no lock is needed.
			for i, v := range vectors {
				results[batchIdxs[i]] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedWithRetry issues one batch with exponential backoff on transient
// failures. The circuit breaker counts retryable failures only; a bad API
// key must not suspend the service.
func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := initialBackoff
	attempts := 0
	var lastErr error

	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			var se *httpx.StatusError
			if errors.As(lastErr, &se) && se.RetryAfter > 0 {
				wait = se.RetryAfter
			}
			if err := httpx.SleepWithContext(ctx, httpx.Jitter(wait)); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		if !e.breaker.Allow() {
			return nil, rcerrors.EmbeddingError(
				"embedding service suspended after repeated failures", rcerrors.ErrCircuitOpen)
		}

		attempts++
		vectors, err := e.doEmbed(ctx, texts)
		if err == nil {
			e.breaker.RecordSuccess()
			return vectors, nil
		}
		lastErr = err

		if !httpx.IsRetryableError(err) || ctx.Err() != nil {
			break
		}
		e.breaker.RecordFailure()
		slog.Debug("retrying embeddings request",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
	}

	return nil, rcerrors.EmbeddingError(
		fmt.Sprintf("embeddings request failed after %d attempts", attempts), lastErr)
}

// doEmbed performs a single embeddings request and reorders the response by
// its index field.
func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	payload, err := json.Marshal(embeddingsRequest{Model: e.opts.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		e.opts.BaseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.opts.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpx.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, httpx.NewStatusError(resp, maxRetryAfter)
	}

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(out.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embeddings response missing index %d", i)
		}
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.opts.Model
}

// Close releases idle connections. In-flight requests finish or cancel
// through their own contexts.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// Wire types for POST /v1/embeddings.

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []embeddingData `json:"data"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}
