// Package rag orchestrates retrieval-augmented answering: retrieve the
// chunks closest to a question, build a grounded prompt, and have the
// chat model answer from that context alone.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ovokpus/regcopilot/internal/chat"
	"github.com/ovokpus/regcopilot/internal/store"
	"github.com/ovokpus/regcopilot/internal/telemetry"
)

// DefaultTopK is the retrieval depth used when a query does not name one.
const DefaultTopK = 4

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Retriever returns the chunks most similar to a query, best first.
// Implemented by kb.KnowledgeBase.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]store.SearchResult, error)
}

// Result is a complete grounded answer with its retrieval provenance.
type Result struct {
	// Response is the markdown answer, or a canned fallback when
	// retrieval found nothing or generation failed.
	Response string

	// Sources lists the distinct filenames behind the answer, in
	// retrieval order.
	Sources []string

	// Metadata is a human-readable provenance line per source chunk.
	Metadata string

	// SearchResults are the raw retrieved chunks, best first.
	SearchResults []store.SearchResult
}

// Pipeline answers questions from the knowledge base. Safe for
// concurrent use.
type Pipeline struct {
	retriever Retriever
	chat      chat.Client
	topK      int
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTopK sets the default retrieval depth for queries that do not
// specify one. Values below one are ignored.
func WithTopK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithMetrics sets an optional query telemetry collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a retrieval-augmented answering pipeline.
// Returns an error if any required dependency is nil.
func NewPipeline(retriever Retriever, chatClient chat.Client, opts ...Option) (*Pipeline, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever is required", ErrNilDependency)
	}
	if chatClient == nil {
		return nil, fmt.Errorf("%w: chat client is required", ErrNilDependency)
	}
	p := &Pipeline{
		retriever: retriever,
		chat:      chatClient,
		topK:      DefaultTopK,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run retrieves the top-k chunks for query and generates a grounded
// answer. k values below one fall back to the pipeline default.
//
// Retrieval and generation failures yield canned markdown results, not
// errors: callers stream Result.Response either way. Only context
// cancellation surfaces as an error.
func (p *Pipeline) Run(ctx context.Context, query string, k int) (*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return noResultsResult(), nil
	}
	if k <= 0 {
		k = p.topK
	}

	results, err := p.retriever.Search(ctx, query, k)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Error("retrieval failed", "error", err)
		return systemIssueResult(), nil
	}

	p.record(query, len(results), start)

	if len(results) == 0 {
		return noResultsResult(), nil
	}

	contextBlock, metadataInfo := formatContext(results)

	answer, err := p.chat.Complete(ctx, []chat.Message{
		chat.System(systemPrompt),
		chat.User(userPrompt(query, contextBlock)),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Error("generation failed", "error", err)
		answer = generationFailureResponse
	}

	return &Result{
		Response:      answer,
		Sources:       sourceFilenames(results),
		Metadata:      metadataInfo,
		SearchResults: results,
	}, nil
}

// Stream runs the pipeline and relays the answer to emit paragraph by
// paragraph. The full result is returned for provenance.
func (p *Pipeline) Stream(ctx context.Context, query string, k int, emit func(string) error) (*Result, error) {
	result, err := p.Run(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return result, StreamParagraphs(result.Response, emit)
}

func (p *Pipeline) record(query string, resultCount int, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.Record(query, telemetry.KindGeneral, resultCount, time.Since(start))
}

// StreamParagraphs splits a markdown answer on blank lines and emits
// each paragraph with a trailing blank line, keeping content blocks
// intact for clients that render incrementally. A non-nil error from
// emit aborts the stream.
func StreamParagraphs(text string, emit func(string) error) error {
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if err := emit(paragraph + "\n\n"); err != nil {
			return err
		}
	}
	return nil
}

// formatContext renders retrieved chunks as the model-facing context
// block and a provenance line. Context sections look like
//
//	[Source: <filename>]
//	<chunk text>
//
// joined by "\n\n---\n\n"; provenance entries are
// "Source: <f>, Relevance: 0.842, Chunk: 3" joined by " | ".
func formatContext(results []store.SearchResult) (contextBlock, metadataInfo string) {
	contextParts := make([]string, 0, len(results))
	metadataParts := make([]string, 0, len(results))

	for i, res := range results {
		content := strings.TrimSpace(res.Text)
		if content == "" {
			continue
		}

		filename := res.Metadata.GetString(store.KeyFilename)
		if filename == "" {
			filename = fmt.Sprintf("Document %d", i+1)
		}
		contextParts = append(contextParts, fmt.Sprintf("[Source: %s]\n%s", filename, content))

		line := fmt.Sprintf("Source: %s, Relevance: %.3f", filename, res.Score)
		if res.Metadata.Has(store.KeyChunkIndex) {
			line += fmt.Sprintf(", Chunk: %d", res.Metadata.GetInt(store.KeyChunkIndex))
		}
		metadataParts = append(metadataParts, line)
	}

	return strings.Join(contextParts, "\n\n---\n\n"), strings.Join(metadataParts, " | ")
}

// sourceFilenames dedupes chunk filenames preserving retrieval order.
func sourceFilenames(results []store.SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	sources := make([]string, 0, len(results))
	for _, res := range results {
		f := res.Metadata.GetString(store.KeyFilename)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		sources = append(sources, f)
	}
	return sources
}
