// Package embed provides the OpenAI embeddings client that vectorizes
// regulatory chunks and queries, plus an LRU-cached wrapper for the query
// path.
package embed

import "context"

// Defaults for the OpenAI embeddings API.
const (
	// DefaultModel is the embedding model when none is configured.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimensions is the vector width of DefaultModel.
	DefaultDimensions = 1536

	// DefaultBatchSize is the maximum inputs per embeddings request.
	DefaultBatchSize = 1024

	// DefaultConcurrency bounds parallel batch requests for large corpora.
	DefaultConcurrency = 8

	// DefaultMaxRetries is the retry count after the initial attempt for
	// transient upstream failures.
	DefaultMaxRetries = 2
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}
