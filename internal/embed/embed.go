// Package embed turns module and query text into vectors through any
// OpenAI-compatible /v1/embeddings endpoint.
//
// Callers treat embedding as best effort: a failed or disabled embedder
// makes search fall back to text ranking, it never fails a request.
//
// Usage:
//
//	emb := embed.New(embed.Config{
//	    Endpoint: "http://localhost:11434",
//	    Model:    "nomic-embed-text",
//	})
//	vec, err := emb.Embed(ctx, "connection refused on port 5432")
package embed

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrDisabled is returned by the embedder built when no endpoint is set.
var ErrDisabled = errors.New("embed: no embedding endpoint configured")

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, or 0 before the first call
	// when auto-detecting.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server. Empty disables
	// embeddings.
	Endpoint string

	// Model is sent in every request.
	Model string

	// Dimension is the expected vector size. 0 means auto-detect.
	Dimension int

	// APIKey, if set, is sent as a bearer token.
	APIKey string

	// BatchSize caps texts per HTTP request. Default: 32.
	BatchSize int

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from cfg. An empty Endpoint yields an embedder
// that always returns ErrDisabled.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return disabled{model: cfg.Model}
	}
	return newOpenAIClient(cfg)
}

type disabled struct {
	model string
}

func (disabled) Embed(context.Context, string) ([]float32, error) { return nil, ErrDisabled }

func (disabled) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrDisabled
}

func (disabled) Dimension() int  { return 0 }
func (d disabled) Model() string { return d.model }
