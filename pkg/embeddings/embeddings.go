// Package embeddings provides the remote embedding client that backs
// semantic search across pkg/docstore and pkg/conversation. When no API
// key is configured, callers degrade to zero-vector inserts rather than
// failing outright; recall paths must check IsConfigured and refuse to
// run semantic search themselves.
package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"meridian/pkg/errs"
	"meridian/pkg/vectorindex"
)

// Client embeds text via an OpenAI-compatible embeddings endpoint.
type Client struct {
	client    *openai.Client
	model     string
	dimension int
}

// Config configures the embedding client. An empty APIKey yields a Client
// with IsConfigured() == false.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// New creates a Client. It never errors: an empty APIKey produces an
// unconfigured client rather than a construction failure, since the
// embedding client is optional ambient infrastructure, not a hard
// dependency of the agent.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	c := &Client{model: cfg.Model, dimension: dimensionOf(cfg.Model)}
	if cfg.APIKey == "" {
		return c
	}
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	c.client = openai.NewClientWithConfig(oaiCfg)
	return c
}

func dimensionOf(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// IsConfigured reports whether an API key is available.
func (c *Client) IsConfigured() bool { return c.client != nil }

// Dimension returns the embedding dimension for the configured model.
func (c *Client) Dimension() int { return c.dimension }

// Embed posts text to the configured embeddings endpoint and returns the
// resulting vector. Callers must check IsConfigured first; Embed returns
// an error if called while unconfigured.
func (c *Client) Embed(ctx context.Context, text string) (vectorindex.Vector, error) {
	if !c.IsConfigured() {
		return vectorindex.Vector{}, errs.New(errs.ConflictingState, "embeddings client is not configured")
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return vectorindex.Vector{}, errs.Wrap(errs.ProviderError, "embeddings request failed", err)
	}
	if len(resp.Data) == 0 {
		return vectorindex.Vector{}, errs.New(errs.ProviderError, "embeddings endpoint returned no data")
	}
	data := resp.Data[0].Embedding
	return vectorindex.Vector{Dimension: len(data), Data: data}, nil
}

// ZeroVector returns a zero-filled vector of the client's configured
// dimension, for use when IsConfigured() is false and an insert must
// still provide something shaped correctly for the vector index.
func (c *Client) ZeroVector() vectorindex.Vector {
	return vectorindex.Vector{Dimension: c.dimension, Data: make([]float32, c.dimension)}
}

// EmbedOrZero embeds text if configured, otherwise returns a zero vector.
// This is the degrade path the memory tool and ingest paths are required
// to take; semantic search over a zero-vector insert is simply never a
// close match, but chronological search still finds it.
func (c *Client) EmbedOrZero(ctx context.Context, text string) (vectorindex.Vector, error) {
	if !c.IsConfigured() {
		return c.ZeroVector(), nil
	}
	vec, err := c.Embed(ctx, text)
	if err != nil {
		return vectorindex.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
