// Package openai implements the OpenAI-compatible harness for any Chat
// Completions API provider (OpenAI, Gemini, Groq, local models, etc.).
package openai

import (
	"context"

	"meridian/pkg/backend"
	backendOAI "meridian/pkg/backend/openapi"
	"meridian/pkg/harness"
	"meridian/pkg/protocol"
	"meridian/pkg/sse"
)

// ClientConfig mirrors the backend openapi.Config fields needed to reach an
// OpenAI Chat Completions-compatible endpoint.
type ClientConfig = backendOAI.Config

// Client wraps the backend openapi.Client and adapts it for harness use. It
// delegates all API calls to the underlying client and translates
// backend.ModelInfo into harness.ModelInfo on the way out.
type Client struct {
	inner *backendOAI.Client
}

// NewClient constructs the underlying OpenAI-compatible backend client and
// wraps it for harness use.
func NewClient(cfg ClientConfig) (*Client, error) {
	inner, err := backendOAI.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{inner: inner}, nil
}

// NewClientWrapper wraps an already-constructed backend client.
func NewClientWrapper(client *backendOAI.Client) *Client {
	return &Client{inner: client}
}

// StreamResponses sends a protocol request and streams raw SSE events.
func (c *Client) StreamResponses(ctx context.Context, req protocol.ResponsesRequest, onEvent func(sse.Event) error) error {
	return c.inner.StreamResponses(ctx, req, onEvent)
}

// StreamAndCollect sends a request and returns the raw backend result.
func (c *Client) StreamAndCollect(ctx context.Context, req protocol.ResponsesRequest) (backend.StreamResult, error) {
	return c.inner.StreamAndCollect(ctx, req)
}

// ListModels returns models from the underlying backend, translated into
// harness.ModelInfo.
func (c *Client) ListModels(ctx context.Context) ([]harness.ModelInfo, error) {
	models, err := c.inner.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return ConvertModels(models), nil
}

// ConvertModels translates backend.ModelInfo to harness.ModelInfo.
func ConvertModels(models []backend.ModelInfo) []harness.ModelInfo {
	out := make([]harness.ModelInfo, len(models))
	for i, m := range models {
		out[i] = harness.ModelInfo{
			ID:       m.ID,
			Name:     m.DisplayName,
			Provider: "openai",
		}
	}
	return out
}
