package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meridian/pkg/docstore"
	"meridian/pkg/embeddings"
	"meridian/pkg/policy"
)

func newTestToolset(t *testing.T, embedder *embeddings.Client) *Toolset {
	t.Helper()
	docs, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { docs.Close() })

	workspace := t.TempDir()
	files, err := policy.NewFileGate(workspace)
	if err != nil {
		t.Fatal(err)
	}
	shell := policy.NewShellGate(nil, nil)

	if embedder == nil {
		embedder = embeddings.New(embeddings.Config{})
	}
	return NewToolset(docs, embedder, shell, files, time.Second, time.Second)
}

// fakeEmbeddingsServer returns a configured embeddings.Client backed by an
// httptest server that always responds with a fixed-dimension vector.
func fakeEmbeddingsServer(t *testing.T, dimension int) *embeddings.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		data := make([]float32, dimension)
		for i := range data {
			data[i] = 0.001 * float32(i+1)
		}
		w.Write(mustMarshalEmbeddingResponse(data))
	}))
	t.Cleanup(srv.Close)
	return embeddings.New(embeddings.Config{APIKey: "test-key", BaseURL: srv.URL, Model: "text-embedding-3-small"})
}

func mustMarshalEmbeddingResponse(data []float32) []byte {
	type embeddingObj struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	type response struct {
		Object string         `json:"object"`
		Data   []embeddingObj `json:"data"`
		Model  string         `json:"model"`
		Usage  map[string]int `json:"usage"`
	}
	resp := response{
		Object: "list",
		Data:   []embeddingObj{{Object: "embedding", Embedding: data, Index: 0}},
		Model:  "text-embedding-3-small",
		Usage:  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	}
	b, _ := json.Marshal(resp)
	return b
}
