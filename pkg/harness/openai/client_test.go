package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"meridian/pkg/backend"
	"meridian/pkg/config"
	"meridian/pkg/protocol"
	"meridian/pkg/sse"
)

func TestNewClient_MissingBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	if err == nil {
		t.Fatal("expected error for missing base_url")
	}
}

func TestNewClient_Basic(t *testing.T) {
	c, err := NewClient(ClientConfig{
		Name:    "test",
		BaseURL: "http://localhost:8080",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.inner.Name() != "test" {
		t.Errorf("expected 'test', got %q", c.inner.Name())
	}
}

func TestNewClient_UnknownAuth(t *testing.T) {
	_, err := NewClient(ClientConfig{
		BaseURL: "http://localhost",
		Auth:    config.BackendAuthConfig{Type: "magic"},
	})
	if err == nil {
		t.Fatal("expected error for unknown auth type")
	}
}

func TestNewClientWrapper(t *testing.T) {
	c, err := NewClient(ClientConfig{BaseURL: "http://localhost"})
	if err != nil {
		t.Fatal(err)
	}
	wrapped := NewClientWrapper(c.inner)
	if wrapped == nil {
		t.Fatal("expected non-nil wrapper")
	}
}

func TestClient_ListModels_ConvertsToHarnessModelInfo(t *testing.T) {
	c, err := NewClient(ClientConfig{
		BaseURL: "http://localhost",
		Name:    "test",
		Models: []config.BackendModelDef{
			{ID: "model-a", DisplayName: "Model A"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	if models[0].ID != "model-a" || models[0].Name != "Model A" || models[0].Provider != "openai" {
		t.Errorf("unexpected model: %+v", models[0])
	}
}

func TestClient_StreamResponses_DelegatesToBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk := `{"id":"1","choices":[{"index":0,"delta":{"content":"Hi"}}]}`
		w.Write([]byte("data: " + chunk + "\n\n"))
		stop := `{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`
		w.Write([]byte("data: " + stop + "\n\n"))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	var events []sse.Event
	err = c.StreamResponses(context.Background(), protocol.ResponsesRequest{Model: "test"}, func(ev sse.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Error("expected at least one event")
	}
}

func TestClient_StreamAndCollect_DelegatesToBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk := `{"id":"1","choices":[{"index":0,"delta":{"content":"Hi"}}]}`
		w.Write([]byte("data: " + chunk + "\n\n"))
		stop := `{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`
		w.Write([]byte("data: " + stop + "\n\n"))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	result, err := c.StreamAndCollect(context.Background(), protocol.ResponsesRequest{Model: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "Hi" {
		t.Errorf("expected 'Hi', got %q", result.Text)
	}
}

func TestConvertModels(t *testing.T) {
	in := []backend.ModelInfo{
		{ID: "gpt-4o", DisplayName: "GPT-4o"},
	}
	out := ConvertModels(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 model, got %d", len(out))
	}
	if out[0].ID != "gpt-4o" || out[0].Name != "GPT-4o" || out[0].Provider != "openai" {
		t.Errorf("unexpected conversion: %+v", out[0])
	}
}

func TestConvertModels_EmptyStaysEmpty(t *testing.T) {
	out := ConvertModels(nil)
	if len(out) != 0 {
		t.Errorf("expected empty slice, got %d", len(out))
	}
}

