package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRememberExecutor_RequiresConfiguredEmbedder(t *testing.T) {
	ts := newTestToolset(t, nil)
	out, err := ts.rememberExecutor(context.Background(), `{"content":"the sky is blue"}`)
	if err != nil {
		t.Fatal(err)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res["success"] != false {
		t.Fatalf("expected failure without a configured embedder, got %+v", res)
	}
}

func TestRememberRecallForget_RoundTrips(t *testing.T) {
	embedder := fakeEmbeddingsServer(t, 4)
	ts := newTestToolset(t, embedder)
	ctx := context.Background()

	rememberOut, err := ts.rememberExecutor(ctx, `{"content":"the launch window opens Tuesday","type":"fact","source":"ops"}`)
	if err != nil {
		t.Fatal(err)
	}
	var rememberRes map[string]any
	if err := json.Unmarshal([]byte(rememberOut), &rememberRes); err != nil {
		t.Fatal(err)
	}
	if rememberRes["success"] != true {
		t.Fatalf("expected remember to succeed, got %+v", rememberRes)
	}
	memoryID, _ := rememberRes["memory_id"].(string)
	if memoryID == "" {
		t.Fatalf("expected a memory_id, got %+v", rememberRes)
	}

	recallOut, err := ts.recallExecutor(ctx, `{"query":"when does the launch window open","k":3}`)
	if err != nil {
		t.Fatal(err)
	}
	var recallRes map[string]any
	if err := json.Unmarshal([]byte(recallOut), &recallRes); err != nil {
		t.Fatal(err)
	}
	memories, _ := recallRes["memories"].([]any)
	if len(memories) == 0 {
		t.Fatalf("expected at least one recalled memory, got %+v", recallRes)
	}

	forgetOut, err := ts.forgetExecutor(ctx, `{"memory_id":"`+memoryID+`"}`)
	if err != nil {
		t.Fatal(err)
	}
	var forgetRes map[string]any
	if err := json.Unmarshal([]byte(forgetOut), &forgetRes); err != nil {
		t.Fatal(err)
	}
	if forgetRes["success"] != true {
		t.Fatalf("expected forget to succeed, got %+v", forgetRes)
	}

	recallAfterOut, err := ts.recallExecutor(ctx, `{"query":"launch window"}`)
	if err != nil {
		t.Fatal(err)
	}
	var recallAfterRes map[string]any
	if err := json.Unmarshal([]byte(recallAfterOut), &recallAfterRes); err != nil {
		t.Fatal(err)
	}
	for _, m := range recallAfterRes["memories"].([]any) {
		entry := m.(map[string]any)
		if entry["memory_id"] == memoryID {
			t.Fatalf("forgotten memory %s still recalled", memoryID)
		}
	}
}

func TestForgetExecutor_RejectsInvalidID(t *testing.T) {
	ts := newTestToolset(t, nil)
	out, err := ts.forgetExecutor(context.Background(), `{"memory_id":"not-a-number"}`)
	if err != nil {
		t.Fatal(err)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res["success"] != false {
		t.Fatalf("expected invalid id to fail, got %+v", res)
	}
}
