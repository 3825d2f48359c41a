package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"meridian/pkg/toolregistry"
)

var rememberParams = []toolregistry.Param{
	{Name: "content", Type: toolregistry.TypeString, Required: true, Description: "Fact to remember."},
	{Name: "type", Type: toolregistry.TypeString, Description: "Memory type tag."},
	{Name: "source", Type: toolregistry.TypeString, Description: "Where this memory came from."},
	{Name: "importance", Type: toolregistry.TypeNumber, Description: "Relative importance, caller-defined scale."},
}

var recallParams = []toolregistry.Param{
	{Name: "query", Type: toolregistry.TypeString, Required: true, Description: "Query to search long-term memory with."},
	{Name: "k", Type: toolregistry.TypeNumber, Description: "Max results (default 5)."},
}

var forgetParams = []toolregistry.Param{
	{Name: "memory_id", Type: toolregistry.TypeString, Required: true, Description: "ID of the memory to delete."},
}

type rememberArgs struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Source     string  `json:"source"`
	Importance float64 `json:"importance"`
}

type recallArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type forgetArgs struct {
	MemoryID string `json:"memory_id"`
}

func (t *Toolset) rememberExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	if !t.Embedder.IsConfigured() {
		return errResult("remember requires a configured embeddings client"), nil
	}
	var args rememberArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if err := t.Docs.EnsureIndex(longTermMemoryIndex, t.Embedder.Dimension(), 0); err != nil {
		return errResult(err.Error()), nil
	}
	vec, err := t.Embedder.Embed(ctx, args.Content)
	if err != nil {
		return errResult(err.Error()), nil
	}
	metadata, err := json.Marshal(map[string]any{"importance": args.Importance})
	if err != nil {
		return "", err
	}
	typ := args.Type
	if typ == "" {
		typ = "fact"
	}
	id, err := t.Docs.Add(ctx, longTermMemoryIndex, args.Content, vec, typ, args.Source, metadata, time.Now().Unix())
	if err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{
		"success":   true,
		"memory_id": strconv.FormatUint(id, 10),
		"metadata":  json.RawMessage(metadata),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) recallExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	if !t.Embedder.IsConfigured() {
		return errResult("recall_memories requires a configured embeddings client"), nil
	}
	var args recallArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	k := args.K
	if k <= 0 {
		k = 5
	}
	queryVec, err := t.Embedder.Embed(ctx, args.Query)
	if err != nil {
		return errResult(err.Error()), nil
	}
	results, err := t.Docs.Search(ctx, longTermMemoryIndex, queryVec, k)
	if err != nil {
		return errResult(err.Error()), nil
	}
	memories := make([]map[string]any, len(results))
	for i, r := range results {
		memories[i] = map[string]any{
			"memory_id": strconv.FormatUint(r.Document.ID, 10),
			"score":     1 - r.Distance, // relevance score per cosine convention
			"content":   r.Document.Content,
			"type":      r.Document.Type,
			"metadata":  r.Document.Metadata,
		}
	}
	out, err := json.Marshal(map[string]any{"success": true, "memories": memories})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) forgetExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args forgetArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	id, err := strconv.ParseUint(args.MemoryID, 10, 64)
	if err != nil {
		return errResult(fmt.Sprintf("invalid memory_id: %s", args.MemoryID)), nil
	}
	if err := t.Docs.Delete(ctx, longTermMemoryIndex, id); err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{"success": true, "memory_id": args.MemoryID, "deleted": true})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
