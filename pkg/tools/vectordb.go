package tools

import (
	"context"
	"encoding/json"

	"meridian/pkg/toolregistry"
	"meridian/pkg/vectorindex"
)

var vectorCreateParams = []toolregistry.Param{
	{Name: "index", Type: toolregistry.TypeString, Required: true, Description: "Name of the index to create."},
	{Name: "dimension", Type: toolregistry.TypeNumber, Required: true, Description: "Vector dimension."},
	{Name: "metric", Type: toolregistry.TypeString, Description: "Distance metric: l2, cosine, or inner_product (default cosine)."},
	{Name: "max_elements", Type: toolregistry.TypeNumber, Description: "Optional capacity hint, 0 for unbounded."},
}

var vectorAddParams = []toolregistry.Param{
	{Name: "index", Type: toolregistry.TypeString, Required: true, Description: "Name of the index."},
	{Name: "id", Type: toolregistry.TypeNumber, Required: true, Description: "Label to store the vector under."},
	{Name: "vector", Type: toolregistry.TypeArray, Required: true, Description: "Vector components."},
}

var vectorSearchParams = []toolregistry.Param{
	{Name: "index", Type: toolregistry.TypeString, Required: true, Description: "Name of the index."},
	{Name: "vector", Type: toolregistry.TypeArray, Required: true, Description: "Query vector."},
	{Name: "k", Type: toolregistry.TypeNumber, Description: "Max results (default 5)."},
}

var vectorDeleteParams = []toolregistry.Param{
	{Name: "index", Type: toolregistry.TypeString, Required: true, Description: "Name of the index."},
	{Name: "id", Type: toolregistry.TypeNumber, Required: true, Description: "Label to remove."},
}

type vectorCreateArgs struct {
	Index       string `json:"index"`
	Dimension   int    `json:"dimension"`
	Metric      string `json:"metric"`
	MaxElements int    `json:"max_elements"`
}

type vectorAddArgs struct {
	Index  string    `json:"index"`
	ID     uint64    `json:"id"`
	Vector []float32 `json:"vector"`
}

func (a vectorAddArgs) toVector() vectorindex.Vector {
	return vectorindex.Vector{Dimension: len(a.Vector), Data: a.Vector}
}

type vectorSearchArgs struct {
	Index  string    `json:"index"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

func (a vectorSearchArgs) toVector() vectorindex.Vector {
	return vectorindex.Vector{Dimension: len(a.Vector), Data: a.Vector}
}

type vectorDeleteArgs struct {
	Index string `json:"index"`
	ID    uint64 `json:"id"`
}

func metricFromString(s string) vectorindex.Metric {
	switch s {
	case "l2":
		return vectorindex.L2
	case "inner_product":
		return vectorindex.InnerProduct
	default:
		return vectorindex.Cosine
	}
}

func (t *Toolset) vectorCreateExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args vectorCreateArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	err := t.Docs.Vectors().CreateIndex(args.Index, vectorindex.IndexConfig{
		Dimension:   args.Dimension,
		MaxElements: args.MaxElements,
		Metric:      metricFromString(args.Metric),
	})
	if err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{"success": true, "index": args.Index})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) vectorAddExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args vectorAddArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if err := t.Docs.Vectors().Add(args.Index, args.toVector(), args.ID); err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{"success": true, "id": args.ID})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) vectorSearchExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args vectorSearchArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	k := args.K
	if k <= 0 {
		k = 5
	}
	hits, err := t.Docs.Vectors().Search(args.Index, args.toVector(), k)
	if err != nil {
		return errResult(err.Error()), nil
	}
	results := make([]map[string]any, len(hits))
	for i, h := range hits {
		results[i] = map[string]any{"id": h.Label, "distance": h.Distance}
	}
	out, err := json.Marshal(map[string]any{"success": true, "results": results})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) vectorDeleteExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args vectorDeleteArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if err := t.Docs.Vectors().Delete(args.Index, args.ID); err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{"success": true, "id": args.ID})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
