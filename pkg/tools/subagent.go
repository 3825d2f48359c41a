package tools

import (
	"context"
	"encoding/json"
	"time"

	"meridian/pkg/subagent"
	"meridian/pkg/toolregistry"
)

// SubagentSpawner is the slice of *subagent.Manager the subagent_* tools
// need. Declared as an interface so Toolset doesn't force every caller to
// wire a real child-process manager (a nil Subagents leaves the tools
// unregistered, see RegisterAll). *subagent.Manager satisfies it directly.
type SubagentSpawner interface {
	Spawn(ctx context.Context, prompt string, tools []string, timeout time.Duration) (string, error)
	Poll(id string) (subagent.Snapshot, error)
}

var subagentSpawnParams = []toolregistry.Param{
	{Name: "prompt", Type: toolregistry.TypeString, Required: true, Description: "Task description for the subagent."},
	{Name: "tools", Type: toolregistry.TypeArray, Description: "Allowlist of tool names the subagent may use."},
	{Name: "timeout_s", Type: toolregistry.TypeNumber, Description: "Timeout in seconds (default manager timeout)."},
}

var subagentPollParams = []toolregistry.Param{
	{Name: "subagent_id", Type: toolregistry.TypeString, Required: true, Description: "Id returned by subagent_spawn."},
}

type subagentSpawnArgs struct {
	Prompt   string   `json:"prompt"`
	Tools    []string `json:"tools"`
	TimeoutS float64  `json:"timeout_s"`
}

type subagentPollArgs struct {
	SubagentID string `json:"subagent_id"`
}

func (t *Toolset) subagentSpawnExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args subagentSpawnArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	timeout := time.Duration(args.TimeoutS * float64(time.Second))
	id, err := t.Subagents.Spawn(ctx, args.Prompt, args.Tools, timeout)
	if err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{"success": true, "subagent_id": id, "status": string(subagent.StatusRunning)})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) subagentPollExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args subagentPollArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	snap, err := t.Subagents.Poll(args.SubagentID)
	if err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{
		"success":     true,
		"subagent_id": snap.ID,
		"status":      string(snap.Status),
		"output":      snap.Output,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
