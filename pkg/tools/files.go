package tools

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"meridian/pkg/toolregistry"
)

var fileReadParams = []toolregistry.Param{
	{Name: "path", Type: toolregistry.TypeString, Required: true, Description: "Path relative to the workspace."},
	{Name: "start_line", Type: toolregistry.TypeNumber, Description: "First line to include (1-indexed)."},
	{Name: "end_line", Type: toolregistry.TypeNumber, Description: "Last line to include (inclusive)."},
}

var fileWriteParams = []toolregistry.Param{
	{Name: "path", Type: toolregistry.TypeString, Required: true, Description: "Path relative to the workspace."},
	{Name: "content", Type: toolregistry.TypeString, Required: true, Description: "Content to write."},
}

type fileReadArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type fileWriteArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *Toolset) fileReadExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args fileReadArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	resolved, err := t.Files.Resolve(args.Path)
	if err != nil {
		return errResult(err.Error()), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return errResult(err.Error()), nil
	}
	content := string(data)
	if args.StartLine > 0 || args.EndLine > 0 {
		content = sliceLines(content, args.StartLine, args.EndLine)
	}
	out, err := json.Marshal(map[string]any{"success": true, "content": content})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) fileWriteExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args fileWriteArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	resolved, err := t.Files.Resolve(args.Path)
	if err != nil {
		return errResult(err.Error()), nil
	}
	if err := os.WriteFile(resolved, []byte(args.Content), 0o644); err != nil {
		return errResult(err.Error()), nil
	}
	out, err := json.Marshal(map[string]any{"success": true, "bytes_written": len(args.Content)})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sliceLines returns the 1-indexed [start, end] line range of content. A
// zero start or end means "from the beginning" / "through the end".
func sliceLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
