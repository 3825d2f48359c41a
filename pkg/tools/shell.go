package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"meridian/pkg/toolregistry"
)

var shellParams = []toolregistry.Param{
	{Name: "command", Type: toolregistry.TypeString, Required: true, Description: "Shell command to run."},
	{Name: "working_dir", Type: toolregistry.TypeString, Description: "Directory to run the command in, relative to the workspace."},
	{Name: "timeout_s", Type: toolregistry.TypeNumber, Description: "Timeout in seconds."},
	{Name: "capture_stderr", Type: toolregistry.TypeString, Description: "Whether to capture stderr (\"true\"/\"false\", default true)."},
}

type shellArgs struct {
	Command       string  `json:"command"`
	WorkingDir    string  `json:"working_dir"`
	TimeoutS      float64 `json:"timeout_s"`
	CaptureStderr *bool   `json:"capture_stderr"`
}

type shellResult struct {
	Success        bool   `json:"success"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	ExitCode       int    `json:"exit_code"`
	ExecutionTime  float64 `json:"execution_time"`
	TimedOut       bool   `json:"timed_out"`
	Error          string `json:"error,omitempty"`
}

func (t *Toolset) shellExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args shellArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}

	for _, deny := range DefaultShellDenyList {
		if containsDangerousPattern(args.Command, deny) {
			return errResult("command matches a deny-listed dangerous pattern"), nil
		}
	}
	if t.Shell != nil {
		decision := t.Shell.Check(args.Command)
		if !decision.Allowed {
			return errResult(decision.Reason), nil
		}
	}

	timeout := t.ShellTimeoutCap
	if args.TimeoutS > 0 {
		requested := time.Duration(args.TimeoutS * float64(time.Second))
		if requested < timeout {
			timeout = requested
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := args.WorkingDir
	if t.Files != nil && dir != "" {
		resolved, err := t.Files.Resolve(dir)
		if err != nil {
			return errResult(err.Error()), nil
		}
		dir = resolved
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", args.Command)
	if dir != "" {
		cmd.Dir = dir
	}
	stdout := newLimitedBuffer(maxOutputBytes)
	stderr := newLimitedBuffer(maxOutputBytes)
	cmd.Stdout = stdout
	if args.CaptureStderr == nil || *args.CaptureStderr {
		cmd.Stderr = stderr
	}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := shellResult{
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		ExecutionTime: elapsed.Seconds(),
		TimedOut:      runCtx.Err() == context.DeadlineExceeded,
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		res.Success = false
		if !res.TimedOut {
			res.Error = runErr.Error()
		}
	} else {
		res.Success = true
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// containsDangerousPattern is a conservative prefix/substring check used
// only for the built-in deny list; the configured ShellGate handles the
// general allow/deny token-prefix matching.
func containsDangerousPattern(command, pattern string) bool {
	return len(command) >= len(pattern) && bytes.Contains([]byte(command), []byte(pattern))
}

func errResult(msg string) string {
	out, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return string(out)
}

// limitedBuffer caps captured output at max bytes and appends a
// truncation marker once the cap is hit.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) >= b.max {
		b.truncated = true
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + truncationMarker
	}
	return string(b.buf)
}
