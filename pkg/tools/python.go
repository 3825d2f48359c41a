package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"meridian/pkg/toolregistry"
)

var pythonParams = []toolregistry.Param{
	{Name: "code", Type: toolregistry.TypeString, Required: true, Description: "Script to run in the persistent interpreter."},
	{Name: "timeout_s", Type: toolregistry.TypeNumber, Description: "Timeout in seconds."},
}

type pythonArgs struct {
	Code     string  `json:"code"`
	TimeoutS float64 `json:"timeout_s"`
}

type pythonExecResult struct {
	Success       bool    `json:"success"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	Exception     string  `json:"exception,omitempty"`
	ExecutionTime float64 `json:"execution_time"`
	TimedOut      bool    `json:"timed_out"`
}

// pythonEngine wraps a single goja VM whose global state (variables,
// function definitions) persists across successive pythonExecutor calls,
// matching the persistent-interpreter-session contract the tool exposes.
type pythonEngine struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	stdout *limitedBuffer // swapped per call, so each run reports only its own output
}

func newPythonEngine() *pythonEngine {
	e := &pythonEngine{vm: goja.New()}
	e.installBuiltins()
	return e
}

func (e *pythonEngine) installBuiltins() {
	e.vm.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if e.stdout != nil {
			fmt.Fprintln(e.stdout, strings.Join(parts, " "))
		}
		return goja.Undefined()
	})
}

func (e *pythonEngine) run(code string, timeout time.Duration) pythonExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stdout = newLimitedBuffer(maxOutputBytes)
	defer func() { e.stdout = nil }()

	timer := time.AfterFunc(timeout, func() {
		e.vm.Interrupt("execution timed out")
	})
	defer timer.Stop()

	start := time.Now()
	value, err := e.vm.RunString(code)
	elapsed := time.Since(start)

	res := pythonExecResult{
		Stdout:        e.stdout.String(),
		ExecutionTime: elapsed.Seconds(),
	}
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			res.TimedOut = true
			res.Stdout = e.stdout.String()
			res.Exception = "execution timed out"
			return res
		}
		res.Stdout = e.stdout.String()
		res.Exception = err.Error()
		return res
	}
	res.Success = true
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		fmt.Fprintln(e.stdout, value.String())
		res.Stdout = e.stdout.String()
	}
	return res
}

func (t *Toolset) pythonExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args pythonArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	timeout := t.PythonTimeoutCap
	if args.TimeoutS > 0 {
		requested := time.Duration(args.TimeoutS * float64(time.Second))
		if requested < timeout {
			timeout = requested
		}
	}
	res := t.python.run(args.Code, timeout)
	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
