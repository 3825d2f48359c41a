// Package subagent manages child harness processes spawned as tools:
// spawn() forks the harness binary with a serialized task on stdin and a
// stdout pipe, poll() reads whatever output has accumulated so far without
// blocking, and on child exit the manager drains the rest of stdout and
// posts a completion message into the parent's conversation store.
package subagent

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"meridian/pkg/conversation"
	"meridian/pkg/errs"
	"meridian/pkg/logsink"
)

// Status is a subagent's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const defaultSubagentTimeout = 5 * time.Minute

// Task is the descriptor written to a subagent's stdin.
type Task struct {
	Prompt string   `json:"prompt"`
	Tools  []string `json:"tools,omitempty"`
}

// Snapshot is a point-in-time read of a subagent's accumulated output and
// status, returned by Poll without blocking on the child process.
type Snapshot struct {
	ID     string
	Status Status
	Output string
	Err    string
}

type subagentProc struct {
	mu     sync.Mutex
	status Status
	buf    bytes.Buffer
	err    error
}

func (p *subagentProc) snapshot(id string) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{ID: id, Status: p.status, Output: p.buf.String()}
	if p.err != nil {
		s.Err = p.err.Error()
	}
	return s
}

func (p *subagentProc) appendLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.WriteString(line)
	p.buf.WriteByte('\n')
}

func (p *subagentProc) finish(status Status, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.err = err
}

// Manager forks and tracks child harness processes. BinaryPath and Args
// describe how to re-exec the harness in subagent mode (e.g. the current
// executable plus a "--subagent" flag); Conv receives each subagent's
// completion message as a tool-role entry keyed by its subagent id.
type Manager struct {
	mu             sync.Mutex
	procs          map[string]*subagentProc
	binaryPath     string
	args           []string
	conv           *conversation.Store
	defaultTimeout time.Duration
	// Log, if set, receives one entry per spawn and per completion.
	Log *logsink.Sink
}

// NewManager builds a Manager. defaultTimeout <= 0 falls back to 5 minutes.
func NewManager(binaryPath string, args []string, conv *conversation.Store, defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultSubagentTimeout
	}
	return &Manager{
		procs:          map[string]*subagentProc{},
		binaryPath:     binaryPath,
		args:           args,
		conv:           conv,
		defaultTimeout: defaultTimeout,
	}
}

// Spawn forks the harness binary, writes task's JSON encoding to its
// stdin, and returns a subagent id immediately; the child runs under a
// context bounded by timeout (or the manager's default). The caller's ctx
// only governs the spawn itself (argument validation, process start); the
// child's lifetime is independent of ctx's cancellation.
func (m *Manager) Spawn(ctx context.Context, prompt string, tools []string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errs.New(errs.InvalidArgument, "subagent prompt must not be empty")
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	task := Task{Prompt: prompt, Tools: tools}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", errs.Wrap(errs.InternalError, "marshaling subagent task", err)
	}

	id := generateID()
	childCtx, cancel := context.WithTimeout(context.Background(), timeout)

	cmd := exec.CommandContext(childCtx, m.binaryPath, m.args...)
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", errs.Wrap(errs.InternalError, "opening subagent stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return "", errs.Wrap(errs.InternalError, "starting subagent process", err)
	}

	proc := &subagentProc{status: StatusRunning}
	m.mu.Lock()
	m.procs[id] = proc
	m.mu.Unlock()

	m.logEvent("subagent spawned", id, "")
	go m.run(childCtx, cancel, id, proc, cmd, stdout)
	return id, nil
}

// run drains stdout line by line as it arrives, then waits for the child
// to exit, drains whatever is left in the pipe, and posts a completion
// message into the conversation store.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, id string, proc *subagentProc, cmd *exec.Cmd, stdout io.Reader) {
	defer cancel()

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		proc.appendLine(sc.Text())
	}

	waitErr := cmd.Wait()
	status := StatusCompleted
	if waitErr != nil {
		status = StatusFailed
	}
	if ctx.Err() == context.DeadlineExceeded {
		status = StatusFailed
		if waitErr == nil {
			waitErr = ctx.Err()
		}
	}
	proc.finish(status, waitErr)

	m.logEvent("subagent "+string(status), id, errMessage(waitErr))
	if m.conv == nil {
		return
	}
	result := completionResult(id, status, proc.snapshot(id).Output, waitErr)
	// The child's context (and the caller's turn, by now) may already be
	// gone; posting the completion uses its own background context so a
	// slow turn loop never drops a subagent's result.
	_ = m.conv.Append(context.Background(), conversation.RoleTool, result, id, "subagent")
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (m *Manager) logEvent(message, id, errStr string) {
	if m.Log == nil {
		return
	}
	fields := map[string]any{"subagent_id": id}
	if errStr != "" {
		fields["error"] = errStr
	}
	_ = m.Log.Write(logsink.Entry{Component: "subagent", Kind: "lifecycle", Message: message, Fields: fields})
}

func completionResult(id string, status Status, output string, err error) string {
	envelope := struct {
		SubagentID string `json:"subagent_id"`
		Status     Status `json:"status"`
		Output     string `json:"output"`
		Error      string `json:"error,omitempty"`
	}{SubagentID: id, Status: status, Output: output}
	if err != nil {
		envelope.Error = err.Error()
	}
	raw, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		return fmt.Sprintf(`{"subagent_id":%q,"status":%q}`, id, status)
	}
	return string(raw)
}

// Poll returns a snapshot of id's accumulated output and status without
// blocking on the child process.
func (m *Manager) Poll(id string) (Snapshot, error) {
	m.mu.Lock()
	proc, ok := m.procs[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, errs.New(errs.NotFound, fmt.Sprintf("no subagent with id %q", id))
	}
	return proc.snapshot(id), nil
}

// generateID draws 16 hex characters from a CSPRNG, falling back to a
// time-based UUID (no crypto/rand dependency) and finally to a
// timestamp/pid mix if even that fails.
func generateID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	if id, err := uuid.NewUUID(); err == nil {
		return strings.ReplaceAll(id.String(), "-", "")[:16]
	}
	return fmt.Sprintf("%016x", uint64(time.Now().UnixNano())^uint64(os.Getpid()))
}
