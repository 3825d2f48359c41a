// Package policy implements the rate limiter and allow/deny gate that
// stand between the tool registry and anything that touches the shell or
// the filesystem: a consecutive-denial backoff per tool name, a token
// prefix allowlist for shell commands, and a path-containment check for
// file tools.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"meridian/pkg/errs"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool
	Reason  string
}

// ShellGate matches shell commands against a token-prefix allowlist.
// Commands that can't be safely tokenized (unbalanced quotes, pipes,
// redirects, subshells) are never auto-allowed; they're reported as
// requiring interactive approval instead of being matched blindly.
type ShellGate struct {
	allow [][]string // each entry is a token-prefix, e.g. ["git", "status"]
	deny  [][]string
}

// NewShellGate builds a gate from allow/deny command prefixes given as
// whitespace-separated strings (e.g. "git status", "rm -rf").
func NewShellGate(allow, deny []string) *ShellGate {
	return &ShellGate{allow: tokenizePrefixes(allow), deny: tokenizePrefixes(deny)}
}

func tokenizePrefixes(specs []string) [][]string {
	out := make([][]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, strings.Fields(s))
	}
	return out
}

// NeedsApproval reports whether command cannot be safely tokenized and
// must fall back to interactive approval rather than allowlist matching.
func NeedsApproval(command string) bool {
	if strings.ContainsAny(command, "|><&;`$(){}") {
		return true
	}
	if strings.Contains(command, "%") {
		return true // cmd.exe %VAR% expansion, flagged unsafe
	}
	if _, err := shellwords.Parse(command); err != nil {
		return true // unbalanced quotes
	}
	return false
}

// Check tokenizes command and matches it against the allow/deny lists. A
// command requiring interactive approval (see NeedsApproval) is always
// denied here — approval is handled out-of-band.
func (g *ShellGate) Check(command string) Decision {
	if NeedsApproval(command) {
		return Decision{Allowed: false, Reason: "command requires interactive approval"}
	}
	tokens, err := shellwords.Parse(command)
	if err != nil || len(tokens) == 0 {
		return Decision{Allowed: false, Reason: "unable to parse command"}
	}
	for _, prefix := range g.deny {
		if hasPrefix(tokens, prefix) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("command matches deny-listed prefix %q", strings.Join(prefix, " "))}
		}
	}
	if len(g.allow) == 0 {
		return Decision{Allowed: true}
	}
	for _, prefix := range g.allow {
		if hasPrefix(tokens, prefix) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Allowed: false, Reason: "command does not match any allow-listed prefix"}
}

func hasPrefix(tokens, prefix []string) bool {
	if len(prefix) == 0 || len(tokens) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if tokens[i] != p {
			return false
		}
	}
	return true
}

// FileGate confines file tool paths to a workspace root.
type FileGate struct {
	root string
}

// NewFileGate creates a gate rooted at root (made absolute).
func NewFileGate(root string) (*FileGate, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "resolving workspace root", err)
	}
	return &FileGate{root: abs}, nil
}

// Resolve returns an absolute path within the workspace root, rejecting
// any path (relative or absolute) that escapes it.
func (g *FileGate) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", errs.New(errs.InvalidArgument, "path must not be empty")
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(g.root, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "resolving path", err)
	}
	rel, err := filepath.Rel(g.root, targetAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.Unauthorized, fmt.Sprintf("path %q escapes the workspace", path))
	}
	return targetAbs, nil
}
