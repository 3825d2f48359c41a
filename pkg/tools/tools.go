// Package tools implements the concrete tool executors the agent exposes
// to providers: shell, filesystem, long-term memory, raw vector-index
// access, PDF extraction, and an embedded Python interpreter.
package tools

import (
	"time"

	"meridian/pkg/docstore"
	"meridian/pkg/embeddings"
	"meridian/pkg/policy"
	"meridian/pkg/toolregistry"
)

const (
	maxOutputBytes   = 512 * 1024
	truncationMarker = "\n...[truncated]"

	longTermMemoryIndex = "long_term_memory"
	documentsIndex      = "documents"
)

// Toolset holds the shared dependencies every executor needs and knows
// how to register itself into a toolregistry.Registry.
type Toolset struct {
	Docs      *docstore.Store
	Embedder  *embeddings.Client
	Shell     *policy.ShellGate
	Files     *policy.FileGate
	Subagents SubagentSpawner // nil disables subagent_spawn/subagent_poll

	ShellTimeoutCap  time.Duration // hard cap regardless of requested timeout_s
	PythonTimeoutCap time.Duration

	python *pythonEngine
}

// DefaultShellDenyList is the baseline set of command prefixes rejected
// outright before any allowlist match, regardless of policy configuration.
var DefaultShellDenyList = []string{
	"rm -rf /",
	"mkfs",
	"dd if=/dev/zero",
	":(){ :",
}

// NewToolset wires a Toolset from its dependencies. shellTimeoutCap and
// pythonTimeoutCap of zero fall back to sane defaults (30s shell, 300s
// python cap).
func NewToolset(docs *docstore.Store, embedder *embeddings.Client, shell *policy.ShellGate, files *policy.FileGate, shellTimeoutCap, pythonTimeoutCap time.Duration) *Toolset {
	if shellTimeoutCap <= 0 {
		shellTimeoutCap = 30 * time.Second
	}
	if pythonTimeoutCap <= 0 {
		pythonTimeoutCap = 300 * time.Second
	}
	return &Toolset{
		Docs:             docs,
		Embedder:         embedder,
		Shell:            shell,
		Files:            files,
		ShellTimeoutCap:  shellTimeoutCap,
		PythonTimeoutCap: pythonTimeoutCap,
		python:           newPythonEngine(),
	}
}

type toolRegistration struct {
	name        string
	description string
	params      []toolregistry.Param
	executor    toolregistry.Executor
}

// RegisterAll registers every executor this package implements into reg.
func (t *Toolset) RegisterAll(reg *toolregistry.Registry) error {
	registrations := []toolRegistration{
		{"shell", "Run a shell command in the workspace.", shellParams, t.shellExecutor},
		{"file_read", "Read a file from the workspace.", fileReadParams, t.fileReadExecutor},
		{"file_write", "Write a file in the workspace.", fileWriteParams, t.fileWriteExecutor},
		{"remember", "Store a fact in long-term memory.", rememberParams, t.rememberExecutor},
		{"recall_memories", "Semantically search long-term memory.", recallParams, t.recallExecutor},
		{"forget_memory", "Delete a long-term memory entry.", forgetParams, t.forgetExecutor},
		{"vector_db_create_index", "Create a raw vector index.", vectorCreateParams, t.vectorCreateExecutor},
		{"vector_db_add", "Add a raw vector to an index.", vectorAddParams, t.vectorAddExecutor},
		{"vector_db_search", "Search a raw vector index.", vectorSearchParams, t.vectorSearchExecutor},
		{"vector_db_delete", "Delete a raw vector from an index.", vectorDeleteParams, t.vectorDeleteExecutor},
		{"pdf_extract_text", "Extract text from a PDF file.", pdfExtractParams, t.pdfExtractExecutor},
		{"python", "Execute Python-like code in a persistent interpreter.", pythonParams, t.pythonExecutor},
	}
	if t.Subagents != nil {
		registrations = append(registrations,
			toolRegistration{"subagent_spawn", "Spawn a child agent to work on a subtask in the background.", subagentSpawnParams, t.subagentSpawnExecutor},
			toolRegistration{"subagent_poll", "Read a spawned subagent's output and status without blocking.", subagentPollParams, t.subagentPollExecutor},
		)
	}
	for _, r := range registrations {
		if err := reg.Register(r.name, r.description, r.params, r.executor); err != nil {
			return err
		}
	}
	return nil
}
