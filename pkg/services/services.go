// Package services bundles the process singletons every turn and every
// tool executor needs — the document store, embedding client, OAuth2
// credential cache, and tool registry — and wires them once from
// pkg/config so callers pass one Services value explicitly into
// pkg/turnloop.Loop and pkg/tools constructors instead of reaching for
// package-level state.
package services

import (
	"os"
	"path/filepath"
	"strings"

	"meridian/pkg/budget"
	"meridian/pkg/config"
	"meridian/pkg/conversation"
	"meridian/pkg/docstore"
	"meridian/pkg/embeddings"
	"meridian/pkg/errs"
	"meridian/pkg/logsink"
	"meridian/pkg/metrics"
	"meridian/pkg/oauth2store"
	"meridian/pkg/policy"
	"meridian/pkg/subagent"
	"meridian/pkg/tools"
	"meridian/pkg/toolregistry"
)

// Services is the shared dependency bundle built once per process.
type Services struct {
	Docs     *docstore.Store
	Embedder *embeddings.Client
	OAuth2   *oauth2store.Store
	Tools    *toolregistry.Registry
	Conv     *conversation.Store
	Toolset  *tools.Toolset

	Limiter  *policy.RateLimiter
	Backoff  *policy.DenialBackoff
	Subagent *subagent.Manager
	Log      *logsink.Sink
	Metrics  *metrics.Collector

	Budget budget.Config
	Cfg    config.Config
}

// New builds every singleton from cfg: opens the document store and OAuth2
// credential cache, constructs the embedding client, wires the shell/file
// policy gates and rate limiter, builds the tool registry, and — once a
// conversation store exists — the subagent manager, plugged back into the
// Toolset so subagent_spawn/subagent_poll are registered. Close releases
// everything Open'd.
func New(cfg config.Config) (*Services, error) {
	docPath, err := expandPath(cfg.Memory.DocstorePath)
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(docPath); err != nil {
		return nil, err
	}
	docs, err := docstore.Open(docPath)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "opening document store", err)
	}

	embedder := embeddings.New(embeddings.Config{
		APIKey:  cfg.Memory.EmbeddingAPIKey,
		BaseURL: cfg.Memory.EmbeddingURL,
		Model:   cfg.Memory.EmbeddingModel,
	})

	var log *logsink.Sink
	if logPath, err := expandPath(cfg.Memory.LogPath); err == nil && logPath != "" {
		if err := ensureParentDir(logPath); err == nil {
			if sink, err := logsink.Open(logPath); err == nil {
				log = sink
			}
		}
	}

	conv, err := conversation.NewWithConfig(docs, embedder, conversation.Config{
		OnOrphan: conversation.OnOrphanDrop,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	oauthPath, err := expandPath(cfg.OAuth2.Path)
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(oauthPath); err != nil {
		return nil, err
	}
	oauth, err := oauth2store.Open(oauthPath)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "opening oauth2 store", err)
	}

	files, err := policy.NewFileGate(cfg.Tools.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	shell := policy.NewShellGate(cfg.Tools.ShellAllow, cfg.Tools.ShellDeny)

	limiter := policy.NewRateLimiter(cfg.Tools.RateLimitPerSec, cfg.Tools.RateLimitBurst)
	backoff := policy.NewDenialBackoff()
	backoff.Log = log

	toolset := tools.NewToolset(docs, embedder, shell, files, cfg.Tools.ShellTimeoutCap, cfg.Tools.PythonTimeoutCap)

	var mgr *subagent.Manager
	if cfg.Subagent.BinaryPath != "" {
		mgr = subagent.NewManager(cfg.Subagent.BinaryPath, cfg.Subagent.Args, conv, cfg.Subagent.DefaultTimeout)
		mgr.Log = log
		toolset.Subagents = mgr
	}

	registry := toolregistry.New()
	if err := toolset.RegisterAll(registry); err != nil {
		return nil, err
	}

	metricsPath, err := expandPath(cfg.Proxy.Metrics.Path)
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(metricsPath); err != nil {
		return nil, err
	}
	collector, err := metrics.NewCollector(metrics.Config{
		Enabled:     cfg.Proxy.Metrics.Enabled,
		Path:        metricsPath,
		LogRequests: cfg.Proxy.Metrics.LogRequests,
	})
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "opening metrics collector", err)
	}

	budgetCfg, err := budget.NewConfig(
		cfg.Budget.ContextWindow,
		cfg.Budget.MaxContextWindow,
		cfg.Budget.MinResponseTokens,
		cfg.Budget.SafetyBufferBase,
		cfg.Budget.SafetyBufferRatio,
		cfg.Budget.CharsPerToken,
	)
	if err != nil {
		return nil, err
	}

	return &Services{
		Docs:     docs,
		Embedder: embedder,
		OAuth2:   oauth,
		Tools:    registry,
		Conv:     conv,
		Toolset:  toolset,
		Limiter:  limiter,
		Backoff:  backoff,
		Subagent: mgr,
		Log:      log,
		Metrics:  collector,
		Budget:   budgetCfg,
		Cfg:      cfg,
	}, nil
}

// Close releases resources opened by New. Safe to call even if New
// returned a partially-initialized Services on error.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	if s.Log != nil {
		_ = s.Log.Close()
	}
	if s.Metrics != nil {
		_ = s.Metrics.Close()
	}
	if s.Docs != nil {
		return s.Docs.Close()
	}
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.Wrap(errs.InternalError, "resolving home directory", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func ensureParentDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.InternalError, "creating parent directory "+dir, err)
	}
	return nil
}
