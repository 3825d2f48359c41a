package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"meridian/pkg/aliases"
	"meridian/pkg/config"
	"meridian/pkg/harness"
	"meridian/pkg/oauth2store"
	backendAnthropicP "meridian/pkg/backend/anthropic"
	harnessAnthropicP "meridian/pkg/harness/anthropic"
	harnessCodexP "meridian/pkg/harness/codex"
	harnessOpenaiP "meridian/pkg/harness/openai"
	"meridian/pkg/protocol"
	"meridian/pkg/router"
	"meridian/pkg/services"
	"meridian/pkg/sse"
	"meridian/pkg/turnloop"
)

type toolFlags []string

type outputFlags []string

func (t *toolFlags) String() string { return strings.Join(*t, ",") }
func (t *toolFlags) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func (o *outputFlags) String() string { return strings.Join(*o, ",") }
func (o *outputFlags) Set(v string) error {
	*o = append(*o, v)
	return nil
}

var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "--version", "version", "-v":
		fmt.Println(Version)
		return
	case "exec":
		if err := runExec(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "auth":
		if err := runAuth(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "aliases":
		if err := runAliases(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "agent":
		if err := runAgent(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func runExec(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cfg := config.LoadFrom(configPathFromArgs(args))

	var prompt string
	var model string
	var instructions string
	var instructionsAlt string
	var appendSystemPrompt string
	var trace bool
	var jsonOnly bool
	var allowRefresh bool
	var autoTools bool
	var webSearch bool
	var toolChoice string
	var inputJSON string
	var mock bool
	var mockMode string
	var nativeTools bool
	var tools toolFlags
	var outputs outputFlags
	var sessionID string
	var images toolFlags
	var logRequests string
	var logResponses string
	var providerKey string

	configPath := fs.String("config", config.DefaultPath(), "Config file path")
	fs.StringVar(&prompt, "prompt", "", "User prompt")
	fs.StringVar(&model, "model", cfg.Exec.Model, "Model name")
	fs.StringVar(&instructions, "instructions", cfg.Exec.Instructions, "Optional system instructions")
	fs.StringVar(&instructionsAlt, "system", "", "Alias for --instructions")
	fs.StringVar(&appendSystemPrompt, "append-system-prompt", cfg.Exec.AppendSystem, "Append to system instructions")
	fs.BoolVar(&trace, "trace", false, "Print raw SSE event JSON")
	fs.BoolVar(&jsonOnly, "json", false, "Emit JSON events only (no text output)")
	fs.BoolVar(&allowRefresh, "allow-refresh", cfg.Exec.AllowRefresh, "Allow network token refresh on 401")
	fs.BoolVar(&autoTools, "auto-tools", cfg.Exec.AutoToolsEnabled, "Automatically run tool loop with static outputs")
	fs.BoolVar(&webSearch, "web-search", cfg.Exec.WebSearch, "Enable web_search tool")
	fs.StringVar(&toolChoice, "tool-choice", cfg.Exec.ToolChoice, "Tool choice: auto|required|function:<name>")
	fs.StringVar(&inputJSON, "input-json", "", "JSON array of response input items (overrides --prompt)")
	fs.BoolVar(&mock, "mock", cfg.Exec.MockEnabled, "Mock mode: no network, emit synthetic stream")
	fs.StringVar(&mockMode, "mock-mode", cfg.Exec.MockMode, "Mock mode: echo|text|tool-call|tool-loop")
	fs.Var(&tools, "tool", "Tool spec (repeatable): web_search or name:json=/path/schema.json")
	fs.Var(&outputs, "tool-output", "Static tool output: name=value or name=$args (repeatable)")
	fs.StringVar(&sessionID, "session-id", "", "Optional session id (reuses prompt cache key)")
	fs.Var(&images, "image", "Image path (ignored; accepted for OpenClaw CLI compatibility)")
	fs.StringVar(&logRequests, "log-requests", "", "Write JSON request payload to file")
	fs.StringVar(&logResponses, "log-responses", "", "Append JSONL response events to file")
	fs.StringVar(&providerKey, "provider-key", "", "API key for non-Codex backends (or set via env per provider)")
	fs.BoolVar(&nativeTools, "native-tools", false, "Use Codex native tools (shell, apply_patch, update_plan) instead of proxy mode")

	if err := fs.Parse(args); err != nil {
		return err
	}
	_ = configPath
	if strings.TrimSpace(prompt) == "" && strings.TrimSpace(inputJSON) == "" {
		return errors.New("--prompt is required unless --input-json is provided")
	}

	creds, err := resolveCodexCredentials(cfg)
	if err != nil {
		return err
	}

	if strings.TrimSpace(sessionID) == "" {
		sessionID, err = newSessionID()
		if err != nil {
			return err
		}
	}

	toolSpecs, err := parseToolSpecs(tools)
	if err != nil {
		return err
	}
	if webSearch {
		toolSpecs = append(toolSpecs, protocol.ToolSpec{Type: "web_search", ExternalWebAccess: true})
	}

	if strings.TrimSpace(instructions) == "" && strings.TrimSpace(instructionsAlt) != "" {
		instructions = instructionsAlt
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = "You are a helpful assistant."
	}
	if strings.TrimSpace(appendSystemPrompt) != "" {
		instructions = strings.TrimSpace(instructions) + "\n\n" + strings.TrimSpace(appendSystemPrompt)
	}

	inputItems := []protocol.ResponseInputItem{protocol.UserMessage(prompt)}
	if strings.TrimSpace(inputJSON) != "" {
		buf, err := os.ReadFile(inputJSON)
		if err != nil {
			return fmt.Errorf("read input json: %w", err)
		}
		if err := json.Unmarshal(buf, &inputItems); err != nil {
			return fmt.Errorf("parse input json: %w", err)
		}
	}

	// Build the harness Turn from exec args
	turn := &harness.Turn{
		Model:        model,
		Instructions: instructions,
	}
	// Convert input items to harness messages
	for _, item := range inputItems {
		switch item.Type {
		case "message":
			text := ""
			for _, part := range item.Content {
				text += part.Text
			}
			turn.Messages = append(turn.Messages, harness.Message{
				Role:    item.Role,
				Content: text,
			})
		case "function_call":
			turn.Messages = append(turn.Messages, harness.Message{
				Role:    "assistant",
				Content: item.Arguments,
				Name:    item.Name,
				ToolID:  item.CallID,
			})
		case "function_call_output":
			turn.Messages = append(turn.Messages, harness.Message{
				Role:    "tool",
				Content: item.Output,
				ToolID:  item.CallID,
			})
		}
	}
	// Convert tool specs to harness format
	for _, t := range toolSpecs {
		if t.Type == "function" {
			var params map[string]any
			if t.Parameters != nil {
				_ = json.Unmarshal(t.Parameters, &params)
			}
			turn.Tools = append(turn.Tools, harness.ToolSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			})
		}
	}

	// Build protocol request for mock/logging
	req := protocol.ResponsesRequest{
		Model:             model,
		Instructions:      instructions,
		Input:             inputItems,
		Tools:             toolSpecs,
		ToolChoice:        normalizeToolChoice(toolChoice),
		ParallelToolCalls: false,
		Store:             false,
		Stream:            true,
		Include:           []string{},
		PromptCacheKey:    sessionID,
	}

	if logRequests != "" {
		if payload, err := json.MarshalIndent(req, "", "  "); err == nil {
			_ = os.WriteFile(logRequests, payload, 0o600)
		}
	}

	if mock {
		return emitMockStream(req, jsonOnly, logResponses, mockMode)
	}

	// Build the Codex harness
	baseURL := cfg.Client.BaseURL
	if baseURL == "" {
		baseURL = "https://chatgpt.com/backend-api/codex"
	}
	codexClient := harnessCodexP.NewClient(nil, creds, harnessCodexP.ClientConfig{
		SessionID:    sessionID,
		AllowRefresh: allowRefresh,
		BaseURL:      baseURL,
		Originator:   cfg.Client.Originator,
		UserAgent:    cfg.Client.UserAgent,
		RetryMax:     cfg.Client.RetryMax,
		RetryDelay:   cfg.Client.RetryDelay,
	})
	h := harnessCodexP.New(harnessCodexP.Config{
		Client:      codexClient,
		NativeTools: nativeTools,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Exec.Timeout)
	defer cancel()
	ctx = harness.WithSessionID(ctx, sessionID)

	// Inject provider key into context if provided
	if providerKey != "" {
		ctx = harness.WithProviderKey(ctx, providerKey)
	}

	if autoTools {
		outputs, err := parseToolOutputs(outputs)
		if err != nil {
			return err
		}
		handler := execToolHandler{outputs: outputs}
		result, err := h.RunToolLoop(ctx, turn, handler, harness.LoopOptions{MaxTurns: cfg.Exec.AutoToolsMax})
		if err != nil {
			return err
		}
		if !jsonOnly {
			fmt.Print(result.FinalText)
		}
		return nil
	}

	return h.StreamTurn(ctx, turn, func(ev harness.Event) error {
		if logResponses != "" {
			if f, err := os.OpenFile(logResponses, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				buf, _ := json.Marshal(ev)
				_, _ = f.Write(append(buf, '\n'))
				_ = f.Close()
			}
		}
		if jsonOnly {
			switch ev.Kind {
			case harness.EventError:
				errMsg := "unknown error"
				if ev.Error != nil {
					errMsg = ev.Error.Message
				}
				payload := struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				}{Type: "error", Message: errMsg}
				buf, _ := json.Marshal(payload)
				fmt.Println(string(buf))
				return nil
			case harness.EventToolCall:
				if ev.ToolCall != nil {
					buf, _ := json.Marshal(ev)
					fmt.Println(string(buf))
				}
				return nil
			}
			buf, _ := json.Marshal(ev)
			fmt.Println(string(buf))
			return nil
		}
		if trace {
			buf, _ := json.Marshal(ev)
			fmt.Println(string(buf))
		}
		switch ev.Kind {
		case harness.EventText:
			if ev.Text != nil {
				fmt.Print(ev.Text.Delta)
			}
		}
		return nil
	})
}

func extractErrorMessage(raw json.RawMessage) string {
	var payload struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if strings.TrimSpace(payload.Message) != "" {
		return payload.Message
	}
	if strings.TrimSpace(payload.Error.Message) != "" {
		return payload.Error.Message
	}
	return ""
}

func normalizeToolChoice(choice string) string {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return "auto"
	}
	return choice
}

func emitMockStream(req protocol.ResponsesRequest, jsonOnly bool, logResponses string, mode string) error {
	mode = strings.TrimSpace(strings.ToLower(mode))
	if mode == "" {
		mode = "echo"
	}

	created := map[string]any{
		"type": "response.created",
		"response": map[string]any{
			"id":     "mock-response",
			"object": "response",
			"status": "in_progress",
		},
	}
	completed := map[string]any{
		"type": "response.completed",
		"response": map[string]any{
			"id":     "mock-response",
			"object": "response",
			"status": "completed",
		},
	}

	chunks := []map[string]any{created}

	switch mode {
	case "text":
		for _, piece := range splitText("mock response text", 800) {
			chunks = append(chunks, map[string]any{
				"type":  "response.output_text.delta",
				"delta": piece,
			})
		}
	case "tool-call":
		chunks = append(chunks,
			map[string]any{
				"type": "response.output_item.added",
				"item": map[string]any{
					"id":      "fc_mock",
					"type":    "function_call",
					"call_id": "call_mock",
					"name":    "mock_tool",
				},
			},
			map[string]any{
				"type":    "response.function_call_arguments.delta",
				"item_id": "fc_mock",
				"delta":   "{\"value\":42}",
			},
			map[string]any{
				"type": "response.output_item.done",
				"item": map[string]any{
					"id":        "fc_mock",
					"type":      "function_call",
					"call_id":   "call_mock",
					"name":      "mock_tool",
					"arguments": "{\"value\":42}",
				},
			},
		)
	case "tool-loop":
		chunks = append(chunks,
			map[string]any{
				"type": "response.output_item.added",
				"item": map[string]any{
					"id":      "fc_mock",
					"type":    "function_call",
					"call_id": "call_mock",
					"name":    "mock_tool",
				},
			},
			map[string]any{
				"type":    "response.function_call_arguments.delta",
				"item_id": "fc_mock",
				"delta":   "{\"value\":42}",
			},
			map[string]any{
				"type": "response.output_item.done",
				"item": map[string]any{
					"id":        "fc_mock",
					"type":      "function_call",
					"call_id":   "call_mock",
					"name":      "mock_tool",
					"arguments": "{\"value\":42}",
				},
			},
			map[string]any{
				"type":  "response.output_text.delta",
				"delta": "mock tool result: ok",
			},
		)
	default:
		payload, _ := json.Marshal(req)
		text := string(payload)
		for _, piece := range splitText(text, 800) {
			chunks = append(chunks, map[string]any{
				"type":  "response.output_text.delta",
				"delta": piece,
			})
		}
	}

	chunks = append(chunks, completed)

	for _, ev := range chunks {
		buf, _ := json.Marshal(ev)
		if logResponses != "" {
			if f, err := os.OpenFile(logResponses, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				_, _ = f.Write(append(buf, '\n'))
				_ = f.Close()
			}
		}
		if jsonOnly {
			fmt.Println(string(buf))
		} else if ev["type"] == "response.output_text.delta" {
			fmt.Print(ev["delta"].(string))
		}
	}
	return nil
}

func splitText(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func parseToolSpecs(flags []string) ([]protocol.ToolSpec, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	tools := make([]protocol.ToolSpec, 0, len(flags))
	for _, raw := range flags {
		if raw == "web_search" {
			tools = append(tools, protocol.ToolSpec{Type: "web_search", ExternalWebAccess: true})
			continue
		}
		name, path, ok := strings.Cut(raw, ":json=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("invalid --tool %q; expected web_search or name:json=path", raw)
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tool schema %s: %w", path, err)
		}
		var rawSchema json.RawMessage
		if err := json.Unmarshal(buf, &rawSchema); err != nil {
			return nil, fmt.Errorf("parse tool schema %s: %w", path, err)
		}
		tools = append(tools, protocol.ToolSpec{
			Type:       "function",
			Name:       name,
			Parameters: rawSchema,
			Strict:     false,
		})
	}
	return tools, nil
}

func newSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}


// aliasModelLister adapts a harness to the aliases.ModelLister interface.
type aliasModelLister struct {
	listFn func(ctx context.Context) ([]aliases.ModelInfo, error)
}

func (a *aliasModelLister) ListModels(ctx context.Context) ([]aliases.ModelInfo, error) {
	return a.listFn(ctx)
}


func envOrDefault(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func envBool(key string) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return false
	}
	val = strings.ToLower(val)
	return val == "1" || val == "true" || val == "yes"
}

func envInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return out
}

func envInt64(key string, fallback int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	out, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return out
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func defaultInt64(value, fallback int64) int64 {
	if value == 0 {
		return fallback
	}
	return value
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return strings.Replace(path, "~", home, 1)
		}
	}
	return path
}

func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return config.DefaultPath()
}

func runAuth(args []string) error {
	if len(args) == 0 {
		return runAuthStatus()
	}

	switch args[0] {
	case "status":
		return runAuthStatus()
	case "setup":
		return runAuthSetup()
	default:
		return fmt.Errorf("unknown auth command: %s (use 'status' or 'setup')", args[0])
	}
}

// AuthStatus holds the status of a backend's authentication.
type AuthStatus struct {
	Backend     string
	Configured  bool
	Path        string
	ExpiresAt   time.Time
	Error       string
}

func runAuthStatus() error {
	fmt.Println("meridian authentication status")
	fmt.Println("===========================")
	fmt.Println()

	// Check Codex
	codexStatus := checkCodexAuth()
	printAuthStatus("Codex", codexStatus)

	// Check Anthropic
	anthropicStatus := checkAnthropicAuth()
	printAuthStatus("Anthropic", anthropicStatus)

	return nil
}

func printAuthStatus(name string, status AuthStatus) {
	if status.Configured {
		fmt.Printf("%-12s ✅ configured\n", name+":")
		fmt.Printf("             Path: %s\n", status.Path)
		if !status.ExpiresAt.IsZero() {
			if status.ExpiresAt.After(time.Now()) {
				fmt.Printf("             Expires: %s\n", status.ExpiresAt.Format("2006-01-02 15:04"))
			} else {
				fmt.Printf("             ⚠️  Expired: %s\n", status.ExpiresAt.Format("2006-01-02 15:04"))
			}
		}
	} else {
		fmt.Printf("%-12s ❌ not configured\n", name+":")
		if status.Path != "" {
			fmt.Printf("             Expected: %s\n", status.Path)
		}
		if status.Error != "" {
			fmt.Printf("             Error: %s\n", status.Error)
		}
	}
	fmt.Println()
}

func checkCodexAuth() AuthStatus {
	home, _ := os.UserHomeDir()
	path := home + "/.codex/auth.json"

	status := AuthStatus{
		Backend: "codex",
		Path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			status.Error = "file not found"
		} else {
			status.Error = err.Error()
		}
		return status
	}

	// Codex auth.json structure: { auth_mode, tokens: { access_token, ... } }
	var auth struct {
		AuthMode string `json:"auth_mode"`
		APIKey   string `json:"OPENAI_API_KEY"`
		Tokens   struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(data, &auth); err != nil {
		status.Error = "invalid JSON: " + err.Error()
		return status
	}

	// Check for API key mode
	if auth.AuthMode == "api_key" && auth.APIKey != "" {
		status.Configured = true
		return status
	}

	// Check for OAuth/ChatGPT mode
	if auth.Tokens.AccessToken != "" {
		status.Configured = true
		return status
	}

	status.Error = "no credentials found (no access_token or API key)"
	return status
}

func checkAnthropicAuth() AuthStatus {
	home, _ := os.UserHomeDir()
	path := home + "/.claude/.credentials.json"

	status := AuthStatus{
		Backend: "anthropic",
		Path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			status.Error = "file not found"
		} else {
			status.Error = err.Error()
		}
		return status
	}

	var creds struct {
		ClaudeAiOauth struct {
			AccessToken string `json:"accessToken"`
			ExpiresAt   int64  `json:"expiresAt"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		status.Error = "invalid JSON: " + err.Error()
		return status
	}

	if creds.ClaudeAiOauth.AccessToken == "" {
		status.Error = "no accessToken found"
		return status
	}

	status.Configured = true
	if creds.ClaudeAiOauth.ExpiresAt > 0 {
		// Claude uses milliseconds
		status.ExpiresAt = time.UnixMilli(creds.ClaudeAiOauth.ExpiresAt)
	}
	return status
}

func runAuthSetup() error {
	fmt.Println("meridian authentication setup")
	fmt.Println("==========================")
	fmt.Println()

	// Check current status
	codexStatus := checkCodexAuth()
	anthropicStatus := checkAnthropicAuth()

	allConfigured := codexStatus.Configured && anthropicStatus.Configured

	if allConfigured {
		fmt.Println("✅ All backends are already configured!")
		fmt.Println()
		runAuthStatus()
		return nil
	}

	// Setup missing backends
	if !codexStatus.Configured {
		fmt.Println("Setting up Codex authentication...")
		fmt.Println("──────────────────────────────────")
		fmt.Println()
		fmt.Println("Codex uses OAuth authentication via the Codex CLI.")
		fmt.Println()
		fmt.Println("To authenticate:")
		fmt.Println("  1. Install Codex CLI:  npm install -g @anthropic/codex")
		fmt.Println("  2. Run:                codex auth")
		fmt.Println("  3. Follow the browser prompts to sign in")
		fmt.Println()
		fmt.Printf("  Credentials will be saved to: %s\n", codexStatus.Path)
		fmt.Println()

		if promptYesNo("Would you like to run 'codex auth' now?") {
			fmt.Println()
			fmt.Println("Running: codex auth")
			fmt.Println()
			cmd := execCommand("codex", "auth")
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				fmt.Printf("⚠️  codex auth failed: %v\n", err)
				fmt.Println("   You may need to install it first: npm install -g @anthropic/codex")
			} else {
				fmt.Println()
				fmt.Println("✅ Codex authentication complete!")
			}
		}
		fmt.Println()
	} else {
		fmt.Println("✅ Codex: already configured")
		fmt.Println()
	}

	if !anthropicStatus.Configured {
		fmt.Println("Setting up Anthropic authentication...")
		fmt.Println("───────────────────────────────────────")
		fmt.Println()
		fmt.Println("Anthropic uses OAuth via the Claude Code CLI.")
		fmt.Println()
		fmt.Println("To authenticate:")
		fmt.Println("  1. Install Claude Code: npm install -g @anthropic-ai/claude-code")
		fmt.Println("  2. Run:                 claude auth login")
		fmt.Println("  3. Follow the browser prompts to sign in")
		fmt.Println()
		fmt.Printf("  Credentials will be saved to: %s\n", anthropicStatus.Path)
		fmt.Println()

		if promptYesNo("Would you like to run 'claude auth login' now?") {
			fmt.Println()
			fmt.Println("Running: claude auth login")
			fmt.Println()
			cmd := execCommand("claude", "auth", "login")
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				fmt.Printf("⚠️  claude auth login failed: %v\n", err)
				fmt.Println("   You may need to install it first: npm install -g @anthropic-ai/claude-code")
			} else {
				fmt.Println()
				fmt.Println("✅ Anthropic authentication complete!")
			}
		}
		fmt.Println()
	} else {
		fmt.Println("✅ Anthropic: already configured")
		fmt.Println()
	}

	// Final status
	fmt.Println("─────────────────────────────────")
	fmt.Println("Final status:")
	fmt.Println()
	return runAuthStatus()
}

func promptYesNo(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// execCommand wraps exec.Command for testability
var execCommand = func(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

// streamClient is a unified interface for exec streaming.
// It names the StreamResponses and RunToolLoop methods of the Codex client.
type streamClient interface {
	StreamResponses(ctx context.Context, req protocol.ResponsesRequest, onEvent func(sse.Event) error) error
	RunToolLoop(ctx context.Context, req protocol.ResponsesRequest, handler harnessCodexP.ToolLoopHandler, opts harnessCodexP.ToolLoopOptions) (harnessCodexP.StreamResult, error)
}

// resolveClient builds the Codex-wire-format client for model. The model
// name does not select a different client: every model goes through it.
func resolveClient(model string, creds harnessCodexP.Credentials, cfg config.Config, allowRefresh bool, sessionID, providerKey string) (*harnessCodexP.Client, error) {
	// For now, all exec paths use the Codex-wire-format client.
	// The Codex endpoint handles routing for non-Codex models via the proxy.
	// Direct Anthropic/Gemini exec would need the harness path, but that's a future enhancement.
	baseURL := cfg.Client.BaseURL
	if baseURL == "" {
		baseURL = "https://chatgpt.com/backend-api/codex"
	}
	c := harnessCodexP.NewClient(nil, creds, harnessCodexP.ClientConfig{
		SessionID:    sessionID,
		AllowRefresh: allowRefresh,
		BaseURL:      baseURL,
		Originator:   cfg.Client.Originator,
		UserAgent:    cfg.Client.UserAgent,
		RetryMax:     cfg.Client.RetryMax,
		RetryDelay:   cfg.Client.RetryDelay,
	})
	return c, nil
}

// resolveCodexCredentials opens the encrypted OAuth2 store at cfg.OAuth2.Path
// and delegates to codexCredentialsFromStore. Callers that already hold a
// Services bundle (e.g. runAgent) should use codexCredentialsFromStore
// against svc.OAuth2 instead of opening a second, independent Store over
// the same file.
func resolveCodexCredentials(cfg config.Config) (harnessCodexP.Credentials, error) {
	storePath := expandHome(cfg.OAuth2.Path)
	store, err := oauth2store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("opening oauth2 store: %w", err)
	}
	return codexCredentialsFromStore(store, cfg)
}

// codexCredentialsFromStore returns a Credentials bound to store's "openai"
// provider record. If the store has no record yet, it imports one from the
// real Codex CLI's on-disk auth.json (chatgpt OAuth mode) or, for a bare API
// key (api_key mode, which oauth2store doesn't model since it has no
// refresh cycle), falls back to a StaticCredentials wrapping that key
// directly.
func codexCredentialsFromStore(store *oauth2store.Store, cfg config.Config) (harnessCodexP.Credentials, error) {
	const account = "default"
	if !store.HasToken("openai", account) {
		legacyPath, err := oauth2store.DefaultLegacyCodexAuthPath()
		if err == nil {
			if rec, err := oauth2store.ImportLegacyCodexAuth(legacyPath); err == nil {
				if err := store.Import(rec); err != nil {
					return nil, fmt.Errorf("importing legacy codex credentials: %w", err)
				}
			} else if key, ok := legacyCodexAPIKey(legacyPath); ok {
				return harnessCodexP.StaticCredentials{Token: key}, nil
			}
		}
	}

	return oauth2store.NewCodexCredentials(store, account, cfg.Auth.ClientID, ""), nil
}

// legacyCodexAPIKey reads a Codex CLI auth.json in api_key mode, which
// oauth2store.ImportLegacyCodexAuth rejects since it carries no OAuth2
// token pair for the store to manage.
func legacyCodexAPIKey(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var f struct {
		AuthMode string `json:"auth_mode"`
		APIKey   string `json:"OPENAI_API_KEY"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return "", false
	}
	if f.AuthMode == "api_key" && f.APIKey != "" {
		return f.APIKey, true
	}
	return "", false
}

// runAgent drives one user message through the full agentic turn loop:
// persistent conversation history, budget trimming, the real tool
// registry (shell/file/memory/subagent tools, not exec's static
// --tool-output stand-ins), and repeated rounds until the model stops
// calling tools. Unlike exec, state survives across invocations via
// --session-id and the configured document store.
func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cfg := config.LoadFrom(configPathFromArgs(args))

	var prompt string
	var model string
	var instructions string
	var sessionID string
	var allowRefresh bool
	var jsonOnly bool
	var trace bool
	var providerKey string
	var metricsAddr string

	configPath := fs.String("config", config.DefaultPath(), "Config file path")
	fs.StringVar(&prompt, "prompt", "", "User prompt")
	fs.StringVar(&model, "model", cfg.Exec.Model, "Model name")
	fs.StringVar(&instructions, "instructions", cfg.Exec.Instructions, "Optional system instructions")
	fs.StringVar(&sessionID, "session-id", "", "Optional session id (reuses prompt cache key)")
	fs.BoolVar(&allowRefresh, "allow-refresh", cfg.Exec.AllowRefresh, "Allow network token refresh on 401")
	fs.BoolVar(&jsonOnly, "json", false, "Emit JSON events only (no text output)")
	fs.BoolVar(&trace, "trace", false, "Print raw event JSON")
	fs.StringVar(&providerKey, "provider-key", "", "API key for non-Codex backends")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics at http://<addr>/metrics alongside the run")

	if err := fs.Parse(args); err != nil {
		return err
	}
	_ = configPath
	if strings.TrimSpace(prompt) == "" {
		return errors.New("--prompt is required")
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = "You are a helpful assistant."
	}

	svc, err := services.New(cfg)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}
	defer svc.Close()

	creds, err := codexCredentialsFromStore(svc.OAuth2, cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID, err = newSessionID()
		if err != nil {
			return err
		}
	}

	client, err := resolveClient(model, creds, cfg, allowRefresh, sessionID, providerKey)
	if err != nil {
		return err
	}
	h := harnessCodexP.New(harnessCodexP.Config{Client: client})

	// Routed through pkg/router even though only one harness is
	// registered today, so HarnessFor's pattern/default dispatch is the
	// same code path a second registered backend (anthropic, openai)
	// would use, not a codepath exercised only by router's own tests.
	rt := router.New(router.Config{Default: "codex"})
	rt.Register("codex", h)

	loop := turnloop.New(rt.HarnessFor(model), svc.Conv, svc.Embedder, svc.Budget, svc.Tools, svc.Limiter, svc.Backoff, turnloop.Config{
		MaxRounds:    cfg.Memory.MaxRounds,
		RecentWindow: cfg.Memory.RecentWindow,
		SemanticK:    cfg.Memory.SemanticK,
	})
	loop.Metrics = svc.Metrics

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", svc.Metrics.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer metricsSrv.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Exec.Timeout)
	defer cancel()
	if providerKey != "" {
		ctx = harness.WithProviderKey(ctx, providerKey)
	}

	template := &harness.Turn{Model: model, Instructions: instructions}
	result, err := loop.Run(ctx, template, prompt, func(ev harness.Event) error {
		if trace {
			buf, _ := json.Marshal(ev)
			fmt.Println(string(buf))
		}
		if jsonOnly {
			buf, _ := json.Marshal(ev)
			fmt.Println(string(buf))
			return nil
		}
		if ev.Kind == harness.EventText && ev.Text != nil {
			fmt.Print(ev.Text.Delta)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !jsonOnly && !trace {
		fmt.Println()
	}
	_ = result
	return nil
}

func runAliases(args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list":
		return runAliasesList(args[1:])
	case "update":
		return runAliasesUpdate(args[1:])
	default:
		return fmt.Errorf("unknown aliases command: %s (use 'list' or 'update')", args[0])
	}
}

func runAliasesList(args []string) error {
	fs := flag.NewFlagSet("aliases list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", config.DefaultPath(), "Config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := config.LoadFrom(*configPath)

	if len(cfg.Proxy.Backends.Routing.Aliases) == 0 {
		fmt.Println("No aliases configured.")
		return nil
	}

	// Sort for deterministic output
	keys := make([]string, 0, len(cfg.Proxy.Backends.Routing.Aliases))
	for k := range cfg.Proxy.Backends.Routing.Aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Printf("%-12s → %s\n", k, cfg.Proxy.Backends.Routing.Aliases[k])
	}
	return nil
}

func runAliasesUpdate(args []string) error {
	fs := flag.NewFlagSet("aliases update", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", config.DefaultPath(), "Config file path")
	dryRun := fs.Bool("dry-run", false, "Show what would change without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := config.LoadFrom(*configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Build available backends
	backends := map[string]aliases.ModelLister{}

	if cfg.Proxy.Backends.Codex.Enabled {
		codexClient := harnessCodexP.NewClient(nil, nil, harnessCodexP.ClientConfig{})
		backends["codex"] = &aliasModelLister{listFn: func(ctx context.Context) ([]aliases.ModelInfo, error) {
			models, err := codexClient.ListModels(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]aliases.ModelInfo, len(models))
			for i, m := range models {
				out[i] = aliases.ModelInfo{ID: m.ID, DisplayName: m.Name}
			}
			return out, nil
		}}
	}

	if cfg.Proxy.Backends.Anthropic.Enabled {
		anthTokens := backendAnthropicP.NewTokenStore(cfg.Proxy.Backends.Anthropic.CredentialsPath)
		if err := anthTokens.Load(); err == nil {
			wrapper := harnessAnthropicP.NewClientWrapper(anthTokens, harnessAnthropicP.ClientConfig{
				DefaultMaxTokens: cfg.Proxy.Backends.Anthropic.DefaultMaxTokens,
			})
			backends["anthropic"] = &aliasModelLister{listFn: func(ctx context.Context) ([]aliases.ModelInfo, error) {
				models, err := wrapper.ListModels(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]aliases.ModelInfo, len(models))
				for i, m := range models {
					out[i] = aliases.ModelInfo{ID: m.ID, DisplayName: m.Name}
				}
				return out, nil
			}}
		} else {
			fmt.Fprintf(os.Stderr, "⚠️  anthropic: %v\n", err)
		}
	}

	for name, bcfg := range cfg.Proxy.Backends.Custom {
		if !bcfg.IsEnabled() {
			continue
		}
		authCfg := bcfg.Auth
		if authCfg.Key == "" && authCfg.KeyEnv != "" {
			authCfg.Key = os.Getenv(authCfg.KeyEnv)
		}
		oaiClient, err := harnessOpenaiP.NewClient(harnessOpenaiP.ClientConfig{
			Name:      name,
			BaseURL:   bcfg.BaseURL,
			Auth:      authCfg,
			Discovery: bcfg.HasDiscovery(),
			Models:    bcfg.Models,
		})
		if err == nil {
			c := oaiClient
			backends[name] = &aliasModelLister{listFn: func(ctx context.Context) ([]aliases.ModelInfo, error) {
				models, err := c.ListModels(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]aliases.ModelInfo, len(models))
				for i, m := range models {
					out[i] = aliases.ModelInfo{ID: m.ID, DisplayName: m.Name}
				}
				return out, nil
			}}
		} else {
			fmt.Fprintf(os.Stderr, "⚠️  %s: %v\n", name, err)
		}
	}

	if len(backends) == 0 {
		return fmt.Errorf("no backends available for model discovery")
	}

	current := cfg.Proxy.Backends.Routing.Aliases
	if current == nil {
		current = map[string]string{}
	}

	results := aliases.Resolve(ctx, backends, current, nil)

	// Display
	anyChanged := false
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(os.Stderr, "⚠️  %-12s %s\n", r.Alias+":", r.Error)
			continue
		}
		if r.Changed {
			fmt.Printf("✅ %-12s %s → %s\n", r.Alias+":", r.Previous, r.Resolved)
			anyChanged = true
		} else {
			fmt.Printf("   %-12s %s (unchanged)\n", r.Alias+":", r.Resolved)
		}
	}

	if !anyChanged {
		fmt.Println("\nAll aliases are up to date.")
		return nil
	}

	if *dryRun {
		fmt.Println("\n(dry run — no changes written)")
		return nil
	}

	// Apply and save
	aliases.ApplyResolutions(current, results)
	if err := config.UpdateAliases(*configPath, current); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println("\n✅ Config updated.")
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: meridian exec --config <path> --prompt \"...\" [--model gpt-5.2-codex] [--tool web_search] [--tool name:json=schema.json] [--web-search] [--tool-choice auto|required|function:<name>] [--input-json path] [--mock --mock-mode echo|text|tool-call|tool-loop] [--auto-tools --tool-output name=value] [--trace] [--json] [--log-requests path] [--log-responses path]")
	fmt.Fprintln(os.Stderr, "       meridian auth status | setup")
	fmt.Fprintln(os.Stderr, "       meridian aliases list | update [--dry-run]")
	fmt.Fprintln(os.Stderr, "       meridian agent --config <path> --prompt \"...\" [--model gpt-5.2-codex] [--session-id id] [--allow-refresh] [--json]")
}
