// Package turnloop drives one user message through the full agentic
// cycle: load history, budget and trim it, post a request to the selected
// provider harness, execute any returned tool calls under the rate
// limiter and denial backoff, persist every step to the conversation
// store, and repeat until the model stops calling tools or the round
// cap is reached.
package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meridian/pkg/budget"
	"meridian/pkg/conversation"
	"meridian/pkg/errs"
	"meridian/pkg/harness"
	"meridian/pkg/metrics"
	"meridian/pkg/policy"
	"meridian/pkg/toolregistry"
)

// State names one of the turn loop's five states. Only Run's internal
// bookkeeping uses it; it's exported so callers inspecting OnEvent
// traces or logs can report where a turn stopped.
type State string

const (
	StateReady            State = "ready"
	StateBuildingRequest  State = "building_request"
	StateAwaitingResponse State = "awaiting_response"
	StateExecutingTools   State = "executing_tools"
	StateFinished         State = "finished"
)

// maxToolIterationsMessage is the synthetic assistant message appended and
// surfaced when a turn hits its round cap without the model producing a
// final answer.
const maxToolIterationsMessage = "max tool iterations reached"

// Config bounds a turn loop's behavior. Zero values fall back to the
// defaults spec.md calls out: 25 rounds, a 20-message recent window, and
// 5 semantically-recalled messages when semantic recall is available.
type Config struct {
	MaxRounds          int
	RecentWindow       int
	SemanticK          int
	MaxConcurrentTools int
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 25
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 20
	}
	if c.SemanticK <= 0 {
		c.SemanticK = 5
	}
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = 4
	}
	return c
}

// Loop wires one turn's dependencies together. Every field is required
// except Limiter and Metrics, which are optional (a nil limiter never
// rate-limits).
type Loop struct {
	Harness  harness.Harness
	Conv     *conversation.Store
	Embedder interface{ IsConfigured() bool }
	Budget   budget.Config
	Tools    *toolregistry.Registry
	Limiter  *policy.RateLimiter
	Backoff  *policy.DenialBackoff
	Cfg      Config

	// Metrics records one RequestMetric per round when set. Optional: a
	// nil Metrics collects nothing, matching the zero-value Collector's
	// own disabled-by-default behavior.
	Metrics *metrics.Collector
}

// New builds a Loop from its dependencies, applying Config defaults.
func New(h harness.Harness, conv *conversation.Store, embedder interface{ IsConfigured() bool }, budgetCfg budget.Config, tools *toolregistry.Registry, limiter *policy.RateLimiter, backoff *policy.DenialBackoff, cfg Config) *Loop {
	return &Loop{
		Harness:  h,
		Conv:     conv,
		Embedder: embedder,
		Budget:   budgetCfg,
		Tools:    tools,
		Limiter:  limiter,
		Backoff:  backoff,
		Cfg:      cfg.withDefaults(),
	}
}

// Run drives userMessage through the full turn loop, emitting every
// harness event to onEvent (which may be nil) as it happens. template
// supplies the model, instructions, and the other per-call fields the
// selected harness needs; Run overwrites its Messages and Tools on every
// round (Tools comes from the registry, not from template).
func (l *Loop) Run(ctx context.Context, template *harness.Turn, userMessage string, onEvent func(harness.Event) error) (*harness.TurnResult, error) {
	start := time.Now()
	combined := &harness.TurnResult{}
	pendingUser := userMessage
	toolSpecs := l.toolSpecs()

	for round := 0; round < l.Cfg.MaxRounds; round++ {
		// Ready -> BuildingRequest
		history, err := l.loadHistory(ctx, userMessage)
		if err != nil {
			combined.Duration = time.Since(start)
			return combined, err
		}
		history = l.trimToBudget(template.Instructions, history, pendingUser, len(toolSpecs))

		// BuildingRequest -> AwaitingResponse
		if pendingUser != "" {
			if err := l.Conv.Append(ctx, conversation.RoleUser, pendingUser, "", ""); err != nil {
				combined.Duration = time.Since(start)
				return combined, err
			}
			history = append(history, conversation.Message{Role: conversation.RoleUser, Content: pendingUser})
			pendingUser = ""
		}

		turn := *template
		turn.Messages = toHarnessMessages(history)
		turn.Tools = toolSpecs

		roundStart := time.Now()
		var roundText string
		var roundUsage *harness.UsageEvent
		var pendingCalls []harness.ToolCallEvent
		streamErr := l.Harness.StreamTurn(ctx, &turn, func(ev harness.Event) error {
			ev.Round = round
			combined.Events = append(combined.Events, ev)
			if onEvent != nil {
				if err := onEvent(ev); err != nil {
					return err
				}
			}
			switch ev.Kind {
			case harness.EventText:
				if ev.Text != nil {
					if ev.Text.Complete != "" {
						roundText = ev.Text.Complete
					} else {
						roundText += ev.Text.Delta
					}
				}
			case harness.EventUsage:
				combined.Usage = ev.Usage
				roundUsage = ev.Usage
			case harness.EventToolCall:
				if ev.ToolCall != nil {
					pendingCalls = append(pendingCalls, *ev.ToolCall)
					combined.ToolCalls = append(combined.ToolCalls, *ev.ToolCall)
				}
			}
			return nil
		})
		l.recordRound(roundStart, streamErr, roundUsage)
		if streamErr != nil {
			combined.Duration = time.Since(start)
			return combined, streamErr
		}

		// AwaitingResponse -> Finished
		if len(pendingCalls) == 0 {
			if err := l.Conv.Append(ctx, conversation.RoleAssistant, roundText, "", ""); err != nil {
				combined.Duration = time.Since(start)
				return combined, err
			}
			combined.FinalText = roundText
			combined.Duration = time.Since(start)
			return combined, nil
		}

		// AwaitingResponse -> ExecutingTools -> BuildingRequest
		envelope, err := assistantEnvelope(roundText, pendingCalls)
		if err != nil {
			combined.Duration = time.Since(start)
			return combined, err
		}
		if err := l.Conv.Append(ctx, conversation.RoleAssistant, envelope, "", ""); err != nil {
			combined.Duration = time.Since(start)
			return combined, err
		}

		// Tool calls in a round dispatch concurrently (bounded worker
		// pool), but results are always appended in the order the model
		// emitted the calls, never completion order.
		results := dispatchBatch(ctx, pendingCalls, l.Cfg.MaxConcurrentTools, l.dispatch)
		for i, call := range pendingCalls {
			result := results[i]
			combined.Events = append(combined.Events, harness.NewToolResultEvent(result.ToolCallID, result.Result, isErrorResult(result.Result)))
			if err := l.Conv.Append(ctx, conversation.RoleTool, result.Result, call.CallID, call.Name); err != nil {
				combined.Duration = time.Since(start)
				return combined, err
			}
		}
		if err := ctx.Err(); err != nil {
			combined.Duration = time.Since(start)
			return combined, err
		}
		// Back to Ready for another round, without a new user message.
	}

	if err := l.Conv.Append(ctx, conversation.RoleAssistant, maxToolIterationsMessage, "", ""); err != nil {
		combined.Duration = time.Since(start)
		return combined, err
	}
	combined.FinalText = maxToolIterationsMessage
	combined.Duration = time.Since(start)
	return combined, nil
}

// toolSpecs renders the registry's tools as provider-neutral specs; each
// harness adapter (C8) translates them into its own wire dialect.
func (l *Loop) toolSpecs() []harness.ToolSpec {
	tools := l.Tools.List()
	out := make([]harness.ToolSpec, len(tools))
	for i, tool := range tools {
		out[i] = harness.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toolregistry.ParamSchema(tool.Params),
		}
	}
	return out
}

// loadHistory implements spec.md's load_extended/load_window choice: the
// semantic-recall path only runs when the embedder is configured.
func (l *Loop) loadHistory(ctx context.Context, query string) ([]conversation.Message, error) {
	if l.Embedder != nil && l.Embedder.IsConfigured() {
		return l.Conv.LoadExtended(ctx, l.Cfg.RecentWindow, l.Cfg.SemanticK, query)
	}
	return l.Conv.LoadWindow(ctx, l.Cfg.RecentWindow)
}

// trimToBudget drops history from the head, tool-pair preserving, until
// the remainder fits the token budget alongside nextUserMessage.
func (l *Loop) trimToBudget(systemPrompt string, history []conversation.Message, nextUserMessage string, toolSchemaCount int) []conversation.Message {
	budgetMsgs := toBudgetMessages(history)
	usage := l.Budget.Allocate(systemPrompt, budgetMsgs, nextUserMessage, toolSchemaCount)
	if l.Budget.Fits(usage) {
		return history
	}
	_, dropped := budget.Trim(l.Budget, systemPrompt, budgetMsgs, nextUserMessage, toolSchemaCount)
	if dropped >= len(history) {
		return nil
	}
	return history[dropped:]
}

// recordRound reports one round's latency, status, and token usage to
// Metrics, identifying the backend by the harness's own Name(). A nil
// Metrics is a no-op, matching the optional field's documented behavior.
func (l *Loop) recordRound(start time.Time, streamErr error, usage *harness.UsageEvent) {
	if l.Metrics == nil {
		return
	}
	m := metrics.RequestMetric{
		Timestamp: start,
		Backend:   l.Harness.Name(),
		Latency:   time.Since(start),
		Status:    "ok",
	}
	if streamErr != nil {
		m.Status = "error"
		m.Error = streamErr.Error()
	}
	if usage != nil {
		m.TokensIn = usage.InputTokens
		m.TokensOut = usage.OutputTokens
	}
	l.Metrics.Record(m)
}

// dispatch consults the rate limiter and denial backoff before calling
// through to the tool registry. A blocked or rate-limited call never
// reaches the executor; it gets a synthetic failure result instead.
func (l *Loop) dispatch(ctx context.Context, call harness.ToolCallEvent) toolregistry.Result {
	if blocked, remaining := l.Backoff.Blocked(call.Name); blocked {
		return syntheticResult(call.CallID, fmt.Sprintf("tool %q is in backoff cooldown for %s after repeated denials", call.Name, remaining.Round(time.Second)))
	}
	if l.Limiter != nil && !l.Limiter.Allow(call.Name) {
		l.Backoff.Denied(call.Name)
		return syntheticResult(call.CallID, fmt.Sprintf("tool %q is rate-limited", call.Name))
	}
	l.Backoff.Allowed(call.Name)
	return l.Tools.Dispatch(ctx, toolregistry.Call{ID: call.CallID, Name: call.Name, Arguments: call.Arguments})
}

// dispatchBatch runs dispatch for every call in calls, at most
// maxConcurrent at a time, and returns one result per call in calls'
// order regardless of which goroutine finishes first. If ctx is already
// canceled before any goroutine is started, every call is synthesized as
// canceled without ever reaching dispatch (and thus never reaching the
// registry or rate limiter).
func dispatchBatch(ctx context.Context, calls []harness.ToolCallEvent, maxConcurrent int, dispatch func(context.Context, harness.ToolCallEvent) toolregistry.Result) []toolregistry.Result {
	results := make([]toolregistry.Result, len(calls))
	if ctx.Err() != nil {
		for i, call := range calls {
			results[i] = canceledResult(call.CallID)
		}
		return results
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call harness.ToolCallEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				results[i] = canceledResult(call.CallID)
				return
			}
			results[i] = dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func syntheticResult(callID, reason string) toolregistry.Result {
	return toolregistry.Result{
		ToolCallID: callID,
		Result:     fmt.Sprintf(`{"success":false,"error":%q}`, reason),
	}
}

func canceledResult(callID string) toolregistry.Result {
	return syntheticResult(callID, "canceled")
}

func isErrorResult(resultJSON string) bool {
	var envelope struct {
		Success *bool `json:"success"`
	}
	if json.Unmarshal([]byte(resultJSON), &envelope) != nil || envelope.Success == nil {
		return false
	}
	return !*envelope.Success
}

func toHarnessMessages(history []conversation.Message) []harness.Message {
	out := make([]harness.Message, len(history))
	for i, m := range history {
		out[i] = harness.Message{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.ToolName,
			ToolID:  m.ToolCallID,
		}
	}
	return out
}

func toBudgetMessages(history []conversation.Message) []budget.Message {
	out := make([]budget.Message, len(history))
	for i, m := range history {
		out[i] = budget.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			IsTool:     m.Role == conversation.RoleTool,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

// assistantEnvelope marshals the round's assistant message the way
// conversation.Store expects it on disk: content is null when the model
// produced no text alongside its tool calls, and tool_calls carries every
// call so conversation.LoadWindow/LoadExtended can keep the assistant
// message paired with its tool replies.
func assistantEnvelope(text string, calls []harness.ToolCallEvent) (string, error) {
	envelope := struct {
		Content   *string            `json:"content"`
		ToolCalls []envelopeToolCall `json:"tool_calls"`
	}{}
	if text != "" {
		envelope.Content = &text
	}
	envelope.ToolCalls = make([]envelopeToolCall, len(calls))
	for i, c := range calls {
		envelope.ToolCalls[i] = envelopeToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments}
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", errs.Wrap(errs.InternalError, "marshaling assistant tool-call envelope", err)
	}
	return string(raw), nil
}

type envelopeToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
