// Package toolregistry holds tool definitions in registration order and
// renders their parameter schemas in the wire shape each provider dialect
// expects, then dispatches incoming tool calls to the registered executor.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"meridian/pkg/errs"
	"meridian/pkg/schema"
)

// ParamType is the JSON-schema type of a tool parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeArray  ParamType = "array"
	TypeObject ParamType = "object"
)

// Param describes one parameter of a tool's input schema.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// Executor runs a tool against the raw JSON argument string a provider
// sent. It must always return a non-empty JSON result string; a non-nil
// error indicates a programmer error (e.g. a malformed hand-written
// schema), not a tool-level failure — tool-level failures are reported
// inside the JSON result as `{"success":false,"error":...}`.
type Executor func(ctx context.Context, argumentsJSON string) (resultJSON string, err error)

// Tool is one registered tool definition.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Executor    Executor
	validator   *jsonschema.Schema
}

// Call is an incoming tool invocation from a provider.
type Call struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Result is the outcome of dispatching a Call.
type Result struct {
	ToolCallID string
	Result     string // JSON
}

// Dialect selects the wire shape render_schema emits.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
	DialectCodex     Dialect = "codex"
)

// Registry holds tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register copies name, description, params, and executor into owned
// storage. Re-registering an existing name replaces it in place, keeping
// its original registration-order position.
func (r *Registry) Register(name, description string, params []Param, executor Executor) error {
	if name == "" {
		return errs.New(errs.InvalidArgument, "tool name must not be empty")
	}
	if executor == nil {
		return errs.New(errs.InvalidArgument, "tool executor must not be nil")
	}
	ownedParams := append([]Param(nil), params...)
	validator, err := compileValidator(name, ownedParams)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = Tool{Name: name, Description: description, Params: ownedParams, Executor: executor, validator: validator}
	return nil
}

// compileValidator compiles the parameter schema into a reusable
// jsonschema.Schema, so each Dispatch call validates the raw argument
// string before it ever reaches the executor.
func compileValidator(name string, params []Param) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(paramSchema(params))
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "marshaling tool parameter schema", err)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "compiling tool parameter schema", err)
	}
	return compiled, nil
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.order))
	for i, name := range r.order {
		out[i] = r.tools[name]
	}
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Dispatch looks up call.Name and invokes its executor with the raw
// argument string. An unknown tool name yields a `success:false` result
// rather than an error, since the caller still needs a well-formed tool
// reply to send back to the provider.
func (r *Registry) Dispatch(ctx context.Context, call Call) Result {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return Result{
			ToolCallID: call.ID,
			Result:     fmt.Sprintf(`{"success":false,"error":"Unknown tool: %s"}`, call.Name),
		}
	}
	if err := validateArguments(tool, call.Arguments); err != nil {
		return Result{
			ToolCallID: call.ID,
			Result:     fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()),
		}
	}
	result, err := tool.Executor(ctx, call.Arguments)
	if err != nil {
		return Result{
			ToolCallID: call.ID,
			Result:     fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()),
		}
	}
	return Result{ToolCallID: call.ID, Result: result}
}

// validateArguments rejects a tool call whose raw JSON arguments don't
// satisfy the tool's compiled parameter schema, so malformed provider
// output never reaches an executor body.
func validateArguments(tool Tool, argumentsJSON string) error {
	if tool.validator == nil {
		return nil
	}
	raw := argumentsJSON
	if raw == "" {
		raw = "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return fmt.Errorf("invalid arguments JSON: %w", err)
	}
	if err := tool.validator.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

// RenderSchema emits the registered tools' parameter schemas in the wire
// shape the given dialect expects.
func (r *Registry) RenderSchema(dialect Dialect) []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		switch dialect {
		case DialectAnthropic:
			out = append(out, map[string]any{
				"name":         tool.Name,
				"description":  tool.Description,
				"input_schema": paramSchema(tool.Params),
			})
		case DialectCodex:
			flat := map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  paramSchema(tool.Params),
			}
			out = append(out, flat)
		default: // DialectOpenAI and unknown dialects fall back to it
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  schema.NormalizeStrictSchemaNode(paramSchema(tool.Params)),
					"strict":      true,
				},
			})
		}
	}
	return out
}

// ParamSchema renders params as a plain JSON-schema object, the same shape
// RenderSchema embeds per-dialect. Callers that need a provider-neutral tool
// spec (rather than a dialect-specific envelope) use this directly.
func ParamSchema(params []Param) map[string]any {
	return paramSchema(params)
}

func paramSchema(params []Param) map[string]any {
	properties := map[string]any{}
	var required []string
	for _, p := range params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
