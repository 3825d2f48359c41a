// Package budget estimates token usage for a prompt and enforces the
// context-window budget by trimming conversation history.
package budget

import (
	"math"

	"meridian/pkg/errs"
)

const (
	perToolSchemaOverhead = 50
	perMessageOverhead    = 10
)

// Config is validated token-budget configuration. Construct with NewConfig.
type Config struct {
	ContextWindow     int
	MaxContextWindow  int
	MinResponseTokens int
	SafetyBufferBase  int
	SafetyBufferRatio float64
	CharsPerToken     float64
}

// NewConfig validates and normalizes raw token-budget settings.
func NewConfig(contextWindow, maxContextWindow, minResponseTokens, safetyBufferBase int, safetyBufferRatio, charsPerToken float64) (Config, error) {
	if contextWindow <= 0 {
		return Config{}, errs.New(errs.InvalidArgument, "context_window must be positive")
	}
	if minResponseTokens <= 0 {
		minResponseTokens = 150
	}
	if minResponseTokens >= contextWindow {
		return Config{}, errs.New(errs.InvalidArgument, "min_response_tokens must be less than context_window")
	}
	if charsPerToken <= 0 {
		return Config{}, errs.New(errs.InvalidArgument, "chars_per_token must be positive")
	}
	if safetyBufferBase <= 0 {
		safetyBufferBase = 50
	}
	if maxContextWindow < contextWindow {
		maxContextWindow = contextWindow
	}
	return Config{
		ContextWindow:     contextWindow,
		MaxContextWindow:  maxContextWindow,
		MinResponseTokens: minResponseTokens,
		SafetyBufferBase:  safetyBufferBase,
		SafetyBufferRatio: safetyBufferRatio,
		CharsPerToken:     charsPerToken,
	}, nil
}

// Message is the minimal shape budget needs from a conversation entry.
type Message struct {
	Role       string
	Content    string
	IsTool     bool
	ToolCallID string
}

// Usage is the result of an allocation decision for one turn.
type Usage struct {
	EstimatedPrompt     int
	DynamicSafetyBuffer int
	AvailableResponse   int
}

// Estimate returns the token count of text plus overhead for the given
// count of tool schemas and messages rendered alongside it.
func (c Config) Estimate(text string, toolSchemas, messages int) int {
	return c.estimateText(text) + toolSchemas*perToolSchemaOverhead + messages*perMessageOverhead
}

func (c Config) estimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / c.CharsPerToken))
}

func (c Config) estimateHistory(history []Message) int {
	total := 0
	for _, m := range history {
		total += c.estimateText(m.Content) + perMessageOverhead
	}
	return total
}

// Allocate computes the token usage for the system prompt, serialized
// history, next user message, and tool schema count, and reports how many
// tokens remain for the model's response.
func (c Config) Allocate(systemPrompt string, history []Message, nextUserMessage string, toolSchemaCount int) Usage {
	estimatedPrompt := c.estimateText(systemPrompt) + perMessageOverhead +
		c.estimateHistory(history) +
		c.estimateText(nextUserMessage) + perMessageOverhead +
		toolSchemaCount*perToolSchemaOverhead

	dynamicBuffer := c.SafetyBufferBase + int(float64(c.MaxContextWindow)*c.SafetyBufferRatio)
	if float64(estimatedPrompt) > 0.7*float64(c.MaxContextWindow) {
		dynamicBuffer += 50
	}

	available := c.MaxContextWindow - estimatedPrompt - dynamicBuffer
	return Usage{
		EstimatedPrompt:     estimatedPrompt,
		DynamicSafetyBuffer: dynamicBuffer,
		AvailableResponse:   available,
	}
}

// Fits reports whether usage leaves at least MinResponseTokens for the
// model's response.
func (c Config) Fits(u Usage) bool {
	return u.AvailableResponse >= c.MinResponseTokens
}

// Trim drops the oldest messages from history, pair-preserving (a tool
// message is never left without the assistant message whose tool_calls
// introduced it — both are dropped together), until allocating against
// the remaining history fits the budget or history is exhausted. It
// returns the trimmed history and the count of messages dropped.
func Trim(c Config, systemPrompt string, history []Message, nextUserMessage string, toolSchemaCount int) ([]Message, int) {
	dropped := 0
	for len(history) > 0 {
		usage := c.Allocate(systemPrompt, history, nextUserMessage, toolSchemaCount)
		if c.Fits(usage) {
			break
		}
		n := dropOldestPair(history)
		dropped += n
		history = history[n:]
	}
	return history, dropped
}

// dropOldestPair drops the oldest message, and if that message is an
// assistant message that introduced the tool_call_ids the following tool
// messages depend on, drops those tool messages too. Returns how many
// messages were dropped from the front.
func dropOldestPair(history []Message) int {
	if len(history) == 0 {
		return 0
	}
	// Every tool reply right after the one being dropped would be
	// orphaned, so drop them along with their owner.
	n := 1
	for n < len(history) && history[n].IsTool {
		n++
	}
	return n
}
