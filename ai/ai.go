// Package ai defines the model invocation gateway used by the worker and the
// inline fast path. Provider adapters live in ai/anthropic and ai/openrouter;
// ai/provider chains them with fallback, rate limiting and usage tracking.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
)

// Gateway generates text for a prompt, optionally calling tools for up to
// MaxSteps rounds.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Role of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a prior conversation turn
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single model invocation
type Request struct {
	SystemPrompt string
	UserPrompt   string
	History      []Message // earlier turns, oldest first
	Tools        []Tool
	MaxSteps     int // tool-use rounds; <= 0 means 1
}

// Steps returns MaxSteps clamped to at least 1
func (r Request) Steps() int {
	if r.MaxSteps <= 0 {
		return 1
	}
	return r.MaxSteps
}

// FindTool returns the tool registered under name, or nil
func (r Request) FindTool(name string) Tool {
	for _, t := range r.Tools {
		if t.Definition().Name == name {
			return t
		}
	}
	return nil
}

// Usage represents token usage summed over every step of an invocation
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates another step's usage
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Response is the final answer of an invocation
type Response struct {
	Text        string       `json:"text"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Provider    string       `json:"provider"`
	Model       string       `json:"model"`
	Usage       Usage        `json:"usage"`
}

// ToolDefinition describes a tool to the model. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Tool is something the model may call during an invocation
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// ToolResult records one tool call made during an invocation
type ToolResult struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
	Output any             `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RunTool executes a tool call and returns both the record and the JSON
// content to feed back to the model. Tool errors, panics included, are
// reported to the model rather than aborting the invocation.
func RunTool(ctx context.Context, req Request, callID, name string, args json.RawMessage) (result ToolResult, content string) {
	result = ToolResult{CallID: callID, Name: name, Args: args}
	defer func() {
		if r := recover(); r != nil {
			result.Output = nil
			result.Error = fmt.Sprintf("tool %s panicked: %v", name, r)
			content = errorContent(result.Error)
		}
	}()

	tool := req.FindTool(name)
	if tool == nil {
		result.Error = "unknown tool: " + name
		return result, errorContent(result.Error)
	}

	out, err := tool.Execute(ctx, args)
	if err != nil {
		result.Error = err.Error()
		return result, errorContent(result.Error)
	}
	result.Output = out

	data, err := json.Marshal(out)
	if err != nil {
		result.Error = "tool output is not JSON serializable: " + err.Error()
		return result, errorContent(result.Error)
	}
	return result, string(data)
}

func errorContent(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
