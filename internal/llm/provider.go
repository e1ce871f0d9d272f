package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxToolIterations caps the tool-call loop so a confused model cannot
// spin forever.
const MaxToolIterations = 10

// ErrNotConfigured is returned by providers missing credentials.
// Callers treat it as "skip the enhancement", never as a failure.
var ErrNotConfigured = errors.New("llm provider not configured")

// Role is who authored a message in the exchange
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation sent to the provider
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolSpec declares a tool the provider may call. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is the provider asking for a tool invocation
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult carries one tool invocation's output back to the provider
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Response is one provider turn: either final text or a batch of tool
// calls, never both.
type Response struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// IsFinal reports whether the provider is done calling tools
func (r *Response) IsFinal() bool {
	return len(r.ToolCalls) == 0
}

// Provider abstracts a chat-completion backend. Implementations live
// at the edge; the core only sees this interface.
type Provider interface {
	ProviderName() string
	IsConfigured() bool
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*Response, error)
	SendToolResults(ctx context.Context, results []ToolResult) (*Response, error)
}

// ToolExecutor runs one requested tool call and returns its result
type ToolExecutor func(ctx context.Context, call ToolCall) ToolResult

// Run drives the chat loop: send the prompt, execute requested tools,
// feed results back, repeat until the provider answers in text or the
// iteration cap trips.
func Run(ctx context.Context, p Provider, messages []Message, tools []ToolSpec, exec ToolExecutor) (string, error) {
	if !p.IsConfigured() {
		return "", ErrNotConfigured
	}

	resp, err := p.Chat(ctx, messages, tools)
	if err != nil {
		return "", fmt.Errorf("chat with %s failed: %w", p.ProviderName(), err)
	}

	for i := 0; i < MaxToolIterations; i++ {
		if resp.IsFinal() {
			return resp.Text, nil
		}

		results := make([]ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, exec(ctx, call))
		}

		resp, err = p.SendToolResults(ctx, results)
		if err != nil {
			return "", fmt.Errorf("tool round with %s failed: %w", p.ProviderName(), err)
		}
	}
	return "", fmt.Errorf("%s exceeded %d tool iterations", p.ProviderName(), MaxToolIterations)
}

// Disabled is the no-op provider wired when no backend is configured
type Disabled struct{}

func (Disabled) ProviderName() string { return "disabled" }
func (Disabled) IsConfigured() bool   { return false }

func (Disabled) Chat(context.Context, []Message, []ToolSpec) (*Response, error) {
	return nil, ErrNotConfigured
}

func (Disabled) SendToolResults(context.Context, []ToolResult) (*Response, error) {
	return nil, ErrNotConfigured
}
