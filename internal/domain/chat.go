package domain

// Chat message roles shared by the adapters and the LLM integration.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// adapters and LLM integrations. ToolCallID and ToolCalls are only set on
// messages participating in a tool-call exchange.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResult is one assistant turn: final text, tool calls to execute, or
// occasionally both.
type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolDefinition declares a callable tool: a name, a description and a JSON
// schema for its arguments.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
