// Package model defines the chat-model port used by generation nodes and
// adapters for hosted providers.
package model

import "context"

// ChatModel is a provider-neutral chat completion interface.
//
// Implementations must be safe for concurrent use and should respect ctx
// cancellation. Transient provider failures are returned as errors;
// wrap a model with WithRetry to retry them.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation entry.
type Message struct {
	Role    string
	Content string

	// ToolCalls are the calls an assistant message made.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string

	// Schema is a JSON Schema object describing the arguments.
	Schema map[string]interface{}

	// Required forces the model to call this tool instead of answering
	// in text. At most one tool per request should set it.
	Required bool
}

// ChatOut is a model response.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// RequiredTool returns the tool the model must call, if any.
func RequiredTool(tools []ToolSpec) (ToolSpec, bool) {
	for _, t := range tools {
		if t.Required {
			return t, true
		}
	}
	return ToolSpec{}, false
}

// SchemaProperties splits a JSON Schema object into its properties and
// required list, accepting both []string and []interface{} for "required".
func SchemaProperties(schema map[string]interface{}) (map[string]interface{}, []string) {
	props, _ := schema["properties"].(map[string]interface{})
	switch req := schema["required"].(type) {
	case []string:
		return props, req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return props, out
	}
	return props, nil
}
