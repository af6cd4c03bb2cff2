// Package google provides a ChatModel adapter for the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/solvegraph/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-2.5-flash"

// request is a converted chat exchange ready for Gemini.
type request struct {
	system  *genai.Content
	history []*genai.Content
	last    []genai.Part
	tools   []*genai.Tool
	config  *genai.ToolConfig
}

// googleClient sends a converted request. Tests replace it.
type googleClient interface {
	generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// ChatModel implements model.ChatModel for Gemini.
type ChatModel struct {
	modelName string
	client    googleClient
}

// NewChatModel creates a Gemini-backed ChatModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements model.ChatModel.
//
// Blocked prompts and responses surface as *SafetyFilterError.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req, err := buildRequest(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := m.client.generateContent(ctx, req)
	if err != nil {
		return model.ChatOut{}, err
	}
	if err := checkSafety(resp); err != nil {
		return model.ChatOut{}, err
	}
	return convertResponse(resp), nil
}

// defaultClient opens a genai client per call.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(c.modelName)
	genModel.SystemInstruction = req.system
	genModel.Tools = req.tools
	genModel.ToolConfig = req.config

	session := genModel.StartChat()
	session.History = req.history
	resp, err := session.SendMessage(ctx, req.last...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, blockedError(blocked)
		}
		return nil, fmt.Errorf("google API error: %w", err)
	}
	return resp, nil
}

// buildRequest maps the conversation onto Gemini's user/model turns.
// Tool results become FunctionResponse parts named after the call they
// answer, so the originating call must appear earlier in messages.
func buildRequest(messages []model.Message, tools []model.ToolSpec) (request, error) {
	var req request
	callNames := map[string]string{}

	var turns []*genai.Content
	push := func(role string, parts ...genai.Part) {
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Parts = append(turns[n-1].Parts, parts...)
			return
		}
		turns = append(turns, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if req.system == nil {
				req.system = &genai.Content{}
			}
			req.system.Parts = append(req.system.Parts, genai.Text(msg.Content))
		case model.RoleUser:
			push("user", genai.Text(msg.Content))
		case model.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Input})
			}
			if len(parts) > 0 {
				push("model", parts...)
			}
		case model.RoleTool:
			name, ok := callNames[msg.ToolCallID]
			if !ok {
				return req, fmt.Errorf("google: tool result for unknown call %q", msg.ToolCallID)
			}
			push("user", genai.FunctionResponse{
				Name:     name,
				Response: map[string]any{"content": msg.Content},
			})
		default:
			return req, fmt.Errorf("google: unsupported role %q", msg.Role)
		}
	}

	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return req, errors.New("google: conversation must end with a user turn")
	}
	req.history = turns[:len(turns)-1]
	req.last = turns[len(turns)-1].Parts

	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}
	if forced, ok := model.RequiredTool(tools); ok {
		req.config = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingAny,
				AllowedFunctionNames: []string{forced.Name},
			},
		}
	}
	return req, nil
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema converts a JSON Schema map to genai.Schema, recursing
// into object properties and array items.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	typ, _ := schema["type"].(string)
	if typ == "" {
		typ = "object"
	}
	result := &genai.Schema{Type: convertTypeString(typ)}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}

	props, required := model.SchemaProperties(schema)
	if len(props) > 0 {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}
	result.Required = required

	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}
	return result
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out
	}

	for i, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			// Gemini does not assign call ids.
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    fmt.Sprintf("%s_%d", p.Name, i),
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	return out
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func checkSafety(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return &SafetyFilterError{reason: fb.BlockReason.String(), category: firstBlockedCategory(fb.SafetyRatings)}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return &SafetyFilterError{reason: "SAFETY", category: firstBlockedCategory(resp.Candidates[0].SafetyRatings)}
	}
	return nil
}

func blockedError(err *genai.BlockedError) error {
	if err.PromptFeedback != nil {
		return &SafetyFilterError{
			reason:   err.PromptFeedback.BlockReason.String(),
			category: firstBlockedCategory(err.PromptFeedback.SafetyRatings),
		}
	}
	if err.Candidate != nil {
		return &SafetyFilterError{reason: "SAFETY", category: firstBlockedCategory(err.Candidate.SafetyRatings)}
	}
	return &SafetyFilterError{reason: "SAFETY"}
}

func firstBlockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return r.Category.String()
		}
	}
	return "unknown"
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string { return e.category }

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string { return e.reason }
