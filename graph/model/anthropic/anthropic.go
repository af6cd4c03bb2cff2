// Package anthropic provides a ChatModel adapter for Anthropic's Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/solvegraph/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-sonnet-4-5"

const defaultMaxTokens = 4096

// messagesClient is the slice of the SDK the adapter uses.
type messagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// ChatModel implements model.ChatModel for Claude.
//
// System messages are lifted into the request's system prompt. A tool
// marked Required is forced through tool_choice.
type ChatModel struct {
	client    messagesClient
	modelName string
	maxTokens int64
}

// NewChatModel creates a Claude-backed ChatModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		client:    &client.Messages,
		modelName: modelName,
		maxTokens: defaultMaxTokens,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params, err := m.buildParams(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := m.client.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(resp)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) (sdk.MessageNewParams, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.modelName),
		MaxTokens: m.maxTokens,
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.System = append(params.System, sdk.TextBlockParam{Text: msg.Content})
		case model.RoleUser:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		case model.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, call.Input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		case model.RoleTool:
			if msg.ToolCallID == "" {
				return params, errors.New("anthropic: tool message without call id")
			}
			params.Messages = append(params.Messages,
				sdk.NewUserMessage(sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			return params, fmt.Errorf("anthropic: unsupported role %q", msg.Role)
		}
	}

	for _, t := range tools {
		props, required := model.SchemaProperties(t.Schema)
		tool := sdk.ToolParam{
			Name:        t.Name,
			InputSchema: sdk.ToolInputSchemaParam{Properties: props, Required: required},
		}
		if t.Description != "" {
			tool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{OfTool: &tool})
	}
	if forced, ok := model.RequiredTool(tools); ok {
		params.ToolChoice = sdk.ToolChoiceUnionParam{
			OfTool: &sdk.ToolChoiceToolParam{Name: forced.Name},
		}
	}
	return params, nil
}

func convertResponse(resp *sdk.Message) (model.ChatOut, error) {
	var out model.ChatOut
	if resp == nil {
		return out, nil
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += block.Text
		case "tool_use":
			input := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("anthropic: decode tool input: %w", err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	return out, nil
}

// translateError marks rate limits and server faults as transient.
func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(fmt.Errorf("anthropic: %w", err), apiErr.StatusCode)
	}
	return fmt.Errorf("anthropic: %w", err)
}
