// Package openai provides a ChatModel adapter for OpenAI chat completions.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/solvegraph/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gpt-4o"

// completionsClient is the slice of the SDK the adapter uses.
type completionsClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// ChatModel implements model.ChatModel for OpenAI models.
type ChatModel struct {
	client    completionsClient
	modelName string
}

// NewChatModel creates an OpenAI-backed ChatModel. Extra request options
// such as option.WithBaseURL allow compatible endpoints.
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := sdk.NewClient(opts...)
	return &ChatModel{client: &client.Chat.Completions, modelName: modelName}
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

	completion, err := m.client.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(completion)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) (sdk.ChatCompletionNewParams, error) {
	params := sdk.ChatCompletionNewParams{Model: shared.ChatModel(m.modelName)}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, sdk.SystemMessage(msg.Content))
		case model.RoleUser:
			params.Messages = append(params.Messages, sdk.UserMessage(msg.Content))
		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				params.Messages = append(params.Messages, sdk.AssistantMessage(msg.Content))
				continue
			}
			asst := sdk.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				asst.Content.OfString = sdk.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Input)
				if err != nil {
					return params, fmt.Errorf("openai: encode tool arguments: %w", err)
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			params.Messages = append(params.Messages, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case model.RoleTool:
			if msg.ToolCallID == "" {
				return params, errors.New("openai: tool message without call id")
			}
			params.Messages = append(params.Messages, sdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return params, fmt.Errorf("openai: unsupported role %q", msg.Role)
		}
	}

	for _, t := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: shared.FunctionParameters(t.Schema),
		}
		if t.Description != "" {
			fn.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, sdk.ChatCompletionToolParam{Function: fn})
	}
	if forced, ok := model.RequiredTool(tools); ok {
		params.ToolChoice = sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: forced.Name},
			},
		}
	}
	return params, nil
}

func convertResponse(completion *sdk.ChatCompletion) (model.ChatOut, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: empty completion")
	}
	msg := completion.Choices[0].Message
	out := model.ChatOut{Text: msg.Content}
	for _, call := range msg.ToolCalls {
		input := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("openai: decode tool arguments: %w", err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return out, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(fmt.Errorf("openai: %w", err), apiErr.StatusCode)
	}
	return fmt.Errorf("openai: %w", err)
}
