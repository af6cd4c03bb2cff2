package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/solvegraph/graph/model"
)

type fakeClient struct {
	resp   *sdk.Message
	err    error
	params []sdk.MessageNewParams
}

func (f *fakeClient) New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.params = append(f.params, params)
	return f.resp, f.err
}

var codeTool = model.ToolSpec{
	Name:        "writePython",
	Description: "Write python code",
	Schema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"code": map[string]interface{}{"type": "string"}},
		"required":   []string{"code"},
	},
	Required: true,
}

func TestNewChatModel_DefaultModel(t *testing.T) {
	m := NewChatModel("key", "")
	if m.modelName != DefaultModel {
		t.Errorf("modelName = %q, want %q", m.modelName, DefaultModel)
	}
}

func TestChat_BuildsRequest(t *testing.T) {
	fake := &fakeClient{resp: &sdk.Message{}}
	m := &ChatModel{client: fake, modelName: "claude-test", maxTokens: 10}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "be terse"},
		{Role: model.RoleUser, Content: "solve it"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "call_1", Name: "writePython", Input: map[string]interface{}{"code": "print(1)"}},
		}},
		{Role: model.RoleTool, ToolCallID: "call_1", Content: "Pass rate: 0/1"},
	}
	if _, err := m.Chat(context.Background(), messages, []model.ToolSpec{codeTool}); err != nil {
		t.Fatal(err)
	}

	p := fake.params[0]
	if len(p.System) != 1 || p.System[0].Text != "be terse" {
		t.Errorf("system = %+v", p.System)
	}
	if len(p.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(p.Messages))
	}
	if len(p.Tools) != 1 || p.Tools[0].OfTool == nil || p.Tools[0].OfTool.Name != "writePython" {
		t.Errorf("tools = %+v", p.Tools)
	}
	if p.ToolChoice.OfTool == nil || p.ToolChoice.OfTool.Name != "writePython" {
		t.Errorf("tool choice not forced: %+v", p.ToolChoice)
	}
}

func TestChat_RejectsOrphanToolMessage(t *testing.T) {
	m := &ChatModel{client: &fakeClient{}, modelName: "x", maxTokens: 1}
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleTool, Content: "x"}}, nil)
	if err == nil {
		t.Error("expected error")
	}
}

func TestChat_ConvertsResponse(t *testing.T) {
	fake := &fakeClient{resp: &sdk.Message{Content: []sdk.ContentBlockUnion{
		{Type: "text", Text: "thinking"},
		{Type: "tool_use", ID: "toolu_1", Name: "writePython", Input: json.RawMessage(`{"code":"print(2)"}`)},
	}}}
	m := &ChatModel{client: fake, modelName: "x", maxTokens: 1}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "thinking" {
		t.Errorf("Text = %q", out.Text)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d", len(out.ToolCalls))
	}
	call := out.ToolCalls[0]
	if call.ID != "toolu_1" || call.Name != "writePython" || call.Input["code"] != "print(2)" {
		t.Errorf("call = %+v", call)
	}
}

func TestChat_Errors(t *testing.T) {
	boom := errors.New("boom")
	m := &ChatModel{client: &fakeClient{err: boom}, modelName: "x", maxTokens: 1}
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
