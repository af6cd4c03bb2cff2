package solver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/graph/model"
	"github.com/dshills/solvegraph/state"
)

var cfg = graph.Config{ThreadID: "p1"}

func TestSolver_DraftSetsCandidate(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{codeReply("echo")}}
	s := NewSolver(mock)

	upd, err := s.Run(context.Background(), newRecord(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(upd) != 1 {
		t.Fatalf("update = %#v", upd)
	}
	if _, ok := upd[0].(state.SetCandidate); !ok {
		t.Fatalf("update[0] = %T, want SetCandidate", upd[0])
	}

	rec := state.Merge(newRecord(), upd)
	payload, ok := rec.Candidate.Code()
	if !ok || payload.Code != "echo" || payload.Reasoning != "r" {
		t.Errorf("candidate payload = %+v", payload)
	}
	if len(rec.Messages) != 1 {
		t.Errorf("draft must not touch messages, got %d", len(rec.Messages))
	}

	call := mock.Calls[0]
	if call.Messages[0].Role != model.RoleSystem || !strings.Contains(call.Messages[0].Content, "competitive programmer") {
		t.Errorf("system message = %+v", call.Messages[0])
	}
	if strings.Contains(call.Messages[0].Content, "<Examples>") {
		t.Error("draft prompt must not contain examples")
	}
	if len(call.Tools) != 1 || !call.Tools[0].Required || call.Tools[0].Name != state.CodeTool {
		t.Errorf("tools = %+v", call.Tools)
	}
}

func TestSolver_SolveAppendsMessage(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{codeReply("echo")}}
	rec := newRecord()
	rec.Examples = "\n<Examples>\nsolved before\n<Examples>"
	rec.Messages = append(rec.Messages, submitted("bad"), state.ToolResult("call_x", "Pass rate: 0/1"))

	upd, err := NewSolver(mock).Run(context.Background(), rec, cfg)
	if err != nil {
		t.Fatal(err)
	}
	next := state.Merge(rec, upd)
	if len(next.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(next.Messages))
	}
	if code, _ := next.Messages[3].Code(); code.Code != "echo" {
		t.Errorf("appended code = %q", code.Code)
	}

	sent := mock.Calls[0].Messages
	if !strings.Contains(sent[0].Content, "solved before") {
		t.Error("solve prompt missing examples")
	}
	if sent[2].Role != model.RoleAssistant || len(sent[2].ToolCalls) != 1 || sent[2].ToolCalls[0].Input["code"] != "bad" {
		t.Errorf("assistant history = %+v", sent[2])
	}
	if sent[3].Role != model.RoleTool || sent[3].ToolCallID != "call_x" {
		t.Errorf("tool history = %+v", sent[3])
	}
}

func TestSolver_RecoversFencedCode(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "Here:\n```python\nprint(input())\n```"}}}
	upd, err := NewSolver(mock).Run(context.Background(), newRecord(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	rec := state.Merge(newRecord(), upd)
	payload, ok := rec.Candidate.Code()
	if !ok || payload.Code != "print(input())" {
		t.Errorf("payload = %+v, ok = %v", payload, ok)
	}
	if rec.Candidate.Call.ID != "call_1" {
		t.Errorf("synthetic id = %q", rec.Candidate.Call.ID)
	}
}

func TestSolver_NoCode(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "I cannot solve this."}}}
	upd, err := NewSolver(mock).Run(context.Background(), newRecord(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	rec := state.Merge(newRecord(), upd)
	if _, ok := rec.Candidate.Code(); ok {
		t.Error("expected no code payload")
	}
}

func TestSolver_ModelError(t *testing.T) {
	boom := errors.New("provider down")
	_, err := NewSolver(&model.MockChatModel{Err: boom}).Run(context.Background(), newRecord(), cfg)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
}

func TestPrompt(t *testing.T) {
	p, err := NewPrompt("base{{with .Examples}}|{{.}}{{end}}")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := p.Render("")
	if got != "base" {
		t.Errorf("Render(\"\") = %q", got)
	}
	got, _ = p.Render("ex")
	if got != "base|ex" {
		t.Errorf("Render(ex) = %q", got)
	}

	if _, err := NewPrompt("{{.Broken"); err == nil {
		t.Error("expected parse error")
	}

	mock := &model.MockChatModel{Responses: []model.ChatOut{codeReply("echo")}}
	if _, err := NewSolver(mock, WithPrompt(p)).Run(context.Background(), newRecord(), cfg); err != nil {
		t.Fatal(err)
	}
	if mock.Calls[0].Messages[0].Content != "base" {
		t.Errorf("custom prompt not used: %q", mock.Calls[0].Messages[0].Content)
	}
}

func TestExtractPython(t *testing.T) {
	code, ok := ExtractPython("a\n```python\nx = 1\n```\nb ```python\ny```")
	if !ok || code != "x = 1" {
		t.Errorf("ExtractPython = %q, %v", code, ok)
	}
	if _, ok := ExtractPython("no code"); ok {
		t.Error("expected no match")
	}
}
