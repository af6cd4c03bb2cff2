package solver

import (
	"context"
	"strings"

	"github.com/dshills/solvegraph/graph/model"
	"github.com/dshills/solvegraph/state"
	"github.com/dshills/solvegraph/verify"
)

// fakeJudge "runs" a tiny language: "echo" prints the input, "print X"
// prints X, "crash" fails, anything else prints nothing.
var fakeJudge = verify.JudgeFunc(func(ctx context.Context, sub verify.Submission) (verify.Result, error) {
	var out string
	switch {
	case sub.Code == "echo":
		out = sub.Input
	case strings.HasPrefix(sub.Code, "print "):
		out = strings.TrimPrefix(sub.Code, "print ")
	case sub.Code == "crash":
		return verify.Result{Verdict: verify.RuntimeError, Detail: "boom"}, nil
	}
	if verify.Compare(sub.Expected, out) {
		return verify.Result{Verdict: verify.Passed}, nil
	}
	return verify.Result{Verdict: verify.WrongAnswer}, nil
})

func codeReply(code string) model.ChatOut {
	return model.ChatOut{
		Text: "thinking",
		ToolCalls: []model.ToolCall{{
			ID:    "toolu_" + strings.ReplaceAll(code, " ", "_"),
			Name:  state.CodeTool,
			Input: map[string]interface{}{"reasoning": "r", "pseudocode": "p", "code": code},
		}},
	}
}

func submitted(code string) state.Message {
	return state.Assistant("", &state.ToolCall{ID: "call_x", Name: state.CodeTool, Payload: state.CodePayload{Code: code}})
}

func newRecord(tests ...state.TestCase) state.Record {
	return state.NewRecord("p1", "Echo the input.", tests, 1)
}
