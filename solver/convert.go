package solver

import (
	"regexp"
	"strings"

	"github.com/dshills/solvegraph/graph/model"
	"github.com/dshills/solvegraph/state"
)

// CodeToolSpec is the forced code tool offered on every generation call.
func CodeToolSpec() model.ToolSpec {
	return model.ToolSpec{
		Name:        state.CodeTool,
		Description: "Write python code that resolves the problem.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"reasoning":  map[string]interface{}{"type": "string", "description": "Conceptual solution."},
				"pseudocode": map[string]interface{}{"type": "string", "description": "Detailed English pseudocode."},
				"code":       map[string]interface{}{"type": "string", "description": "Valid Python 3 solution to the problem"},
			},
			"required": []string{"reasoning", "pseudocode", "code"},
		},
		Required: true,
	}
}

// chatMessages converts the record's conversation for a chat model.
func chatMessages(msgs []state.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case state.KindUser:
			out = append(out, model.Message{Role: model.RoleUser, Content: m.Content})
		case state.KindAssistant:
			cm := model.Message{Role: model.RoleAssistant, Content: m.Content}
			if m.Call != nil {
				cm.ToolCalls = []model.ToolCall{{
					ID:   m.Call.ID,
					Name: m.Call.Name,
					Input: map[string]interface{}{
						"reasoning":  m.Call.Payload.Reasoning,
						"pseudocode": m.Call.Payload.Pseudocode,
						"code":       m.Call.Payload.Code,
					},
				}}
			}
			out = append(out, cm)
		case state.KindTool:
			out = append(out, model.Message{Role: model.RoleTool, Content: m.Content, ToolCallID: m.CallID})
		}
	}
	return out
}

var pythonBlock = regexp.MustCompile("(?s)```python(.*?)```")

// ExtractPython returns the first fenced python block in text.
func ExtractPython(text string) (string, bool) {
	match := pythonBlock.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}
