package state

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Kind discriminates the closed set of message variants.
type Kind string

const (
	// KindUser is problem text or human feedback.
	KindUser Kind = "user"

	// KindAssistant is a generation result, optionally carrying a code call.
	KindAssistant Kind = "assistant"

	// KindTool is verification output addressed to an assistant call.
	KindTool Kind = "tool"
)

// CodeTool is the name of the structured code tool offered to the model.
const CodeTool = "writePython"

// CodePayload is the structured argument set of the code tool.
type CodePayload struct {
	Reasoning  string `json:"reasoning" mapstructure:"reasoning"`
	Pseudocode string `json:"pseudocode" mapstructure:"pseudocode"`
	Code       string `json:"code" mapstructure:"code"`
}

// ToolCall is a code submission attached to an assistant message.
type ToolCall struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Payload CodePayload `json:"payload"`
}

// Message is one conversation entry. Exactly one variant is populated,
// selected by Kind:
//
//	KindUser       Content
//	KindAssistant  Content, optional Call
//	KindTool       Content, CallID
type Message struct {
	Kind    Kind      `json:"kind"`
	Content string    `json:"content"`
	Call    *ToolCall `json:"call,omitempty"`
	CallID  string    `json:"call_id,omitempty"`
}

// User creates a user message.
func User(content string) Message {
	return Message{Kind: KindUser, Content: content}
}

// Assistant creates an assistant message. call may be nil.
func Assistant(content string, call *ToolCall) Message {
	return Message{Kind: KindAssistant, Content: content, Call: call}
}

// ToolResult creates a tool-result message answering callID.
func ToolResult(callID, content string) Message {
	return Message{Kind: KindTool, Content: content, CallID: callID}
}

// Code returns the submitted code payload, if this is an assistant message
// with a code call.
func (m Message) Code() (CodePayload, bool) {
	if m.Kind != KindAssistant || m.Call == nil {
		return CodePayload{}, false
	}
	return m.Call.Payload, true
}

// Validate checks the variant invariants.
func (m Message) Validate() error {
	switch m.Kind {
	case KindUser:
		if m.Call != nil || m.CallID != "" {
			return fmt.Errorf("user message cannot carry tool fields")
		}
	case KindAssistant:
		if m.CallID != "" {
			return fmt.Errorf("assistant message cannot carry a call id")
		}
	case KindTool:
		if m.Call != nil {
			return fmt.Errorf("tool message cannot carry a call")
		}
		if m.CallID == "" {
			return fmt.Errorf("tool message requires a call id")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// DecodeCodePayload converts raw tool-call arguments into a CodePayload.
//
// Missing fields are left empty; callers decide whether an empty Code is
// acceptable. Wrongly typed fields (for example a numeric "code") are an
// error.
func DecodeCodePayload(args map[string]interface{}) (CodePayload, error) {
	var p CodePayload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &p,
		TagName: "mapstructure",
	})
	if err != nil {
		return CodePayload{}, err
	}
	if err := dec.Decode(args); err != nil {
		return CodePayload{}, fmt.Errorf("invalid %s arguments: %w", CodeTool, err)
	}
	return p, nil
}
