package agentloop

import (
	"fmt"
	"strings"
)

// Message is one conversation entry. It is a closed union over five variants,
// distinguished by Role. Messages are values: they carry no mutable state and
// compare with ==.
type Message struct {
	role    Role
	content string

	toolName string
	callID   string
	argsText string
	isError  bool
}

func System(content string) Message {
	return Message{role: RoleSystem, content: content}
}

func User(content string) Message {
	return Message{role: RoleUser, content: content}
}

func Assistant(content string) Message {
	return Message{role: RoleAssistant, content: content}
}

// ToolCall is a model request to invoke toolName. argsText is whatever the
// model produced and may not be valid JSON.
func ToolCall(toolName, callID, argsText string) Message {
	return Message{role: RoleToolCall, toolName: toolName, callID: callID, argsText: argsText}
}

func ToolResult(callID, content string, isError bool) Message {
	return Message{role: RoleToolResult, callID: callID, content: content, isError: isError}
}

func (m Message) Role() Role {
	return m.role
}

// Content is the text of System, User, Assistant and ToolResult messages. It is
// empty for ToolCall.
func (m Message) Content() string {
	return m.content
}

func (m Message) ToolName() string {
	return m.toolName
}

func (m Message) CallID() string {
	return m.callID
}

func (m Message) ArgsText() string {
	return m.argsText
}

func (m Message) IsError() bool {
	return m.isError
}

func (m Message) IsZero() bool {
	return m == Message{}
}

func (m Message) Equal(o Message) bool {
	return m == o
}

func (m Message) String() string {
	switch m.role {
	case RoleToolCall:
		return fmt.Sprintf("tool_call(%s, %s, %s)", m.toolName, m.callID, m.argsText)
	case RoleToolResult:
		if m.isError {
			return fmt.Sprintf("tool_result(%s, error: %q)", m.callID, m.content)
		}
		return fmt.Sprintf("tool_result(%s, %q)", m.callID, m.content)
	default:
		return fmt.Sprintf("%s(%q)", m.role, m.content)
	}
}

// ToolCalls returns the ToolCall messages of msgs in order.
func ToolCalls(msgs []Message) []Message {
	calls := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.role == RoleToolCall {
			calls = append(calls, m)
		}
	}
	return calls
}

// ValidateContext reports the first ToolResult without exactly one preceding
// ToolCall of the same call id.
func ValidateContext(msgs []Message) error {
	calls := make(map[string]int)
	answered := make(map[string]bool)

	for i, m := range msgs {
		switch m.role {
		case RoleToolCall:
			calls[m.callID]++
		case RoleToolResult:
			n := calls[m.callID]
			switch {
			case n == 0:
				return fmt.Errorf("message %d: tool result %q has no preceding tool call", i, m.callID)
			case n > 1:
				return fmt.Errorf("message %d: tool result %q matches %d tool calls", i, m.callID, n)
			case answered[m.callID]:
				return fmt.Errorf("message %d: tool call %q answered twice", i, m.callID)
			}
			answered[m.callID] = true
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.role)
		}
	}

	return nil
}

func formatMessages(msgs []Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
