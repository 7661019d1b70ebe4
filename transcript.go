package agentloop

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

type yamlMessage struct {
	Role     Role   `yaml:"role"`
	Content  string `yaml:"content,omitempty"`
	ToolName string `yaml:"tool_name,omitempty"`
	CallID   string `yaml:"call_id,omitempty"`
	Args     string `yaml:"args,omitempty"`
	IsError  bool   `yaml:"is_error,omitempty"`
}

// ExportYAML renders messages as a human readable YAML transcript.
func ExportYAML(messages []Message) (string, error) {
	yamlMessages := make([]yamlMessage, len(messages))

	for i, m := range messages {
		yamlMessages[i] = yamlMessage{
			Role:     m.role,
			Content:  m.content,
			ToolName: m.toolName,
			CallID:   m.callID,
			Args:     m.argsText,
			IsError:  m.isError,
		}
	}

	bytes, err := yaml.Marshal(yamlMessages)
	if err != nil {
		return "", fmt.Errorf("error marshaling messages to YAML: %w", err)
	}

	return string(bytes), nil
}

func ImportYAML(yamlString string) ([]Message, error) {
	var yamlMessages []yamlMessage
	if err := yaml.Unmarshal([]byte(yamlString), &yamlMessages); err != nil {
		return nil, fmt.Errorf("error unmarshaling YAML: %w", err)
	}

	messages := make([]Message, 0, len(yamlMessages))
	for i, ym := range yamlMessages {
		switch ym.Role {
		case RoleSystem:
			messages = append(messages, System(ym.Content))
		case RoleUser:
			messages = append(messages, User(ym.Content))
		case RoleAssistant:
			messages = append(messages, Assistant(ym.Content))
		case RoleToolCall:
			messages = append(messages, ToolCall(ym.ToolName, ym.CallID, ym.Args))
		case RoleToolResult:
			messages = append(messages, ToolResult(ym.CallID, ym.Content, ym.IsError))
		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i, ym.Role)
		}
	}

	return messages, nil
}
