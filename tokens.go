package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

func DefaultCodec() (tokenizer.Codec, error) {
	return tokenizer.Get(tokenizer.Cl100kBase)
}

// EstimateMessageTokens approximates the prompt cost of one message by
// encoding its JSON form.
func EstimateMessageTokens(t tokenizer.Codec, m Message) (int, error) {
	type toolCall struct {
		Name      string `json:"name"`
		ID        string `json:"id"`
		Arguments string `json:"arguments"`
	}

	cm := struct {
		Role       string    `json:"role"`
		Content    string    `json:"content,omitempty"`
		ToolCall   *toolCall `json:"tool_call,omitempty"`
		ToolCallID string    `json:"tool_call_id,omitempty"`
	}{
		Role:    string(m.role),
		Content: m.content,
	}

	switch m.role {
	case RoleToolCall:
		cm.ToolCall = &toolCall{Name: m.toolName, ID: m.callID, Arguments: m.argsText}
	case RoleToolResult:
		cm.ToolCallID = m.callID
	}

	data, err := json.Marshal(cm)
	if err != nil {
		return 0, err
	}

	tokens, _, err := t.Encode(string(data))
	if err != nil {
		return 0, err
	}

	return len(tokens), nil
}

func EstimateTokens(t tokenizer.Codec, msgs []Message) (int, error) {
	total := 0
	for i, m := range msgs {
		n, err := EstimateMessageTokens(t, m)
		if err != nil {
			return 0, fmt.Errorf("message %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}

// TokenLimitFilter drops the oldest non-system messages until the estimated
// size fits within max tokens. Like LimitMessagesFilter it only cuts at turn
// boundaries.
func TokenLimitFilter(t tokenizer.Codec, max int) FilterFunc {
	return func(ctx context.Context, msgs []Message) ([]Message, error) {
		head, rest := splitSystem(msgs)

		headTokens, err := EstimateTokens(t, head)
		if err != nil {
			return nil, err
		}

		sizes := make([]int, len(rest))
		total := headTokens
		for i, m := range rest {
			n, err := EstimateMessageTokens(t, m)
			if err != nil {
				return nil, err
			}
			sizes[i] = n
			total += n
		}

		if total <= max {
			return msgs, nil
		}

		start := 0
		for start < len(rest) && (total > max || !turnBoundary(rest, start)) {
			total -= sizes[start]
			start++
		}

		return joinWindow(head, rest, start), nil
	}
}
