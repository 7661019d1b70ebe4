package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter replays turns in order and records the context it was
// handed on each call.
type scriptedAdapter struct {
	turns [][]Message
	errs  []error
	seen  [][]Message
	tools [][]ToolDef
}

func (s *scriptedAdapter) Complete(ctx context.Context, cfg Config, msgs []Message, tools []ToolDef) ([]Message, error) {
	n := len(s.seen)
	s.seen = append(s.seen, msgs)
	s.tools = append(s.tools, tools)

	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n >= len(s.turns) {
		return nil, fmt.Errorf("unexpected adapter call %d", n+1)
	}
	return s.turns[n], nil
}

var addParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	},
	"required": []string{"a", "b"},
}

func addTool() Tool {
	return Tool{
		ToolDef: ToolDef{Name: "add", Description: "Add two numbers", Parameters: addParameters},
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct{ A, B float64 }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return fmt.Sprint(in.A + in.B), nil
		},
	}
}

func failingTool() Tool {
	return Tool{
		ToolDef: ToolDef{Name: "failing", Description: "Always fails"},
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, errors.New("Tool failed intentionally")
		},
	}
}

func TestAgent_Step(t *testing.T) {
	mock := &scriptedAdapter{turns: [][]Message{{Assistant("ok")}}}
	a := New(mock, Config{ConfigAPIKey: "x"})

	msgs, err := a.Step(context.Background(), User("hi"))
	require.NoError(t, err)

	assert.Equal(t, []Message{Assistant("ok")}, msgs)
	assert.Equal(t, []Message{User("hi"), Assistant("ok")}, a.Context())
	assert.Equal(t, []Message{User("hi")}, mock.seen[0])
}

func TestAgent_StepWithoutAppend(t *testing.T) {
	mock := &scriptedAdapter{turns: [][]Message{{Assistant("ok")}}}
	a := New(mock, Config{ConfigAPIKey: "x"})
	a.Append(System("sys"))

	msgs, err := a.Step(context.Background(), User("hi"), WithoutAppend())
	require.NoError(t, err)

	assert.Len(t, msgs, 1)
	assert.Equal(t, []Message{System("sys")}, a.Context())
	assert.Equal(t, []Message{System("sys"), User("hi")}, mock.seen[0])
}

func TestAgent_StepLeavesToolCalls(t *testing.T) {
	mock := &scriptedAdapter{turns: [][]Message{{ToolCall("add", "call_1", `{"a":1,"b":2}`)}}}
	a := New(mock, nil)
	require.NoError(t, a.RegisterTool(addTool()))

	msgs, err := a.Step(context.Background(), User("add"))
	require.NoError(t, err)

	assert.Equal(t, []Message{ToolCall("add", "call_1", `{"a":1,"b":2}`)}, msgs)
	assert.Len(t, mock.seen, 1)
	assert.Len(t, a.Context(), 2)
}

func TestAgent_StepContinuesWithoutSeed(t *testing.T) {
	mock := &scriptedAdapter{turns: [][]Message{{Assistant("again")}}}
	a := New(mock, nil)
	a.Append(User("hi"))

	_, err := a.Step(context.Background(), Message{})
	require.NoError(t, err)

	assert.Equal(t, []Message{User("hi")}, mock.seen[0])
}

func TestAgent_Middleware(t *testing.T) {
	mock := &scriptedAdapter{turns: [][]Message{{Assistant("ok")}}}

	var order []string
	trace := func(name string) MiddlewareFunc {
		return func(next Adapter) Adapter {
			return AdapterFunc(func(ctx context.Context, cfg Config, msgs []Message, tools []ToolDef) ([]Message, error) {
				order = append(order, name)
				return next.Complete(ctx, cfg, msgs, tools)
			})
		}
	}

	a := New(mock, nil, WithMiddleware(trace("first")), WithMiddleware(trace("second")))

	_, err := a.Step(context.Background(), User("hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestAgent_ConfigPassedThrough(t *testing.T) {
	cfg := Config{ConfigAPIKey: "x", "custom": 42}

	var got Config
	adapter := AdapterFunc(func(ctx context.Context, c Config, msgs []Message, tools []ToolDef) ([]Message, error) {
		got = c
		return []Message{Assistant("ok")}, nil
	})

	a := New(adapter, cfg)
	_, err := a.Run(context.Background(), User("hi"))
	require.NoError(t, err)

	assert.Equal(t, cfg, got)
}

func TestAgent_Reset(t *testing.T) {
	a := New(&scriptedAdapter{}, nil)
	a.Append(System("sys"), User("hi"))
	require.Len(t, a.Context(), 2)

	a.Reset()
	assert.Empty(t, a.Context())
}

func TestAgent_RegisterToolDuplicate(t *testing.T) {
	a := New(&scriptedAdapter{}, nil)
	require.NoError(t, a.RegisterTool(addTool()))

	err := a.RegisterTool(addTool())
	require.ErrorIs(t, err, ErrDuplicateTool)

	assert.Len(t, a.Tools(), 1)
}
