package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rhettg/agentloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunc(t *testing.T) {
	ctx := context.Background()

	type helloArgs struct {
		Name string `json:"name"`
	}

	tool := Func("hello", "Say hello", nil, func(ctx context.Context, args helloArgs) (any, error) {
		return "Hello " + args.Name + "!", nil
	})

	assert.Equal(t, "hello", tool.Name)
	assert.Equal(t, EmptyParameters, tool.Parameters)

	out, err := tool.Execute(ctx, json.RawMessage(`{"name":"world"}`))
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", out)

	_, err = tool.Execute(ctx, json.RawMessage(`{"name":12}`))
	assert.ErrorContains(t, err, "could not parse arguments")
}

func TestTools_Register(t *testing.T) {
	ts := New().Add(Add(), Now(nil))

	more := New().AddTools(ts)
	assert.Equal(t, 2, more.Len())

	a := agentloop.New(nil, nil)
	require.NoError(t, ts.Register(a))

	defs := a.Tools()
	require.Len(t, defs, 2)
	assert.Equal(t, "add", defs[0].Name)
	assert.Equal(t, "now", defs[1].Name)

	err := ts.Register(a)
	assert.True(t, errors.Is(err, agentloop.ErrDuplicateTool))
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	out, err := Add().Execute(ctx, json.RawMessage(`{"a":2,"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, float64(5), out)
}

func TestAdd_Loop(t *testing.T) {
	ctx := context.Background()

	turns := [][]agentloop.Message{
		{agentloop.ToolCall("add", "call_1", `{"a":2,"b":3}`)},
		{agentloop.Assistant("5")},
	}

	var seen []agentloop.Message
	adapter := agentloop.AdapterFunc(func(ctx context.Context, cfg agentloop.Config, msgs []agentloop.Message, defs []agentloop.ToolDef) ([]agentloop.Message, error) {
		seen = msgs
		turn := turns[0]
		turns = turns[1:]
		return turn, nil
	})

	a := agentloop.New(adapter, nil)
	require.NoError(t, a.RegisterTool(Add()))

	out, err := a.Run(ctx, agentloop.User("what is 2+3?"))
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, agentloop.ToolResult("call_1", "5", false), out[1])
	assert.Equal(t, agentloop.ToolResult("call_1", "5", false), seen[2])
	assert.Equal(t, agentloop.Assistant("5"), out[2])
}

func TestNow(t *testing.T) {
	ctx := context.Background()

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tool := Now(func() time.Time { return fixed })

	out, err := tool.Execute(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:00:00Z", out)

	out, err = tool.Execute(ctx, json.RawMessage(`{"timezone":"Asia/Tokyo"}`))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T21:00:00+09:00", out)

	_, err = tool.Execute(ctx, json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.EqualError(t, err, `unknown timezone "Mars/Olympus"`)
}
