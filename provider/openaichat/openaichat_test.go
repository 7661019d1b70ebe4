package openaichat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/rhettg/agentloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCallID string         `json:"tool_call_id"`
	ToolCalls  []wireToolCall `json:"tool_calls"`
}

type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	Tools       json.RawMessage `json:"tools"`
	ToolChoice  any             `json:"tool_choice"`
	Temperature *float64        `json:"temperature"`
	MaxTokens   *int            `json:"max_tokens"`
}

type hit struct {
	Path    string
	Header  http.Header
	Request wireRequest
}

type mockServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits []hit
}

// newMockServer starts an OpenAI compatible server answering every request
// with status and body.
func newMockServer(t *testing.T, status int, body string) *mockServer {
	t.Helper()

	m := &mockServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		h := hit{Path: r.URL.Path, Header: r.Header.Clone()}
		require.NoError(t, json.Unmarshal(data, &h.Request))

		m.mu.Lock()
		m.hits = append(m.hits, h)
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(m.Close)

	return m
}

func (m *mockServer) Hits() []hit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hit(nil), m.hits...)
}

func (m *mockServer) config() agentloop.Config {
	return agentloop.Config{
		agentloop.ConfigAPIKey:  "sk-test",
		agentloop.ConfigBaseURL: m.URL,
	}
}

const assistantReply = `{
	"id": "mock-id",
	"object": "chat.completion",
	"created": 1,
	"model": "gpt-5-nano",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "Hello there", "refusal": null},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
}`

const toolCallReply = `{
	"id": "mock-id",
	"object": "chat.completion",
	"created": 1,
	"model": "gpt-5-nano",
	"choices": [{
		"index": 0,
		"message": {
			"role": "assistant",
			"content": null,
			"refusal": null,
			"tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "add", "arguments": "{\"a\":2,\"b\":3}"}},
				{"id": "call_2", "type": "function", "function": {"name": "now", "arguments": ""}}
			]
		},
		"finish_reason": "tool_calls"
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
}`

var addDef = agentloop.ToolDef{
	Name:        "add",
	Description: "Add two numbers",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
	},
}

func TestComplete_MissingAPIKey(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, assistantReply)

	cfg := agentloop.Config{agentloop.ConfigBaseURL: srv.URL}
	_, err := New().Complete(context.Background(), cfg, []agentloop.Message{agentloop.User("hi")}, nil)

	require.ErrorIs(t, err, agentloop.ErrConfiguration)
	assert.Equal(t, agentloop.KindConfiguration, agentloop.KindOf(err))
	assert.Empty(t, srv.Hits())
}

func TestComplete_InvalidConfig(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, assistantReply)
	ctx := context.Background()
	msgs := []agentloop.Message{agentloop.User("hi")}

	cfg := srv.config()
	cfg[agentloop.ConfigBaseURL] = "not a url"
	_, err := New().Complete(ctx, cfg, msgs, nil)
	assert.ErrorIs(t, err, agentloop.ErrConfiguration)

	cfg = srv.config()
	cfg[ConfigTemperature] = "warm"
	_, err = New().Complete(ctx, cfg, msgs, nil)
	assert.ErrorIs(t, err, agentloop.ErrConfiguration)

	cfg = srv.config()
	cfg[ConfigMaxTokens] = -1
	_, err = New().Complete(ctx, cfg, msgs, nil)
	assert.ErrorIs(t, err, agentloop.ErrConfiguration)

	assert.Empty(t, srv.Hits())
}

func TestComplete_Assistant(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, assistantReply)

	cfg := srv.config()
	cfg[agentloop.ConfigSystem] = "be brief"
	cfg[ConfigTemperature] = 0.5
	cfg[ConfigMaxTokens] = "64"
	cfg[ConfigHeaders] = map[string]any{"X-Extra": "yes"}

	turn, err := New().Complete(context.Background(), cfg, []agentloop.Message{agentloop.User("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, []agentloop.Message{agentloop.Assistant("Hello there")}, turn)

	hits := srv.Hits()
	require.Len(t, hits, 1)

	h := hits[0]
	assert.Equal(t, "/v1/chat/completions", h.Path)
	assert.Equal(t, "Bearer sk-test", h.Header.Get("Authorization"))
	assert.Equal(t, "yes", h.Header.Get("X-Extra"))
	assert.Equal(t, DefaultModel, h.Request.Model)

	require.Len(t, h.Request.Messages, 2)
	assert.Equal(t, "system", h.Request.Messages[0].Role)
	assert.Equal(t, "be brief", h.Request.Messages[0].Content)
	assert.Equal(t, "user", h.Request.Messages[1].Role)
	assert.Equal(t, "hi", h.Request.Messages[1].Content)

	assert.Nil(t, h.Request.Tools)
	assert.Nil(t, h.Request.ToolChoice)

	require.NotNil(t, h.Request.Temperature)
	assert.Equal(t, 0.5, *h.Request.Temperature)
	require.NotNil(t, h.Request.MaxTokens)
	assert.Equal(t, 64, *h.Request.MaxTokens)
}

func TestComplete_SystemNotMerged(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, assistantReply)

	cfg := srv.config()
	cfg[agentloop.ConfigSystem] = "override"

	msgs := []agentloop.Message{agentloop.System("ctx sys"), agentloop.User("hi")}
	_, err := New().Complete(context.Background(), cfg, msgs, nil)
	require.NoError(t, err)

	hits := srv.Hits()
	require.Len(t, hits, 1)

	var got [][2]any
	for _, m := range hits[0].Request.Messages {
		got = append(got, [2]any{m.Role, m.Content})
	}
	assert.Equal(t, [][2]any{
		{"system", "override"},
		{"system", "ctx sys"},
		{"user", "hi"},
	}, got)
}

func TestComplete_ToolCalls(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, toolCallReply)

	cfg := srv.config()
	cfg[agentloop.ConfigModel] = "gpt-test"
	cfg[agentloop.ConfigBaseURL] = srv.URL + "/"

	turn, err := New().Complete(context.Background(), cfg, []agentloop.Message{agentloop.User("what is 2+3?")}, []agentloop.ToolDef{addDef})
	require.NoError(t, err)

	assert.Equal(t, []agentloop.Message{
		agentloop.ToolCall("add", "call_1", `{"a":2,"b":3}`),
		agentloop.ToolCall("now", "call_2", "{}"),
	}, turn)

	hits := srv.Hits()
	require.Len(t, hits, 1)
	assert.Equal(t, "/v1/chat/completions", hits[0].Path)
	assert.Equal(t, "gpt-test", hits[0].Request.Model)
	assert.Equal(t, "auto", hits[0].Request.ToolChoice)
	assert.JSONEq(t, `[{
		"type": "function",
		"function": {
			"name": "add",
			"description": "Add two numbers",
			"parameters": {"type": "object", "properties": {"a": {"type": "number"}, "b": {"type": "number"}}}
		}
	}]`, string(hits[0].Request.Tools))
}

func TestComplete_CoalescesToolCalls(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, assistantReply)

	msgs := []agentloop.Message{
		agentloop.User("go"),
		agentloop.ToolCall("add", "call_1", `{"a":1,"b":2}`),
		agentloop.ToolCall("add", "call_2", ""),
		agentloop.ToolResult("call_1", "3", false),
		agentloop.ToolResult("call_2", "boom", true),
		agentloop.Assistant("3"),
		agentloop.ToolCall("add", "call_3", `{}`),
	}

	_, err := New().Complete(context.Background(), srv.config(), msgs, []agentloop.ToolDef{addDef})
	require.NoError(t, err)

	hits := srv.Hits()
	require.Len(t, hits, 1)

	wire := hits[0].Request.Messages
	require.Len(t, wire, 6)

	assert.Equal(t, "user", wire[0].Role)

	assert.Equal(t, "assistant", wire[1].Role)
	require.Len(t, wire[1].ToolCalls, 2)
	assert.Equal(t, "call_1", wire[1].ToolCalls[0].ID)
	assert.Equal(t, "function", wire[1].ToolCalls[0].Type)
	assert.Equal(t, `{"a":1,"b":2}`, wire[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_2", wire[1].ToolCalls[1].ID)
	assert.Equal(t, "{}", wire[1].ToolCalls[1].Function.Arguments)

	assert.Equal(t, "tool", wire[2].Role)
	assert.Equal(t, "call_1", wire[2].ToolCallID)
	assert.Equal(t, "3", wire[2].Content)
	assert.Equal(t, "tool", wire[3].Role)
	assert.Equal(t, "call_2", wire[3].ToolCallID)
	assert.Equal(t, "boom", wire[3].Content)

	assert.Equal(t, "assistant", wire[4].Role)
	assert.Equal(t, "3", wire[4].Content)

	assert.Equal(t, "assistant", wire[5].Role)
	require.Len(t, wire[5].ToolCalls, 1)
	assert.Equal(t, "call_3", wire[5].ToolCalls[0].ID)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   agentloop.Kind
		msg    string
	}{
		{
			name:   "http error with message",
			status: http.StatusUnauthorized,
			body:   `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`,
			kind:   agentloop.KindProviderHTTP,
			msg:    "openai: provider http error: Incorrect API key provided",
		},
		{
			name:   "http error with plain body",
			status: http.StatusBadGateway,
			body:   `upstream unavailable`,
			kind:   agentloop.KindProviderHTTP,
			msg:    "openai: provider http error: HTTP 502: upstream unavailable",
		},
		{
			name:   "http error without message",
			status: http.StatusInternalServerError,
			body:   `{"error": {"code": "server_error"}}`,
			kind:   agentloop.KindProviderHTTP,
			msg:    "openai: provider http error: HTTP 500",
		},
		{
			name:   "application error",
			status: http.StatusOK,
			body:   `{"error": {"message": "model overloaded"}}`,
			kind:   agentloop.KindProviderApplication,
			msg:    "openai: provider application error: model overloaded",
		},
		{
			name:   "invalid json",
			status: http.StatusOK,
			body:   `<html>oops</html>`,
			kind:   agentloop.KindMalformedResponse,
			msg:    "openai: malformed response: invalid JSON: <html>oops</html>",
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"id": "x", "choices": []}`,
			kind:   agentloop.KindMalformedResponse,
			msg:    "openai: malformed response: empty response",
		},
		{
			name:   "no message",
			status: http.StatusOK,
			body:   `{"id": "x", "choices": [{"index": 0, "finish_reason": "stop"}]}`,
			kind:   agentloop.KindMalformedResponse,
			msg:    "openai: malformed response: empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newMockServer(t, tt.status, tt.body)

			_, err := New().Complete(context.Background(), srv.config(), []agentloop.Message{agentloop.User("hi")}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, agentloop.KindOf(err))
			assert.EqualError(t, err, tt.msg)

			// Retries are disabled.
			assert.Len(t, srv.Hits(), 1)
		})
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet([]byte("  short\n")))

	long := strings.Repeat("a", snippetLen-1) + "é" + "tail"
	got := snippet([]byte(long))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", snippetLen-1), got)

	exact := strings.Repeat("b", snippetLen+10)
	assert.Len(t, snippet([]byte(exact)), snippetLen)
}

func TestComplete_StatusCode(t *testing.T) {
	srv := newMockServer(t, http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`)

	_, err := New().Complete(context.Background(), srv.config(), []agentloop.Message{agentloop.User("hi")}, nil)

	var e *agentloop.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusTooManyRequests, e.StatusCode)
	assert.ErrorIs(t, err, agentloop.ErrProviderHTTP)
}

func TestComplete_Transport(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, assistantReply)
	cfg := srv.config()
	srv.Close()

	_, err := New().Complete(context.Background(), cfg, []agentloop.Message{agentloop.User("hi")}, nil)
	assert.ErrorIs(t, err, agentloop.ErrTransport)
}

func TestComplete_Middleware(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, assistantReply)

	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(ctx context.Context, params openai.ChatCompletionNewParams, next CreateCompletionFn) (*openai.ChatCompletion, error) {
			order = append(order, name)
			return next(ctx, params)
		}
	}

	usage := &Usage{}
	p := New(WithMiddleware(mw("first")), WithMiddleware(mw("second")), WithMiddleware(usage.Middleware))

	_, err := p.Complete(context.Background(), srv.config(), []agentloop.Message{agentloop.User("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"second", "first"}, order)

	u := usage.Snapshot()
	assert.Equal(t, 1, u.Completions)
	assert.Equal(t, 10, u.PromptTokens)
	assert.Equal(t, 3, u.CompletionTokens)
	assert.Equal(t, 13, u.TotalTokens)
	assert.Equal(t, 0, u.Errors)
}

func TestComplete_AgentRoundTrip(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(toolCallReply))
			return
		}
		_, _ = w.Write([]byte(assistantReply))
	}))
	defer srv.Close()

	a := agentloop.New(New(), agentloop.Config{
		agentloop.ConfigAPIKey:  "sk-test",
		agentloop.ConfigBaseURL: srv.URL,
	})

	exec := func(ctx context.Context, args json.RawMessage) (any, error) {
		return "ok", nil
	}
	require.NoError(t, a.RegisterTool(agentloop.Tool{ToolDef: addDef, Execute: exec}))
	require.NoError(t, a.RegisterTool(agentloop.Tool{ToolDef: agentloop.ToolDef{Name: "now"}, Execute: exec}))

	out, err := a.Run(context.Background(), agentloop.User("what is 2+3?"))
	require.NoError(t, err)

	assert.Equal(t, []agentloop.Message{
		agentloop.ToolCall("add", "call_1", `{"a":2,"b":3}`),
		agentloop.ToolCall("now", "call_2", "{}"),
		agentloop.ToolResult("call_1", "ok", false),
		agentloop.ToolResult("call_2", "ok", false),
		agentloop.Assistant("Hello there"),
	}, out)
	assert.Equal(t, 2, calls)
}
