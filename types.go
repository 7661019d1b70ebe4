package agentloop

import (
	"context"
	"encoding/json"

	"github.com/spf13/cast"
)

type Role string

const (
	RoleSystem     = Role("system")
	RoleUser       = Role("user")
	RoleAssistant  = Role("assistant")
	RoleToolCall   = Role("tool_call")
	RoleToolResult = Role("tool_result")
)

// Adapter translates a conversation into one provider's wire format, performs
// the call and translates the reply back into the next turn.
//
// Implementations must not mutate msgs and must return either a single
// Assistant message or one or more ToolCall messages.
type Adapter interface {
	Complete(ctx context.Context, cfg Config, msgs []Message, tools []ToolDef) ([]Message, error)
}

type AdapterFunc func(ctx context.Context, cfg Config, msgs []Message, tools []ToolDef) ([]Message, error)

func (f AdapterFunc) Complete(ctx context.Context, cfg Config, msgs []Message, tools []ToolDef) ([]Message, error) {
	return f(ctx, cfg, msgs, tools)
}

type MiddlewareFunc func(next Adapter) Adapter

type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ToolDef is the part of a Tool advertised to the model. Parameters is a JSON
// schema description and is never interpreted by the loop.
type ToolDef struct {
	Name        string
	Description string

	Parameters any
}

type Tool struct {
	ToolDef

	Execute ToolFunc
}

// Well known Config keys. Anything else is passed through to the adapter
// untouched.
const (
	ConfigBaseURL = "baseUrl"
	ConfigAPIKey  = "apiKey"
	ConfigModel   = "model"
	ConfigSystem  = "system"
)

// Config is an open set of provider options. The loop never looks inside it.
type Config map[string]any

func (c Config) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// StringOr returns the value for key, or def when it is unset or empty.
func (c Config) StringOr(key, def string) string {
	if s := c.String(key); s != "" {
		return s
	}
	return def
}

func (c Config) Float(key string) (float64, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (c Config) Int(key string) (int, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return 0, false
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func (c Config) StringMap(key string) map[string]string {
	v, ok := c[key]
	if !ok || v == nil {
		return nil
	}
	return cast.ToStringMapString(v)
}

// Clone returns a shallow copy so callers can add keys without affecting the
// original.
func (c Config) Clone() Config {
	nc := make(Config, len(c))
	for k, v := range c {
		nc[k] = v
	}
	return nc
}
