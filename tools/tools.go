package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhettg/agentloop"
)

var EmptyParameters = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

// Func builds a Tool whose arguments are decoded into T before fn runs. A
// decode failure is reported to the model like any other tool error.
func Func[T any](name, description string, parameters any, fn func(ctx context.Context, args T) (any, error)) agentloop.Tool {
	if parameters == nil {
		parameters = EmptyParameters
	}

	return agentloop.Tool{
		ToolDef: agentloop.ToolDef{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("could not parse arguments: %w", err)
			}
			return fn(ctx, args)
		},
	}
}

// Tools is an ordered collection of tools that can be handed to several
// agents.
type Tools struct {
	tools []agentloop.Tool
}

func New() *Tools {
	return &Tools{
		tools: make([]agentloop.Tool, 0),
	}
}

func (ts *Tools) Add(tools ...agentloop.Tool) *Tools {
	ts.tools = append(ts.tools, tools...)
	return ts
}

func (ts *Tools) AddTools(o *Tools) *Tools {
	return ts.Add(o.tools...)
}

func (ts *Tools) Len() int {
	return len(ts.tools)
}

// Register adds every tool to a, stopping at the first rejected one.
func (ts *Tools) Register(a *agentloop.Agent) error {
	for _, t := range ts.tools {
		if err := a.RegisterTool(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}
