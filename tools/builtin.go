package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rhettg/agentloop"
)

type AddArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func Add() agentloop.Tool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	return Func("add", "Add two numbers", params, func(ctx context.Context, args AddArgs) (any, error) {
		return args.A + args.B, nil
	})
}

type NowArgs struct {
	Timezone string `json:"timezone"`
}

// Now reports the current time. clock may be nil to use time.Now.
func Now(clock func() time.Time) agentloop.Tool {
	if clock == nil {
		clock = time.Now
	}

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone name, for example Europe/Paris. Defaults to UTC.",
			},
		},
	}

	return Func("now", "Get the current date and time", params, func(ctx context.Context, args NowArgs) (any, error) {
		loc := time.UTC
		if args.Timezone != "" {
			l, err := time.LoadLocation(args.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", args.Timezone)
			}
			loc = l
		}
		return clock().In(loc).Format(time.RFC3339), nil
	})
}
