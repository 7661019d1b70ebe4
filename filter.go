package agentloop

import (
	"context"
	"fmt"
)

// FilterFunc rewrites the messages an adapter sees for one call. It never
// changes the Agent's own context.
type FilterFunc func(context.Context, []Message) ([]Message, error)

func (f FilterFunc) Middleware(next Adapter) Adapter {
	return AdapterFunc(func(ctx context.Context, cfg Config, msgs []Message, tools []ToolDef) ([]Message, error) {
		fMsgs, err := f(ctx, msgs)
		if err != nil {
			return nil, fmt.Errorf("filter failed: %w", err)
		}

		return next.Complete(ctx, cfg, fMsgs, tools)
	})
}

func WithFilter(f FilterFunc) Option {
	return WithMiddleware(f.Middleware)
}

// LimitMessagesFilter keeps the leading system messages plus at most max
// messages in total. The window is moved forward as needed so it never begins
// part way through a tool call batch.
func LimitMessagesFilter(max int) FilterFunc {
	return func(ctx context.Context, msgs []Message) ([]Message, error) {
		if len(msgs) <= max {
			return msgs, nil
		}

		head, rest := splitSystem(msgs)
		keep := max - len(head)
		if keep < 0 {
			keep = 0
		}

		return joinWindow(head, rest, len(rest)-keep), nil
	}
}

func splitSystem(msgs []Message) ([]Message, []Message) {
	n := 0
	for n < len(msgs) && msgs[n].role == RoleSystem {
		n++
	}
	return msgs[:n], msgs[n:]
}

// turnBoundary reports whether a window may start at msgs[i] without leaving
// a tool result separated from its call.
func turnBoundary(msgs []Message, i int) bool {
	if i == 0 || i >= len(msgs) {
		return true
	}

	switch msgs[i].role {
	case RoleToolResult:
		return false
	case RoleToolCall:
		return msgs[i-1].role != RoleToolCall
	}
	return true
}

func joinWindow(head, rest []Message, start int) []Message {
	if start < 0 {
		start = 0
	}
	for !turnBoundary(rest, start) {
		start++
	}

	out := make([]Message, 0, len(head)+len(rest)-start)
	out = append(out, head...)
	out = append(out, rest[start:]...)
	return out
}
