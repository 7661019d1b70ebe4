package agentloop

import (
	"context"
	"fmt"
)

// CheckFunc inspects every turn an adapter returns. A non-nil error aborts
// the invocation before the turn reaches the context.
type CheckFunc func(context.Context, []Message) error

func (c CheckFunc) Middleware(next Adapter) Adapter {
	return AdapterFunc(func(ctx context.Context, cfg Config, msgs []Message, tools []ToolDef) ([]Message, error) {
		turn, err := next.Complete(ctx, cfg, msgs, tools)
		if err != nil {
			return nil, err
		}

		err = c(ctx, turn)
		if err != nil {
			return nil, fmt.Errorf("check failed: %w", err)
		}

		return turn, nil
	})
}

func WithCheck(c CheckFunc) Option {
	return WithMiddleware(c.Middleware)
}

// WellFormedTurn rejects turns that mix tool calls with text or carry more
// than one assistant message.
func WellFormedTurn(ctx context.Context, turn []Message) error {
	var calls, texts int
	for _, m := range turn {
		switch m.role {
		case RoleToolCall:
			calls++
		case RoleAssistant:
			texts++
		default:
			return fmt.Errorf("unexpected %s message in turn", m.role)
		}
	}

	switch {
	case calls > 0 && texts > 0:
		return fmt.Errorf("turn mixes %d tool calls with assistant text", calls)
	case texts > 1:
		return fmt.Errorf("turn has %d assistant messages", texts)
	}

	return nil
}
