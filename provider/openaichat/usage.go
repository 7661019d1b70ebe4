package openaichat

import (
	"context"
	"sync"

	"github.com/openai/openai-go"
)

// Usage accumulates token accounting across completions. Install it with
// WithMiddleware(u.Middleware).
type Usage struct {
	mu sync.Mutex

	Completions      int
	CompletionTokens int
	PromptTokens     int
	TotalTokens      int
	Errors           int
}

func (u *Usage) Middleware(
	ctx context.Context, params openai.ChatCompletionNewParams, next CreateCompletionFn,
) (*openai.ChatCompletion, error) {
	resp, err := next(ctx, params)

	u.mu.Lock()
	defer u.mu.Unlock()

	if err != nil {
		u.Errors++
		return resp, err
	}

	if resp.Usage.TotalTokens > 0 {
		u.Completions++
	}

	u.CompletionTokens += int(resp.Usage.CompletionTokens)
	u.PromptTokens += int(resp.Usage.PromptTokens)
	u.TotalTokens += int(resp.Usage.TotalTokens)
	return resp, err
}

// Snapshot returns the counters without the lock.
func (u *Usage) Snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()

	return Usage{
		Completions:      u.Completions,
		CompletionTokens: u.CompletionTokens,
		PromptTokens:     u.PromptTokens,
		TotalTokens:      u.TotalTokens,
		Errors:           u.Errors,
	}
}
