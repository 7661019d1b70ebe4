package openaichat

import (
	"context"
	"time"

	"log/slog"

	"github.com/openai/openai-go"
)

func Logger(l *slog.Logger) MiddlewareFunc {
	return func(ctx context.Context, params openai.ChatCompletionNewParams, next CreateCompletionFn) (*openai.ChatCompletion, error) {
		st := time.Now()
		resp, err := next(ctx, params)
		if err != nil {
			l.LogAttrs(ctx, slog.LevelError, "failed executing completion",
				slog.String("model", string(params.Model)),
				slog.Duration("elapsed", time.Since(st)),
				slog.String("error", err.Error()),
			)
			return resp, err
		}

		attrs := []slog.Attr{
			slog.String("model", string(params.Model)),
			slog.Duration("elapsed", time.Since(st)),
			slog.Int("messages", len(params.Messages)),
			slog.Int("tools", len(params.Tools)),
			slog.Int("prompt_tokens", int(resp.Usage.PromptTokens)),
			slog.Int("completion_tokens", int(resp.Usage.CompletionTokens)),
		}
		if len(resp.Choices) > 0 {
			attrs = append(attrs, slog.String("finish_reason", resp.Choices[0].FinishReason))
		}

		l.LogAttrs(ctx, slog.LevelDebug, "executed completion", attrs...)
		return resp, err
	}
}
