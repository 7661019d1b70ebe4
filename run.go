package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Step appends seed and makes exactly one adapter call. The returned turn is
// appended to the context as well; tool calls in it are left for the caller.
//
// A zero seed continues the conversation without adding a message.
func (a *Agent) Step(ctx context.Context, seed Message, opts ...CallOption) ([]Message, error) {
	runID := uuid.NewString()
	log := a.logger.With(slog.String("run_id", runID))

	ctx, span := a.tracer.Start(ctx, "agentloop.step",
		trace.WithAttributes(attribute.String("agentloop.run_id", runID)))
	defer span.End()

	conv := a.conversation(opts)
	if !seed.IsZero() {
		conv.append(seed)
	}

	turn, err := a.complete(ctx, log, conv, 1)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	conv.append(turn...)

	return turn, nil
}

// Run drives the conversation until the model answers with an Assistant
// message. Every tool call the model makes along the way is dispatched and
// its result fed back. The returned slice holds every message produced by
// this invocation, excluding seed.
//
// Tool failures are reported to the model, not returned. Adapter failures,
// unknown tools and exceeding WithMaxRounds end the invocation with an error;
// messages appended up to that point stay in the context unless
// WithoutAppend was given.
func (a *Agent) Run(ctx context.Context, seed Message, opts ...CallOption) ([]Message, error) {
	runID := uuid.NewString()
	log := a.logger.With(slog.String("run_id", runID))

	ctx, span := a.tracer.Start(ctx, "agentloop.run",
		trace.WithAttributes(attribute.String("agentloop.run_id", runID)))
	defer span.End()

	msgs, rounds, err := a.run(ctx, log, seed, opts)
	span.SetAttributes(attribute.Int("agentloop.rounds", rounds))
	if err != nil {
		recordError(span, err)
		log.LogAttrs(ctx, slog.LevelWarn, "run failed",
			slog.Int("rounds", rounds),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	log.LogAttrs(ctx, slog.LevelDebug, "run complete",
		slog.Int("rounds", rounds),
		slog.Int("messages", len(msgs)),
	)
	return msgs, nil
}

func (a *Agent) run(ctx context.Context, log *slog.Logger, seed Message, opts []CallOption) ([]Message, int, error) {
	conv := a.conversation(opts)
	if !seed.IsZero() {
		conv.append(seed)
	}

	var all []Message
	for round := 1; ; round++ {
		if a.maxRounds > 0 && round > a.maxRounds {
			return nil, round - 1, NewError(KindLoopBoundExceeded, "",
				fmt.Sprintf("no assistant reply after %d rounds", a.maxRounds))
		}

		turn, err := a.complete(ctx, log, conv, round)
		if err != nil {
			return nil, round, err
		}

		conv.append(turn...)
		all = append(all, turn...)

		if turn[len(turn)-1].role == RoleAssistant {
			return all, round, nil
		}

		calls := ToolCalls(turn)
		if len(calls) == 0 {
			return nil, round, NewError(KindMalformedResponse, "",
				fmt.Sprintf("turn %s has neither an assistant reply nor tool calls", formatMessages(turn)))
		}

		results, err := a.dispatch(ctx, log, conv, calls)
		all = append(all, results...)
		if err != nil {
			return nil, round, err
		}
	}
}

func (a *Agent) complete(ctx context.Context, log *slog.Logger, conv *conversation, round int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs := conv.snapshot()
	tools := a.registry.Defs()

	ctx, span := a.tracer.Start(ctx, "agentloop.adapter", trace.WithAttributes(
		attribute.Int("agentloop.round", round),
		attribute.Int("agentloop.messages", len(msgs)),
		attribute.Int("agentloop.tools", len(tools)),
	))
	defer span.End()

	st := time.Now()
	turn, err := a.adapter.Complete(ctx, a.config, msgs, tools)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if len(turn) == 0 {
		err := NewError(KindMalformedResponse, "", "adapter returned an empty turn")
		recordError(span, err)
		return nil, err
	}

	log.LogAttrs(ctx, slog.LevelDebug, "model turn",
		slog.Int("round", round),
		slog.Duration("elapsed", time.Since(st)),
		slog.Int("messages", len(turn)),
		slog.Int("tool_calls", len(ToolCalls(turn))),
	)

	return turn, nil
}

func (a *Agent) unknownTool(call Message) error {
	return NewError(KindUnknownTool, "", fmt.Sprintf("tool %q is not registered", call.toolName))
}

// dispatch executes calls and appends one ToolResult per call, in call order.
// It stops at the first call naming an unregistered tool.
func (a *Agent) dispatch(ctx context.Context, log *slog.Logger, conv *conversation, calls []Message) ([]Message, error) {
	if a.parallel > 1 && len(calls) > 1 {
		return a.dispatchParallel(ctx, log, conv, calls)
	}

	results := make([]Message, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		tool, ok := a.registry.Find(call.toolName)
		if !ok {
			return results, a.unknownTool(call)
		}

		r := a.execute(ctx, log, tool, call)
		conv.append(r)
		results = append(results, r)
	}

	return results, nil
}

func (a *Agent) dispatchParallel(ctx context.Context, log *slog.Logger, conv *conversation, calls []Message) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Only the calls ahead of the first unknown tool run, matching what
	// sequential dispatch would have done.
	var unknown error
	resolved := make([]Tool, 0, len(calls))
	for _, call := range calls {
		tool, ok := a.registry.Find(call.toolName)
		if !ok {
			unknown = a.unknownTool(call)
			break
		}
		resolved = append(resolved, tool)
	}

	idx := make([]int, len(resolved))
	for i := range idx {
		idx[i] = i
	}

	// Calls not yet started when ctx is canceled are skipped, as in
	// sequential dispatch.
	mapper := iter.Mapper[int, *Message]{MaxGoroutines: a.parallel}
	ran := mapper.Map(idx, func(i *int) *Message {
		if ctx.Err() != nil {
			return nil
		}
		r := a.execute(ctx, log, resolved[*i], calls[*i])
		return &r
	})

	// Only the leading run of executed calls is kept so results stay a
	// prefix of calls.
	results := make([]Message, 0, len(ran))
	for _, r := range ran {
		if r == nil {
			break
		}
		results = append(results, *r)
	}
	conv.append(results...)

	if len(results) < len(ran) {
		return results, ctx.Err()
	}
	return results, unknown
}

func (a *Agent) execute(ctx context.Context, log *slog.Logger, tool Tool, call Message) (result Message) {
	ctx, span := a.tracer.Start(ctx, "agentloop.tool", trace.WithAttributes(
		attribute.String("agentloop.tool.name", call.toolName),
		attribute.String("agentloop.tool.call_id", call.callID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = ToolResult(call.callID, fmt.Sprintf("tool panicked: %v", r), true)
		}
		if result.isError {
			span.SetStatus(codes.Error, result.content)
			log.LogAttrs(ctx, slog.LevelDebug, "tool failed",
				slog.String("tool", call.toolName),
				slog.String("call_id", call.callID),
				slog.String("error", result.content),
			)
		}
	}()

	args := ParseArguments(call.argsText)
	if !args.Valid() {
		return ToolResult(call.callID, fmt.Sprintf("invalid tool arguments: %v", args.Err()), true)
	}

	if tool.Execute == nil {
		return ToolResult(call.callID, fmt.Sprintf("tool %q has no implementation", call.toolName), true)
	}

	st := time.Now()
	out, err := tool.Execute(ctx, args.JSON())
	if err != nil {
		return ToolResult(call.callID, err.Error(), true)
	}

	text, err := resultText(out)
	if err != nil {
		return ToolResult(call.callID, fmt.Sprintf("failed to encode tool result: %v", err), true)
	}

	log.LogAttrs(ctx, slog.LevelDebug, "tool executed",
		slog.String("tool", call.toolName),
		slog.String("call_id", call.callID),
		slog.Duration("elapsed", time.Since(st)),
	)

	return ToolResult(call.callID, text, false)
}

// resultText coerces a tool's return value to the text fed back to the
// model. Strings pass through, everything else is JSON encoded.
func resultText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
