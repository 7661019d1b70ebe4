package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rhettg/agentloop"
	"github.com/rhettg/agentloop/provider"
	"github.com/rhettg/agentloop/provider/ollamachat"
	"github.com/rhettg/agentloop/provider/openaichat"
	"github.com/rhettg/agentloop/provider/openaichat/session"
	"github.com/rhettg/agentloop/provider/openrouter"
	"github.com/rhettg/agentloop/tools"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Drive a language model through a tool calling loop",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&configFile, "config", "", "config file (default ./agentloop.yaml or ~/.config/agentloop/agentloop.yaml)")
	f.String("provider", defaultProvider, "adapter name: "+strings.Join(provider.Names(), ", "))
	f.String("api-key", "", "provider credential (defaults to the provider's usual environment variable)")
	f.String("model", "", "model name")
	f.String("base-url", "", "provider base URL")
	f.String("system", "", "system prompt")
	f.Int("max-rounds", 20, "maximum adapter calls per run, 0 for unbounded")
	f.Int("parallel", 1, "tool calls to execute concurrently")
	f.Int("max-context-tokens", 0, "trim the oldest turns sent to the model beyond this many tokens")
	f.String("fs-root", "", "enable read-only filesystem tools rooted at this directory")
	f.String("record-dir", "", "record every provider exchange below this directory")
	f.String("otlp-endpoint", "", "export traces to this OTLP/HTTP endpoint")
	f.BoolP("verbose", "v", false, "debug logging")

	load := func(cmd *cobra.Command) (*settings, error) {
		v, err := newViper(configFile, cmd.Flags())
		if err != nil {
			return nil, err
		}
		return loadSettings(v)
	}

	cmd.AddCommand(runCmd(load))
	cmd.AddCommand(stepCmd(load))
	cmd.AddCommand(tokensCmd())

	return cmd
}

type loader func(cmd *cobra.Command) (*settings, error)

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// agentSession bundles an Agent with whatever must be released after use.
type agentSession struct {
	agent    *agentloop.Agent
	usage    *openaichat.Usage
	shutdown func(context.Context) error
}

func (s *agentSession) Close(ctx context.Context) error {
	if s.shutdown == nil {
		return nil
	}
	return s.shutdown(ctx)
}

func newAdapter(s *settings, logger *slog.Logger, usage *openaichat.Usage) (agentloop.Adapter, error) {
	switch s.Provider {
	case openaichat.Name, openrouter.Name:
		opts := []openaichat.Option{
			openaichat.WithMiddleware(usage.Middleware),
			openaichat.WithMiddleware(openaichat.Logger(logger)),
		}
		if s.RecordDir != "" {
			store := session.NewStore(s.RecordDir)
			logger.Info("recording provider exchanges", slog.String("path", store.Path()))
			opts = append(opts, openaichat.WithMiddleware(store.Middleware))
		}

		if s.Provider == openrouter.Name {
			return openrouter.New(opts...), nil
		}
		return openaichat.New(opts...), nil
	case ollamachat.Name:
		return ollamachat.New(ollamachat.WithMiddleware(ollamachat.Logger(logger))), nil
	}

	return provider.Get(s.Provider)
}

func newAgentSession(ctx context.Context, s *settings, logger *slog.Logger) (*agentSession, error) {
	sess := &agentSession{usage: &openaichat.Usage{}}

	adapter, err := newAdapter(s, logger, sess.usage)
	if err != nil {
		return nil, err
	}

	opts := []agentloop.Option{
		agentloop.WithLogger(logger),
		agentloop.WithMaxRounds(s.MaxRounds),
		agentloop.WithParallelTools(s.Parallel),
		agentloop.WithCheck(agentloop.WellFormedTurn),
	}

	if s.MaxContextTokens > 0 {
		codec, err := agentloop.DefaultCodec()
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		opts = append(opts, agentloop.WithFilter(agentloop.TokenLimitFilter(codec, s.MaxContextTokens)))
	}

	if s.OTLPEndpoint != "" {
		tp, err := newTracerProvider(ctx, s.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		sess.shutdown = tp.Shutdown
		opts = append(opts, agentloop.WithTracerProvider(tp))
	}

	sess.agent = agentloop.New(adapter, s.Adapter, opts...)

	// The ollama adapter is text only and rejects any advertised tool.
	if s.Provider == ollamachat.Name {
		if s.FSRoot != "" {
			logger.Warn("filesystem tools ignored for text-only provider", slog.String("provider", s.Provider))
		}
		return sess, nil
	}

	ts := tools.New().Add(tools.Add(), tools.Now(nil))
	if s.FSRoot != "" {
		ts.AddTools(tools.Filesystem(s.FSRoot))
	}
	if err := ts.Register(sess.agent); err != nil {
		return nil, err
	}

	return sess, nil
}

// prompt joins args, or reads stdin when there are none.
func prompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("error reading from stdin: %w", err)
	}

	p := strings.TrimSpace(string(data))
	if p == "" {
		return "", fmt.Errorf("no prompt provided")
	}
	return p, nil
}
