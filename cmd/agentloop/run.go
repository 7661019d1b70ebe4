package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rhettg/agentloop"
	"github.com/spf13/cobra"
)

func runCmd(load loader) *cobra.Command {
	var transcript string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the tool loop until the model answers",
		Long:  "Run the tool loop until the model answers. The prompt is read from stdin when no arguments are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd)
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), s.Verbose)
			ctx := cmd.Context()

			p, err := prompt(cmd, args)
			if err != nil {
				return err
			}

			sess, err := newAgentSession(ctx, s, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := sess.Close(ctx); err != nil {
					logger.Warn("failed to flush traces", slog.String("error", err.Error()))
				}
			}()

			out, runErr := sess.agent.Run(ctx, agentloop.User(p))

			if transcript != "" {
				if err := writeTranscript(transcript, sess.agent.Context()); err != nil {
					return err
				}
			}

			u := sess.usage.Snapshot()
			logger.Debug("usage",
				slog.Int("completions", u.Completions),
				slog.Int("prompt_tokens", u.PromptTokens),
				slog.Int("completion_tokens", u.CompletionTokens),
			)

			if runErr != nil {
				return runErr
			}

			fmt.Fprintln(cmd.OutOrStdout(), out[len(out)-1].Content())
			return nil
		},
	}

	cmd.Flags().StringVar(&transcript, "transcript", "", "write the conversation to this file as YAML")

	return cmd
}

func writeTranscript(path string, msgs []agentloop.Message) error {
	doc, err := agentloop.ExportYAML(msgs)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
