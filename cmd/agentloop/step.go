package main

import (
	"fmt"
	"log/slog"

	"github.com/rhettg/agentloop"
	"github.com/spf13/cobra"
)

func stepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "step [prompt]",
		Short: "Make a single model call and print the returned turn",
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

			turn, err := sess.agent.Step(ctx, agentloop.User(p))
			if err != nil {
				return err
			}

			for _, m := range turn {
				fmt.Fprintln(cmd.OutOrStdout(), m.String())
			}
			return nil
		},
	}
}
