package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rhettg/agentloop"
	"github.com/spf13/cobra"
)

func tokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens [transcript.yaml]",
		Short: "Estimate the prompt size of a YAML transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read transcript: %w", err)
			}

			msgs, err := agentloop.ImportYAML(string(data))
			if err != nil {
				return err
			}

			if err := agentloop.ValidateContext(msgs); err != nil {
				return fmt.Errorf("invalid transcript: %w", err)
			}

			codec, err := agentloop.DefaultCodec()
			if err != nil {
				return fmt.Errorf("load tokenizer: %w", err)
			}

			n, err := agentloop.EstimateTokens(codec, msgs)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d messages, %d tokens\n", len(msgs), n)
			return nil
		},
	}
}
