package cmd

import (
	"github.com/spf13/cobra"

	"github.com/huddle-chat/huddle/pkg/cli"
	"github.com/huddle-chat/huddle/server/internal/wizard"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [output-path]",
		Short: "Write a config file interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var outputPath string
			if len(args) > 0 {
				outputPath = args[0]
			}
			p := cli.New(cmd.InOrStdin(), cmd.OutOrStdout())
			return wizard.New(p).Run(outputPath)
		},
	}
}
