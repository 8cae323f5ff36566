package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huddle-chat/huddle/server/internal/config"
)

func newSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a random token signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := config.GenerateRandomSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
