package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huddle-chat/huddle/client/internal/config"
	"github.com/huddle-chat/huddle/client/internal/directory"
)

func newRoomsCmd() *cobra.Command {
	rooms := &cobra.Command{
		Use:   "rooms",
		Short: "Create and look up rooms",
	}
	rooms.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a room and print its code",
		Args:  cobra.NoArgs,
		RunE:  runRoomsCreate,
	})
	rooms.AddCommand(&cobra.Command{
		Use:   "check CODE",
		Short: "Check whether a room exists",
		Args:  cobra.ExactArgs(1),
		RunE:  runRoomsCheck,
	})
	return rooms
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error: %w", err)
	}
	return cfg, nil
}

func runRoomsCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	code, err := directory.New(cfg.APIURL, nil).Create(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}

func runRoomsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	code, err := directory.NormalizeCode(args[0])
	if err != nil {
		return err
	}
	exists, err := directory.New(cfg.APIURL, nil).Exists(cmd.Context(), code)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("room %s does not exist", code)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "room %s exists\n", code)
	return nil
}
