package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/novelsync/internal/db"
	"github.com/zulandar/novelsync/internal/settings"
)

func newLoginCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Remember the user id for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettings(*configPath, func(store *settings.Store) error {
				if err := store.SetUserID(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", args[0])
				return nil
			})
		},
	}
}

func newLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettings(*configPath, func(store *settings.Store) error {
				if err := store.ClearUserID(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

// withSettings opens only the settings database.
func withSettings(configPath string, fn func(*settings.Store) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gdb, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	store, err := settings.New(gdb)
	if err != nil {
		return err
	}
	return fn(store)
}
