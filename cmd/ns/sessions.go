package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/novelsync/internal/app"
)

func newSessionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <character>",
		Short: "List a character's chat sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()
			return runSessions(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		},
	}
}

func runSessions(ctx context.Context, out io.Writer, a *app.App, character string) error {
	if _, err := a.Library.Bootstrap(ctx); err != nil {
		return err
	}
	if err := a.Sessions.LoadSessionsForCharacter(ctx, character); err != nil {
		return err
	}
	list := a.Sessions.Sessions(character)
	if len(list) == 0 {
		fmt.Fprintf(out, "No sessions for %s.\n", character)
		return nil
	}
	active := a.Sessions.ActiveID()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tTITLE\tUPDATED")
	for _, s := range list {
		mark := ""
		if s.ID == active {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, s.ID, s.Title, s.LastUpdated)
	}
	return w.Flush()
}
