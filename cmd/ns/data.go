package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/novelsync/internal/app"
	"github.com/zulandar/novelsync/internal/library"
	"github.com/zulandar/novelsync/internal/models"
)

func newBootstrapCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Show the user's settings snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()
			return runBootstrap(cmd.Context(), cmd.OutOrStdout(), a)
		},
	}
}

func runBootstrap(ctx context.Context, out io.Writer, a *app.App) error {
	b, err := a.Library.Bootstrap(ctx)
	if err != nil {
		return err
	}
	cfg := b.UserConfig
	fmt.Fprintf(out, "User:        %s\n", a.UserID())
	fmt.Fprintf(out, "Character:   %s\n", cfg.ActiveCharacter)
	fmt.Fprintf(out, "Persona:     %s\n", cfg.UserPersona)
	if cfg.ActiveSessionID != nil {
		fmt.Fprintf(out, "Session:     %s\n", *cfg.ActiveSessionID)
	}
	fmt.Fprintf(out, "Model ready: %t (%d verified)\n", b.SystemStatus.ModelIsReady, len(b.SystemStatus.VerifiedModels))
	fmt.Fprintf(out, "Public:      %d characters, %d presets, %d world info, %d groups\n",
		len(b.PublicCharacters), len(b.PublicPresets), len(b.PublicWorldInfo), len(b.PublicGroups))
	fmt.Fprintf(out, "Hidden:      %d public items\n", len(cfg.DeletedPublicItems))
	return nil
}

func newListCmd(configPath *string) *cobra.Command {
	var (
		req    library.PageRequest
		merged bool
	)

	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List library items of one type",
		Long:  "Lists characters, personas, presets, world_info or groups. With --merged the public library is included.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Type = models.SingularType(args[0])
			a, err := openApp(*configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()
			if merged {
				return runListMerged(cmd.Context(), cmd.OutOrStdout(), a, req.Type)
			}
			return runList(cmd.Context(), cmd.OutOrStdout(), a, req)
		},
	}

	cmd.Flags().IntVar(&req.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&req.Limit, "limit", library.DefaultPageLimit, "items per page")
	cmd.Flags().StringVar(&req.Search, "search", "", "filter by name")
	cmd.Flags().BoolVar(&merged, "merged", false, "include public items")
	return cmd
}

func runList(ctx context.Context, out io.Writer, a *app.App, req library.PageRequest) error {
	page, err := a.Library.Page(ctx, req)
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		fmt.Fprintf(out, "No %s items.\n", req.Type)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tNAME")
	for _, e := range page.Items {
		fmt.Fprintf(w, "%s\t%s\n", e.Filename(), e.DisplayName())
	}
	w.Flush()
	fmt.Fprintf(out, "Page %d of %d (%d items)\n", page.CurrentPage, page.TotalPages, page.TotalItems)
	return nil
}

func runListMerged(ctx context.Context, out io.Writer, a *app.App, dataType string) error {
	if err := preload(ctx, a, dataType); err != nil {
		return err
	}
	items := a.Library.Merged(dataType)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tNAME\tSOURCE")
	for _, it := range items {
		src := "public"
		if it.Private {
			src = "private"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", it.Filename(), it.Entity.DisplayName(), src)
	}
	w.Flush()
	return nil
}

func newDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <filename>",
		Short: "Delete a private item or hide a public one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()
			dataType := models.SingularType(args[0])
			ctx := cmd.Context()
			if err := preload(ctx, a, dataType); err != nil {
				return err
			}
			if err := a.Library.DeleteEntity(ctx, dataType, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", dataType, args[1])
			return nil
		},
	}
}

// preloadLimit is large enough to fit a whole private library on one page.
const preloadLimit = 1000

// preload fetches the snapshot and the private pages the merged view of
// dataType is built from. Characters merge in personas.
func preload(ctx context.Context, a *app.App, dataType string) error {
	if _, err := a.Library.Bootstrap(ctx); err != nil {
		return err
	}
	types := []string{dataType}
	if dataType == models.TypeCharacter {
		types = append(types, models.TypePersona)
	}
	for _, t := range types {
		if _, err := a.Library.Page(ctx, library.PageRequest{Type: t, Limit: preloadLimit}); err != nil {
			return err
		}
	}
	return nil
}
