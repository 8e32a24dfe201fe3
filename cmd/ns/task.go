package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/novelsync/internal/app"
	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/tasks"
)

func newTaskCmd(configPath *string) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "task <id>",
		Short: "Show a background task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			var task *models.Task
			if wait {
				task, err = awaitTask(ctx, a, args[0])
			} else {
				task, err = a.API.Task(ctx, args[0])
			}
			if task != nil {
				printTask(cmd.OutOrStdout(), task)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the task finishes")
	return cmd
}

func awaitTask(ctx context.Context, a *app.App, id string) (*models.Task, error) {
	return tasks.Await(ctx, a.API, id, tasks.AwaitOpts{
		Interval: time.Duration(a.Config.Tasks.PollSec) * time.Second,
		Timeout:  time.Duration(a.Config.Tasks.AwaitTimeoutSec) * time.Second,
	})
}

func printTask(out io.Writer, t *models.Task) {
	fmt.Fprintf(out, "Task:     %s\n", t.ID)
	if t.Type != "" {
		fmt.Fprintf(out, "Type:     %s\n", t.Type)
	}
	fmt.Fprintf(out, "Status:   %s\n", t.Status)
	fmt.Fprintf(out, "Progress: %.0f%%\n", t.Progress)
	if t.StatusText != "" {
		fmt.Fprintf(out, "Detail:   %s\n", t.StatusText)
	}
	if msg := t.ErrorText(); msg != "" {
		fmt.Fprintf(out, "Error:    %s\n", msg)
	}
}

func newExportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export all of the user's data and print the download link",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()
			return runExport(cmd.Context(), cmd.OutOrStdout(), a)
		},
	}
}

func runExport(ctx context.Context, out io.Writer, a *app.App) error {
	if config.IsAnonymous(a.UserID()) {
		return errors.New("export: log in first (ns login <user-id>)")
	}
	id, err := a.API.ExportData(ctx, a.UserID())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Export submitted as task %s\n", id)
	a.Tasks.Add(models.Task{ID: id, Type: models.TaskExport})
	task, err := awaitTask(ctx, a, id)
	if err != nil {
		return err
	}
	url := task.ResultField("download_url")
	if url == "" {
		return fmt.Errorf("export: task %s finished without a download link", id)
	}
	fmt.Fprintf(out, "Download: %s\n", url)
	return nil
}
