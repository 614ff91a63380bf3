package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docpipe/docpipe/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and ingest changed files",
		Long: `Watch a directory tree and keep the index in sync: created and
modified files are ingested, removed files are deleted from the index.
Rapid write bursts are debounced into a single ingestion.

Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args[0])
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, dir string) error {
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(true)

	w, err := watcher.NewDirWatcher(watcher.Options{
		DebounceWindow: a.config.Watch.DebounceDuration(),
	})
	if err != nil {
		return err
	}

	runner := watcher.NewRunner(a.pipeline, a.logger)

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s (ctrl-c to stop)\n", dir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx, dir)
	})
	g.Go(func() error {
		return runner.Run(gctx, w.Events())
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-w.Errors():
				if !ok {
					return nil
				}
				a.logger.Warn("watch_error", slog.String("error", err.Error()))
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.OutOrStdout(), "stopped")
		return nil
	}
	return err
}
