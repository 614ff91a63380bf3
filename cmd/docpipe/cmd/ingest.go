package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/output"
	"github.com/docpipe/docpipe/internal/scanner"
	"github.com/docpipe/docpipe/internal/watcher"
)

func newIngestCmd() *cobra.Command {
	var (
		mediaType string
		excludes  []string
	)

	cmd := &cobra.Command{
		Use:   "ingest <paths...>",
		Short: "Ingest documents into the index",
		Long: `Ingest documents from files or directories.

Directories are scanned recursively for supported file types; hidden
entries and --exclude patterns are skipped. Each file is fingerprinted
by content: re-ingesting identical bytes is a no-op that reports the
existing document. Media type is inferred from the file extension
unless --media-type is given.

Examples:
  docpipe ingest notes.md guide.txt
  docpipe ingest ./docs --exclude 'drafts'
  docpipe ingest --media-type text/plain LICENSE`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args, mediaType, excludes)
		},
	}

	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media type for all files (default: by extension)")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Glob patterns to skip when scanning directories")
	return cmd
}

// ingestTarget is one file to ingest; display keeps directory-relative
// paths readable in output.
type ingestTarget struct {
	display   string
	path      string
	mediaType string
}

func runIngest(ctx context.Context, cmd *cobra.Command, paths []string, mediaType string, excludes []string) error {
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	ok := false
	defer func() { a.close(ok) }()

	ow := output.New(cmd.OutOrStdout(), isatty.IsTerminal(os.Stdout.Fd()))

	targets, failed, err := expandTargets(ctx, cmd, paths, mediaType, excludes)
	if err != nil {
		return err
	}
	total := len(targets) + failed

	for i, t := range targets {
		ow.Progress(i+1, len(targets), t.display)

		data, err := os.ReadFile(t.path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", t.display, err)
			failed++
			continue
		}

		report, err := a.pipeline.Ingest(ctx, filepath.Base(t.path), t.mediaType, data)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "fail %s: %v\n", t.display, err)
			failed++
			continue
		}

		switch {
		case report.Duplicate:
			ow.Line("dup  %s  %s (%d chunks, already indexed)",
				shortID(report.DocumentID), t.display, report.ChunkCount)
		default:
			ow.Line("ok   %s  %s (%d chunks, %s, %s)",
				shortID(report.DocumentID), t.display, report.ChunkCount, report.Status, report.Elapsed.Round(timeRound))
		}
	}

	ok = true
	if failed > 0 {
		return pipeerrors.New(pipeerrors.ErrCodeInternal,
			fmt.Sprintf("%d of %d files failed", failed, total), nil)
	}
	return nil
}

// expandTargets resolves file and directory arguments into a flat file
// list. Unreadable or oversized entries count as failures but do not
// stop the run.
func expandTargets(ctx context.Context, cmd *cobra.Command, paths []string, mediaType string, excludes []string) ([]ingestTarget, int, error) {
	var (
		targets []ingestTarget
		failed  int
	)

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", path, err)
			failed++
			continue
		}

		if !info.IsDir() {
			mt := mediaType
			if mt == "" {
				var known bool
				if mt, known = watcher.MediaTypeFor(path); !known {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: unknown media type (use --media-type)\n", path)
					failed++
					continue
				}
			}
			targets = append(targets, ingestTarget{display: path, path: path, mediaType: mt})
			continue
		}

		results, err := scanner.Scan(ctx, scanner.Options{
			RootDir:         path,
			ExcludePatterns: excludes,
		})
		if err != nil {
			return nil, 0, err
		}
		for r := range results {
			if r.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skip %v\n", r.Err)
				failed++
				continue
			}
			mt := r.File.MediaType
			if mediaType != "" {
				mt = mediaType
			}
			targets = append(targets, ingestTarget{
				display:   filepath.Join(path, r.File.Path),
				path:      r.File.AbsPath,
				mediaType: mt,
			})
		}
	}
	return targets, failed, nil
}
