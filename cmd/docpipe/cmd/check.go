package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/preflight"
)

func newCheckCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the environment before indexing",
		Long: `Run preflight checks: data directory writability and free space, file
descriptor headroom for watching, and reachability of the embedding and
rerank services.

Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.Storage.DataDir = dataDir
			}

			opts := []preflight.Option{
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
				preflight.WithEmbedder(cfg.Embedding.Provider, cfg.Embedding.Host),
			}
			if cfg.Rerank.Enabled {
				opts = append(opts, preflight.WithRerankEndpoint(cfg.Rerank.Endpoint))
			}

			checker := preflight.New(opts...)
			results := checker.RunAll(cmd.Context(), cfg.Storage.DataDir)
			checker.PrintResults(results)

			if checker.HasCriticalFailures(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	return cmd
}
