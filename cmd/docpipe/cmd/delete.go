package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete a document and its index entries",
		Long: `Delete a document by its full content-hash identifier, removing its
chunks from the metadata store and from both indexes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			ok := false
			defer func() { a.close(ok) }()

			if err := a.pipeline.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			ok = true
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", shortID(args[0]))
			return nil
		},
	}
}
