package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [doc-id]",
		Short: "Show document statuses",
		Long: `List documents with their ingestion status, or show one document in
detail when a full identifier is given.

A 'partial' status means some chunks reached only one of the two
indexes; re-ingesting the file retries them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close(false)

			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				doc, err := a.store.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "id:         %s\n", doc.ID)
				fmt.Fprintf(w, "filename:   %s\n", doc.Filename)
				fmt.Fprintf(w, "media type: %s\n", doc.MediaType)
				fmt.Fprintf(w, "size:       %d bytes\n", doc.ByteSize)
				fmt.Fprintf(w, "status:     %s\n", doc.Status)
				if doc.StatusMsg != "" {
					fmt.Fprintf(w, "detail:     %s\n", doc.StatusMsg)
				}
				fmt.Fprintf(w, "chunks:     %d\n", doc.ChunkCount)
				fmt.Fprintf(w, "ingested:   %s\n", doc.IngestedAt.Format("2006-01-02 15:04:05"))
				return nil
			}

			docs, err := a.store.ListDocuments(ctx)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Fprintln(w, "no documents ingested")
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS\tCHUNKS\tSIZE")
			for _, doc := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
					shortID(doc.ID), doc.Filename, doc.Status, doc.ChunkCount, doc.ByteSize)
			}
			return tw.Flush()
		},
	}
}
