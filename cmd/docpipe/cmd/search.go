package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/search"
)

const timeRound = time.Millisecond

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit         int
	vectorWeight  float64
	lexicalWeight float64
	normalization string
	rerank        bool
	noRerank      bool
	format        string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index with hybrid retrieval",
		Long: `Run a hybrid query: vector and lexical branches in parallel, fused
by weighted normalized scores, optionally reranked by a cross-encoder.

Weights need not sum to 1; they are normalized internally, so
--vector-weight 8 --lexical-weight 2 ranks like 0.8/0.2.

Examples:
  docpipe search "how is ingestion retried"
  docpipe search "fusion weights" --vector-weight 0.8 --lexical-weight 0.2
  docpipe search "chunk overlap" --rerank --limit 5
  docpipe search "status codes" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().Float64Var(&opts.vectorWeight, "vector-weight", 0, "Vector branch weight")
	cmd.Flags().Float64Var(&opts.lexicalWeight, "lexical-weight", 0, "Lexical branch weight")
	cmd.Flags().StringVar(&opts.normalization, "normalization", "", "Score normalization: minmax, rank")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Force cross-encoder reranking")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Disable reranking for this query")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close(false)

	cfg := search.RetrievalConfig{
		Limit:         opts.limit,
		Normalization: opts.normalization,
	}
	if opts.vectorWeight != 0 || opts.lexicalWeight != 0 {
		cfg.Weights = search.Weights{Vector: opts.vectorWeight, Lexical: opts.lexicalWeight}
	}
	cfg.Rerank = (a.config.Rerank.Enabled || opts.rerank) && !opts.noRerank

	resp, err := a.engine.Search(ctx, query, cfg)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return printJSON(cmd, resp)
	}
	printText(cmd, resp)
	return nil
}

// searchResultJSON is the stable JSON shape for one result.
type searchResultJSON struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Score      float64 `json:"score"`
	Reranked   bool    `json:"reranked"`
	Section    string  `json:"section,omitempty"`
	Text       string  `json:"text"`
}

type searchResponseJSON struct {
	Query         string             `json:"query"`
	Results       []searchResultJSON `json:"results"`
	VectorHits    int                `json:"vector_hits"`
	LexicalHits   int                `json:"lexical_hits"`
	Degraded      bool               `json:"degraded"`
	RerankApplied bool               `json:"rerank_applied"`
	ElapsedMs     int64              `json:"elapsed_ms"`
}

func printJSON(cmd *cobra.Command, resp *search.Response) error {
	out := searchResponseJSON{
		Query:         resp.Query,
		VectorHits:    resp.VectorHits,
		LexicalHits:   resp.LexicalHits,
		Degraded:      resp.Degraded,
		RerankApplied: resp.RerankApplied,
		ElapsedMs:     resp.Elapsed.Milliseconds(),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, searchResultJSON{
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Ordinal:    r.Chunk.Ordinal,
			Score:      r.Candidate.Score,
			Reranked:   r.Candidate.Reranked,
			Section:    r.Chunk.Section,
			Text:       r.Chunk.Text,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printText(cmd *cobra.Command, resp *search.Response) {
	w := cmd.OutOrStdout()

	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
	}
	for i, r := range resp.Results {
		header := fmt.Sprintf("%2d. %s  doc %s #%d  score %.4f",
			i+1, shortID(r.Chunk.ID), shortID(r.Chunk.DocumentID), r.Chunk.Ordinal, r.Candidate.Score)
		if r.Chunk.Section != "" {
			header += "  [" + r.Chunk.Section + "]"
		}
		fmt.Fprintln(w, header)
		fmt.Fprintln(w, "    "+snippet(r.Chunk.Text, 160))
	}

	status := fmt.Sprintf("%d results in %s (vector %d, lexical %d)",
		len(resp.Results), resp.Elapsed.Round(timeRound), resp.VectorHits, resp.LexicalHits)
	if resp.Degraded {
		for branch := range resp.BranchErrors {
			status += fmt.Sprintf(", %s branch degraded", branch)
		}
	}
	if resp.RerankApplied {
		status += ", reranked"
	}
	fmt.Fprintln(w, status)
}

// shortID abbreviates a hex identifier for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// snippet flattens and truncates chunk text for one-line display.
func snippet(text string, maxLen int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) <= maxLen {
		return flat
	}
	return flat[:maxLen] + "..."
}
