package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/search/semanticscholar"
)

const defaultSearchLimit = 10

func newSearchCmd() *cobra.Command {
	var (
		batchSize int
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search Semantic Scholar and fetch papers until --limit succeed",
		Long: `Pages through the Semantic Scholar search API and fetches each page of
results until --limit papers have been downloaded or the results run out, then
prints a JSON object mapping each downloaded file to its citation (key, bibtex,
title, tldr, year, url). Papers without a BibTeX entry are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			run, err := rt.app.SearchAndFetch(cmd.Context(), query,
				semanticscholar.CitationTransform, batchSize, limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			rt.logger.Info("search finished",
				zap.String("query", query),
				zap.Int("batches", len(run.Batches)),
				zap.Int("fetched", len(run.Result)),
			)
			if run.ArchiveErr != nil {
				rt.logger.Warn("archive incomplete", zap.Error(run.ArchiveErr))
			}
			return writeJSON(cmd.OutOrStdout(), run.Result)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records fetched concurrently (default scraper.batch_size)")
	cmd.Flags().IntVar(&limit, "limit", defaultSearchLimit, "stop once this many papers are fetched; 0 uses scraper.limit")
	return cmd
}
