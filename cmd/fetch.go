package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/app"
	"github.com/JakeFAU/paperscraper/internal/scraper"
	"github.com/JakeFAU/paperscraper/internal/search/semanticscholar"
)

func newFetchCmd() *cobra.Command {
	var (
		input     string
		batchSize int
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the papers listed in a JSON file",
		Long: `Reads a JSON array of Semantic Scholar paper objects (paperId, title,
externalIds, openAccessPdf, ...) and fetches each one into scraper.output_dir.
Use --input - to read from stdin. Prints a JSON summary of the run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			papers, err := readPapers(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}
			run, err := rt.app.Fetch(cmd.Context(), semanticscholar.Records(papers), nil, batchSize, limit)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			if run.ArchiveErr != nil {
				rt.logger.Warn("archive incomplete", zap.Error(run.ArchiveErr))
			}
			return writeJSON(cmd.OutOrStdout(), summarize(run, len(papers)))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file with an array of papers, or - for stdin")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records fetched concurrently (default scraper.batch_size)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many papers (default scraper.limit)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func readPapers(stdin io.Reader, input string) ([]*scraper.Paper, error) {
	r := stdin
	if input != "-" {
		// #nosec G304 -- the operator chooses the input file.
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var papers []*scraper.Paper
	if err := json.NewDecoder(r).Decode(&papers); err != nil {
		return nil, fmt.Errorf("decode papers: %w", err)
	}
	out := papers[:0]
	for _, p := range papers {
		if p != nil && p.PaperID != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("input contains no papers with a paperId")
	}
	return out, nil
}

type runSummary struct {
	BatchID   string            `json:"batch_id"`
	Requested int               `json:"requested"`
	Fetched   int               `json:"fetched"`
	Results   map[string]any    `json:"results"`
	Archived  []archivedSummary `json:"archived,omitempty"`
}

type archivedSummary struct {
	RecordID string `json:"record_id"`
	BlobURI  string `json:"blob_uri"`
	Hash     string `json:"hash"`
}

func summarize(run app.Run, requested int) runSummary {
	s := runSummary{
		BatchID:   run.BatchID.String(),
		Requested: requested,
		Fetched:   len(run.Result),
		Results:   map[string]any(run.Result),
	}
	for _, n := range run.Archived {
		s.Archived = append(s.Archived, archivedSummary{RecordID: n.RecordID, BlobURI: n.BlobURI, Hash: n.Hash})
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
