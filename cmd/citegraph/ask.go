package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
	"github.com/spf13/cobra"
)

var (
	topK         int
	minRelevance float64
	documentIDs  []string
	answerPage   int
	chunkPage    int
	pageSize     int
	citationPage int
	sortBy       string
	sortOrder    string
	fromDate     string
	toDate       string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with ordinal citations",
	Long: `Ask retrieves the most relevant chunks, lets the generation backend answer
from them and resolves every [n] marker to its source document and byte range.
If the sources do not support an answer, ask fails instead of guessing.

With --page the answer is generated from that page of the ranked sources and
its markers use the global ordinals of the page.

Example:
  citegraph ask --generator ollama "Who founded OpenAI?"
  citegraph ask --ingest history.txt --generator openai "When was OpenAI founded?"
  citegraph ask --citation-page 2 --page-size 1 "Who invested in OpenAI?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

var chunksCmd = &cobra.Command{
	Use:   "chunks <query>",
	Short: "List retrieved chunks without generating an answer",
	Long: `Chunks pages the chunks retrieved for a query. They can be sorted by
relevance, date or title and filtered by publication date and relevance.

Example:
  citegraph chunks --sort date --from 2020-01-01 "OpenAI funding"`,
	Args: cobra.ExactArgs(1),
	RunE: runChunks,
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chunksCmd)

	for _, cmd := range []*cobra.Command{askCmd, chunksCmd} {
		cmd.Flags().IntVar(&topK, "top-k", 0, "number of chunks to retrieve (default from config)")
		cmd.Flags().Float64Var(&minRelevance, "min-relevance", 0, "minimum relevance of a chunk")
		cmd.Flags().StringSliceVar(&documentIDs, "document", nil, "restrict retrieval to these document IDs")
		cmd.Flags().IntVar(&pageSize, "page-size", model.DefaultPageSize, "page size")
		cmd.Flags().StringVar(&sortBy, "sort", "", "sort field (ordinal, relevance, date, title)")
		cmd.Flags().StringVar(&sortOrder, "order", "", "sort order (asc, desc)")
	}
	askCmd.Flags().IntVar(&answerPage, "page", 0, "answer from this page of the ranked sources")
	askCmd.Flags().IntVar(&citationPage, "citation-page", 0, "print only this page of the citations")
	chunksCmd.Flags().IntVar(&chunkPage, "page", 1, "page of chunks")
	chunksCmd.Flags().StringVar(&fromDate, "from", "", "earliest publication date (YYYY-MM-DD)")
	chunksCmd.Flags().StringVar(&toDate, "to", "", "latest publication date (YYYY-MM-DD)")
}

func queryConfig() (*model.QueryConfig, error) {
	ids, err := parseUUIDs(documentIDs)
	if err != nil {
		return nil, err
	}
	return &model.QueryConfig{TopK: topK, MinRelevance: minRelevance, DocumentIDs: ids}, nil
}

func listOptions(page int) (model.ListOptions, error) {
	opts := model.ListOptions{
		PageRequest:  model.PageRequest{Page: page, PageSize: pageSize},
		SortBy:       model.CitationSort(sortBy),
		Order:        model.SortOrder(sortOrder),
		MinRelevance: minRelevance,
	}
	var err error
	if opts.From, err = parseDate(fromDate); err != nil {
		return opts, err
	}
	if opts.To, err = parseDate(toDate); err != nil {
		return opts, err
	}
	return opts, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	config, err := queryConfig()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	g, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := preload(ctx, cmd, g); err != nil {
		return err
	}

	if answerPage > 0 {
		answer, err := g.AskPage(ctx, args[0], config, model.PageRequest{Page: answerPage, PageSize: pageSize})
		if err != nil {
			return err
		}
		return printJSON(answer)
	}

	answer, err := g.Ask(ctx, args[0], config)
	if err != nil {
		return err
	}
	for _, warning := range answer.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
	if citationPage > 0 {
		opts, err := listOptions(citationPage)
		if err != nil {
			return err
		}
		return printJSON(g.CitationPage(answer, opts))
	}
	return printJSON(answer)
}

func runChunks(cmd *cobra.Command, args []string) error {
	config, err := queryConfig()
	if err != nil {
		return err
	}
	opts, err := listOptions(chunkPage)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	g, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := preload(ctx, cmd, g); err != nil {
		return err
	}

	page, err := g.ListChunks(ctx, args[0], config, opts)
	if err != nil {
		return err
	}
	return printJSON(page)
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return &t, nil
}
