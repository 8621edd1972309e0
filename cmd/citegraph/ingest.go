package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/siherrmann/citegraph"
	"github.com/siherrmann/citegraph/model"
	"github.com/spf13/cobra"
)

var (
	ingestTitle     string
	ingestSourceURI string
	ingestTier      string
	ingestFiles     []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest text files into the graph",
	Long: `Ingest runs every file through chunking, entity extraction, linking,
relation extraction and embedding. Files are processed concurrently; one
failing file does not stop the others. Use - to read from stdin.

Re-ingesting unchanged content is a no-op apart from completing missing steps.

Example:
  citegraph ingest notes/*.txt
  citegraph ingest --graph-store postgres report.txt
  cat article.txt | citegraph ingest --source-uri https://example.org/article -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (single file only, default: file name)")
	ingestCmd.Flags().StringVar(&ingestSourceURI, "source-uri", "", "source URI (single file only, default: file URI)")
	ingestCmd.Flags().StringVar(&ingestTier, "tier", "", "source tier")

	// Commands against the in-memory store only see what they ingest themselves.
	for _, cmd := range []*cobra.Command{askCmd, chunksCmd, entitiesCmd, relationsCmd, pathsCmd, subgraphCmd, extractCmd} {
		cmd.Flags().StringSliceVar(&ingestFiles, "ingest", nil, "ingest these files before running the command")
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) > 1 && (ingestTitle != "" || ingestSourceURI != "") {
		return fmt.Errorf("--title and --source-uri need a single file")
	}
	sources, err := readSources(args)
	if err != nil {
		return err
	}
	for _, s := range sources {
		if ingestTitle != "" {
			s.Title = ingestTitle
		}
		if ingestSourceURI != "" {
			s.SourceURI = ingestSourceURI
		}
		s.Tier = ingestTier
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	g, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	results, err := g.IngestBatch(ctx, sources)
	if err != nil {
		return err
	}
	if err := printJSON(results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Status == model.IngestFailure {
			return fmt.Errorf("%s failed: %v", r.SourceURI, r.Reasons)
		}
	}
	return nil
}

// readSources reads each path, or stdin for "-", into a source document.
func readSources(paths []string) ([]*model.SourceDocument, error) {
	sources := make([]*model.SourceDocument, 0, len(paths))
	for _, path := range paths {
		if path != "-" {
			source, err := model.NewSourceDocumentFromFile(path, nil)
			if err != nil {
				return nil, err
			}
			sources = append(sources, source)
			continue
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("error reading stdin: %w", err)
		}
		sources = append(sources, &model.SourceDocument{Text: string(data), SourceURI: "stdin"})
	}
	return sources, nil
}

// preload ingests the --ingest files of a query command.
func preload(ctx context.Context, cmd *cobra.Command, g *citegraph.CiteGraph) error {
	if len(ingestFiles) == 0 {
		return nil
	}
	sources, err := readSources(ingestFiles)
	if err != nil {
		return err
	}
	results, err := g.IngestBatch(ctx, sources)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Status == model.IngestFailure {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s failed: %v\n", r.SourceURI, r.Reasons)
		}
	}
	return nil
}
