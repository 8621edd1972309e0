package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph"
	"github.com/siherrmann/citegraph/model"
	"github.com/spf13/cobra"
)

var (
	relationTypes []string
	direction     string
	minConfidence float64
	graphPage     int
	graphPageSize int
	maxDepth      int
	maxPaths      int
	maxNodes      int
	entityLimit   int
)

var entitiesCmd = &cobra.Command{
	Use:   "entities <name>",
	Short: "Search entities by canonical name or alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			return g.FindEntities(ctx, args[0], entityLimit)
		})
	},
}

var relationsCmd = &cobra.Command{
	Use:   "relations <entity>",
	Short: "Page the relations of an entity",
	Long: `Relations pages the relations of an entity. The entity is given by ID or
by name; names resolve to the best matching entity.

Example:
  citegraph relations --type FOUNDED --direction incoming OpenAI`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			id, err := resolveEntity(ctx, g, args[0])
			if err != nil {
				return nil, err
			}
			return g.Relationships(ctx, id, model.RelationQuery{
				PageRequest:   model.PageRequest{Page: graphPage, PageSize: graphPageSize},
				Types:         parseRelationTypes(relationTypes),
				Direction:     model.Direction(direction),
				MinConfidence: minConfidence,
				SortBy:        model.RelationSort(sortBy),
				Order:         model.SortOrder(sortOrder),
			})
		})
	},
}

var pathsCmd = &cobra.Command{
	Use:   "paths <from> <to>",
	Short: "Find the shortest relation paths between two entities",
	Long: `Paths searches the shortest paths between two entities up to --max-depth
relations, ordered by the product of their relation confidences. Depth and
path count are capped by the reasoning limits of the configuration.

Example:
  citegraph paths --max-depth 3 "Sam Altman" Microsoft`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			from, err := resolveEntity(ctx, g, args[0])
			if err != nil {
				return nil, err
			}
			to, err := resolveEntity(ctx, g, args[1])
			if err != nil {
				return nil, err
			}
			return g.ShortestPaths(ctx, from, to, model.PathQuery{
				PageRequest: model.PageRequest{Page: graphPage, PageSize: graphPageSize},
				MaxDepth:    maxDepth,
				MaxPaths:    maxPaths,
				Types:       parseRelationTypes(relationTypes),
			})
		})
	},
}

var subgraphCmd = &cobra.Command{
	Use:   "subgraph <entity>",
	Short: "Extract the bounded neighborhood of an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			root, err := resolveEntity(ctx, g, args[0])
			if err != nil {
				return nil, err
			}
			return g.Subgraph(ctx, root, model.SubgraphQuery{
				PageRequest:   model.PageRequest{Page: graphPage, PageSize: graphPageSize},
				Depth:         maxDepth,
				MaxNodes:      maxNodes,
				Types:         parseRelationTypes(relationTypes),
				MinConfidence: minConfidence,
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(entitiesCmd, relationsCmd, pathsCmd, subgraphCmd)

	entitiesCmd.Flags().IntVar(&entityLimit, "limit", 10, "maximum number of entities")

	for _, cmd := range []*cobra.Command{relationsCmd, pathsCmd, subgraphCmd} {
		cmd.Flags().StringSliceVar(&relationTypes, "type", nil, "relation types to follow (e.g. FOUNDED,ACQUIRED)")
		cmd.Flags().IntVar(&graphPage, "page", 1, "page")
		cmd.Flags().IntVar(&graphPageSize, "page-size", model.DefaultPageSize, "page size")
	}
	relationsCmd.Flags().StringVar(&direction, "direction", "both", "direction (outgoing, incoming, both)")
	relationsCmd.Flags().StringVar(&sortBy, "sort", "", "sort field (confidence, type, updated)")
	relationsCmd.Flags().StringVar(&sortOrder, "order", "", "sort order (asc, desc)")
	for _, cmd := range []*cobra.Command{relationsCmd, subgraphCmd} {
		cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum relation confidence")
	}
	pathsCmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum path length (default from config)")
	pathsCmd.Flags().IntVar(&maxPaths, "max-paths", 0, "maximum number of paths (default from config)")
	subgraphCmd.Flags().IntVar(&maxDepth, "depth", 0, "traversal depth (default from config)")
	subgraphCmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "maximum number of nodes (default from config)")
}

// withGraph opens a CiteGraph, ingests the --ingest files and prints the
// result of run as JSON.
func withGraph(cmd *cobra.Command, run func(ctx context.Context, g *citegraph.CiteGraph) (any, error)) error {
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

	result, err := run(ctx, g)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// resolveEntity accepts an entity ID or a name.
func resolveEntity(ctx context.Context, g *citegraph.CiteGraph, value string) (uuid.UUID, error) {
	if id, err := uuid.Parse(value); err == nil {
		return id, nil
	}
	entities, err := g.FindEntities(ctx, value, 1)
	if err != nil {
		return uuid.Nil, err
	}
	if len(entities) == 0 {
		return uuid.Nil, fmt.Errorf("no entity matches %q: %w", value, model.ErrNotFound)
	}
	return entities[0].ID, nil
}

func parseRelationTypes(values []string) []model.RelationType {
	types := make([]model.RelationType, 0, len(values))
	for _, v := range values {
		types = append(types, model.RelationType(strings.ToUpper(strings.TrimSpace(v))))
	}
	return types
}
