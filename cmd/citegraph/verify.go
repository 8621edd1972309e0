package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/siherrmann/citegraph"
	"github.com/siherrmann/citegraph/model"
	"github.com/spf13/cobra"
)

var (
	agentName         string
	agentReputation   float64
	agentCapabilities []string
	verifierID        string
	verdict           string
	verifyConfidence  float64
	findings          map[string]string
	pendingLimit      int
	claimAgent        string
	claimSource       string
)

var agentCmd = &cobra.Command{
	Use:   "agent <id>",
	Short: "Register or update an agent",
	Long: `Agent registers an agent that submits or verifies statements. New agents
without --reputation start at the configured default reputation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			agent := &model.Agent{ID: args[0], Name: agentName, Capabilities: agentCapabilities}
			if cmd.Flags().Changed("reputation") {
				agent.Reputation = agentReputation
			}
			return g.RegisterAgent(ctx, agent)
		})
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <statement.json>",
	Short: "Submit a provenance statement",
	Long: `Submit stores a statement read from a JSON file. Statements need at least one
evidence segment whose quote is exactly the cited byte range. Resubmitting the
same normalized claim of the same agent returns the stored statement.

Example statement:
  {
    "agent_id": "analyst",
    "claim_text": "Sam Altman founded OpenAI.",
    "confidence": 0.9,
    "critical": true,
    "evidence": [{"source_url": "https://example.org/a", "byte_start": 0, "byte_end": 25, "quote": "Sam Altman founded OpenAI"}]
  }`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("error reading statement: %w", err)
		}
		statement := &model.ProvenanceStatement{}
		if err := json.Unmarshal(data, statement); err != nil {
			return fmt.Errorf("error decoding statement: %w", err)
		}
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			stored, created, err := g.SubmitStatement(ctx, statement)
			if err != nil {
				return nil, err
			}
			if !created {
				fmt.Fprintln(os.Stderr, "Statement already exists")
			}
			return stored, nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <statement-id>",
	Short: "Verify a statement and recompute its consensus",
	Long: `Verify appends a verification of another agent's statement and prints the
statement with its reputation weighted consensus score. Verifications are
append-only; repeating an identical verification changes nothing.

Example:
  citegraph verify --agent auditor --verdict validated --confidence 0.8 5b0d...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(args)
		if err != nil {
			return err
		}
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			return g.Verify(ctx, &model.VerificationRecord{
				StatementID: ids[0],
				AgentID:     verifierID,
				Verdict:     model.Verdict(verdict),
				Confidence:  verifyConfidence,
				Findings:    findings,
			})
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List unverified critical statements by priority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			return g.PendingCritical(ctx, pendingLimit)
		})
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract claims from a text with the generation backend",
	Long: `Extract asks the generation backend for the claims in a text and submits
each one as a statement of --agent. Claims whose quote is not found verbatim
in the text are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := readSources(args)
		if err != nil {
			return err
		}
		source := sources[0]
		if claimSource != "" {
			source.SourceURI = claimSource
		}
		return withGraph(cmd, func(ctx context.Context, g *citegraph.CiteGraph) (any, error) {
			result, err := g.ExtractClaims(ctx, source.Text, source.SourceURI, claimAgent)
			if err != nil {
				return nil, err
			}
			for _, rejected := range result.Rejected {
				fmt.Fprintf(os.Stderr, "Rejected: %v\n", rejected)
			}
			return result.Statements, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(agentCmd, submitCmd, verifyCmd, pendingCmd, extractCmd)

	agentCmd.Flags().StringVar(&agentName, "name", "", "display name")
	agentCmd.Flags().Float64Var(&agentReputation, "reputation", 0, "reputation in [0, 1]")
	agentCmd.Flags().StringSliceVar(&agentCapabilities, "capability", nil, "declared capabilities")

	verifyCmd.Flags().StringVar(&verifierID, "agent", "", "verifying agent")
	verifyCmd.Flags().StringVar(&verdict, "verdict", string(model.VerdictValidated), "verdict (validated, challenged, invalid)")
	verifyCmd.Flags().Float64Var(&verifyConfidence, "confidence", 1, "confidence of the verification")
	verifyCmd.Flags().StringToStringVar(&findings, "finding", nil, "findings as key=value")
	_ = verifyCmd.MarkFlagRequired("agent")

	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 10, "maximum number of statements")

	extractCmd.Flags().StringVar(&claimAgent, "agent", "", "agent submitting the claims")
	extractCmd.Flags().StringVar(&claimSource, "source-uri", "", "source URL of the evidence (default: file URI)")
	_ = extractCmd.MarkFlagRequired("agent")
}
