package provenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	"github.com/tidwall/gjson"
)

const claimPrompt = `Extract the factual claims stated in the text below.
For every claim return the claim as one self-contained sentence, a quote copied verbatim from the text that supports it,
your confidence between 0 and 1, and whether it is critical. Critical claims are figures, budgets, dates and deadlines.

Text:
%s`

// ExtractedClaim is one claim of the JSON reply requested from the model.
type ExtractedClaim struct {
	Claim      string  `json:"claim" jsonschema:"description=The claim as one self-contained sentence"`
	Quote      string  `json:"quote" jsonschema:"description=Verbatim supporting quote from the text"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Critical   bool    `json:"critical"`
}

type claimList struct {
	Claims []ExtractedClaim `json:"claims"`
}

// ExtractResult lists the statements stored from one extraction and the claims that were rejected.
type ExtractResult struct {
	Statements []*model.ProvenanceStatement
	Rejected   []error
}

// ExtractClaims asks generator for the claims in text and submits each one as a
// statement of agentID. Quotes are located in text to build the evidence byte
// range; claims whose quote cannot be found are rejected, not stored.
func (p *Protocol) ExtractClaims(ctx context.Context, generator backend.Generator, text string, sourceURL string, agentID string) (*ExtractResult, error) {
	output, err := generator.Generate(ctx, fmt.Sprintf(claimPrompt, text),
		backend.WithTask(backend.TaskClaims),
		backend.WithJSONSchema("claims", claimList{}),
		backend.WithTemperature(0),
	)
	if err != nil {
		return nil, helper.NewError("generate claims", err)
	}

	claims, err := ParseClaims(output)
	if err != nil {
		return nil, helper.NewError("parse claims", err)
	}

	result := &ExtractResult{}
	for i, c := range claims {
		start := strings.Index(text, c.Quote)
		if c.Quote == "" || start < 0 {
			result.Rejected = append(result.Rejected, &model.MalformedClaimError{
				Field:  fmt.Sprintf("claims[%d].quote", i),
				Reason: "is not a verbatim quote of the source text",
			})
			continue
		}

		statement, _, err := p.SubmitStatement(ctx, &model.ProvenanceStatement{
			AgentID:    agentID,
			ClaimText:  c.Claim,
			Confidence: c.Confidence,
			Critical:   c.Critical,
			Evidence: []model.EvidenceSegment{{
				SourceURL: sourceURL,
				ByteStart: start,
				ByteEnd:   start + len(c.Quote),
				Quote:     c.Quote,
			}},
		})
		var malformed *model.MalformedClaimError
		if errors.As(err, &malformed) {
			result.Rejected = append(result.Rejected, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Statements = append(result.Statements, statement)
	}

	if len(result.Rejected) > 0 {
		p.logger.Warn("Rejected extracted claims",
			slog.Int("rejected", len(result.Rejected)),
			slog.Int("stored", len(result.Statements)),
			slog.String("source_url", sourceURL),
		)
	}
	return result, nil
}

// ParseClaims reads the claims of a model reply. It accepts an object with a
// claims array or a bare array, optionally fenced, and repairs broken JSON.
func ParseClaims(output string) ([]ExtractedClaim, error) {
	output = strings.TrimSpace(output)
	output = strings.TrimPrefix(output, "```json")
	output = strings.TrimPrefix(output, "```")
	output = strings.TrimSpace(strings.TrimSuffix(output, "```"))

	if !gjson.Valid(output) {
		repaired, err := jsonrepair.JSONRepair(output)
		if err != nil {
			return nil, fmt.Errorf("json repair failed: %w", err)
		}
		output = repaired
	}

	parsed := gjson.Parse(output)
	list := parsed.Get("claims")
	if !list.Exists() && parsed.IsArray() {
		list = parsed
	}
	if !list.IsArray() {
		return nil, errors.New("reply has no claims array")
	}

	var claims []ExtractedClaim
	list.ForEach(func(_, value gjson.Result) bool {
		claims = append(claims, ExtractedClaim{
			Claim:      strings.TrimSpace(value.Get("claim").String()),
			Quote:      value.Get("quote").String(),
			Confidence: value.Get("confidence").Float(),
			Critical:   value.Get("critical").Bool(),
		})
		return true
	})
	return claims, nil
}
