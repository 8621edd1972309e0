// Package provenance stores agent claims with their evidence and tracks how
// other agents verify them. Consensus is a reputation weighted mean over the
// append-only verification records of a statement.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/core/metrics"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// ErrSelfVerification is returned when an agent verifies its own statement.
var ErrSelfVerification = errors.New("agents cannot verify their own statements")

// Store persists agents, statements and verifications.
type Store interface {
	UpsertAgent(ctx context.Context, agent *model.Agent) error
	SelectAgent(ctx context.Context, id string) (*model.Agent, error)

	// InsertStatement stores a statement once and reports whether it was new.
	InsertStatement(ctx context.Context, statement *model.ProvenanceStatement) (*model.ProvenanceStatement, bool, error)
	SelectStatement(ctx context.Context, id uuid.UUID) (*model.ProvenanceStatement, error)
	UpdateStatementConsensus(ctx context.Context, id uuid.UUID, score float64, verified bool) error

	// InsertVerification appends a record and reports whether it was new.
	InsertVerification(ctx context.Context, record *model.VerificationRecord) (bool, error)
	SelectVerifications(ctx context.Context, statementID uuid.UUID) ([]*model.VerificationRecord, error)
	SelectPendingCritical(ctx context.Context, limit int) ([]*model.ProvenanceStatement, error)
}

// Protocol implements statement submission, verification and consensus.
type Protocol struct {
	store    Store
	config   model.ProvenanceConfig
	validate *validator.Validate
	logger   *slog.Logger
}

// NewProtocol creates a protocol over store.
func NewProtocol(store Store, config model.ProvenanceConfig, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &Protocol{store: store, config: config, validate: v, logger: logger}
}

// RegisterAgent creates or updates an agent. New agents without a reputation
// start at the configured default.
func (p *Protocol) RegisterAgent(ctx context.Context, agent *model.Agent) (*model.Agent, error) {
	agent.ID = strings.TrimSpace(agent.ID)
	if _, err := p.store.SelectAgent(ctx, agent.ID); errors.Is(err, model.ErrNotFound) && agent.Reputation == 0 {
		agent.Reputation = p.config.DefaultReputation
	} else if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, helper.NewError("select agent", err)
	}
	if err := p.check(agent); err != nil {
		return nil, err
	}
	if err := p.store.UpsertAgent(ctx, agent); err != nil {
		return nil, helper.NewError("upsert agent", err)
	}
	return agent, nil
}

// UpdateReputation adds delta to an agent's reputation, bounded to [0, 1].
// Consensus of existing statements picks the new value up on the next Consensus call.
func (p *Protocol) UpdateReputation(ctx context.Context, agentID string, delta float64) (*model.Agent, error) {
	agent, err := p.store.SelectAgent(ctx, agentID)
	if err != nil {
		return nil, helper.NewError("select agent", err)
	}
	agent.Reputation = math.Max(0, math.Min(1, agent.Reputation+delta))
	if err := p.store.UpsertAgent(ctx, agent); err != nil {
		return nil, helper.NewError("upsert agent", err)
	}
	return agent, nil
}

// SubmitStatement validates and stores a statement. Its ID is derived from the
// agent and the normalized claim, so resubmitting the same claim returns the
// stored statement with created false. Invalid statements are rejected with a
// *model.MalformedClaimError before anything is written.
func (p *Protocol) SubmitStatement(ctx context.Context, statement *model.ProvenanceStatement) (*model.ProvenanceStatement, bool, error) {
	statement.AgentID = strings.TrimSpace(statement.AgentID)
	statement.ClaimText = strings.TrimSpace(statement.ClaimText)
	if err := p.check(statement); err != nil {
		return nil, false, err
	}
	for i, e := range statement.Evidence {
		if e.ByteEnd-e.ByteStart != len(e.Quote) {
			return nil, false, &model.MalformedClaimError{
				Field:  fmt.Sprintf("evidence[%d].quote", i),
				Reason: fmt.Sprintf("has %d bytes but the range [%d, %d) spans %d", len(e.Quote), e.ByteStart, e.ByteEnd, e.ByteEnd-e.ByteStart),
			}
		}
	}
	if _, err := p.store.SelectAgent(ctx, statement.AgentID); err != nil {
		return nil, false, helper.NewError("select agent", err)
	}

	statement.ID = identity.StatementID(statement.AgentID, statement.ClaimText)
	statement.ConsensusScore = 0
	statement.Verified = false
	stored, created, err := p.store.InsertStatement(ctx, statement)
	if err != nil {
		return nil, false, helper.NewError("insert statement", err)
	}
	if created {
		p.logger.Debug("Statement stored",
			slog.String("statement_id", stored.ID.String()),
			slog.String("agent_id", stored.AgentID),
			slog.Bool("critical", stored.Critical),
		)
	}
	return stored, created, nil
}

// Verify appends a verification and recomputes the statement's consensus.
// Resubmitting an identical record does not add a second one.
func (p *Protocol) Verify(ctx context.Context, record *model.VerificationRecord) (*model.ProvenanceStatement, error) {
	record.AgentID = strings.TrimSpace(record.AgentID)
	if err := p.check(record); err != nil {
		return nil, err
	}

	statement, err := p.store.SelectStatement(ctx, record.StatementID)
	if err != nil {
		return nil, helper.NewError("select statement", err)
	}
	if statement.AgentID == record.AgentID {
		return nil, ErrSelfVerification
	}
	if _, err := p.store.SelectAgent(ctx, record.AgentID); err != nil {
		return nil, helper.NewError("select verifier", err)
	}

	record.ID = identity.VerificationID(record)
	if _, err := p.store.InsertVerification(ctx, record); err != nil {
		return nil, helper.NewError("insert verification", err)
	}

	score, verified, err := p.Consensus(ctx, statement.ID)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpdateStatementConsensus(ctx, statement.ID, score, verified); err != nil {
		return nil, helper.NewError("update consensus", err)
	}
	statement.ConsensusScore = score
	statement.Verified = verified
	return statement, nil
}

// Consensus recomputes the consensus score of a statement from its stored
// verifications and the current agent reputations. It writes nothing.
func (p *Protocol) Consensus(ctx context.Context, statementID uuid.UUID) (float64, bool, error) {
	records, err := p.store.SelectVerifications(ctx, statementID)
	if err != nil {
		return 0, false, helper.NewError("select verifications", err)
	}

	reputations := make(map[string]float64)
	for _, r := range records {
		if _, ok := reputations[r.AgentID]; ok {
			continue
		}
		agent, err := p.store.SelectAgent(ctx, r.AgentID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			reputations[r.AgentID] = p.config.DefaultReputation
		case err != nil:
			return 0, false, helper.NewError("select agent", err)
		default:
			reputations[r.AgentID] = agent.Reputation
		}
	}

	score := ComputeConsensus(records, reputations)
	verified := len(records) > 0 && score >= p.config.VerifiedThreshold
	metrics.ConsensusComputations.WithLabelValues(fmt.Sprint(verified)).Inc()
	return score, verified, nil
}

// ComputeConsensus returns the reputation weighted mean confidence
// sum(confidence * reputation) / sum(reputation). Agents without a reputation
// entry weigh zero. Without any weight the score is 0.
func ComputeConsensus(verifications []*model.VerificationRecord, reputations map[string]float64) float64 {
	var weighted, total float64
	for _, v := range verifications {
		r := reputations[v.AgentID]
		weighted += v.Confidence * r
		total += r
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// Statement returns a stored statement.
func (p *Protocol) Statement(ctx context.Context, id uuid.UUID) (*model.ProvenanceStatement, error) {
	return p.store.SelectStatement(ctx, id)
}

// Verifications returns the verification history of a statement, oldest first.
func (p *Protocol) Verifications(ctx context.Context, id uuid.UUID) ([]*model.VerificationRecord, error) {
	return p.store.SelectVerifications(ctx, id)
}

// PendingCritical returns up to n unverified critical statements, highest
// priority first and oldest first within a priority.
func (p *Protocol) PendingCritical(ctx context.Context, n int) ([]*model.ProvenanceStatement, error) {
	return p.store.SelectPendingCritical(ctx, n)
}

// check runs the struct validation and converts the first failure into a MalformedClaimError.
func (p *Protocol) check(value any) error {
	err := p.validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return helper.NewError("validate", err)
	}
	fe := fieldErrs[0]
	return &model.MalformedClaimError{Field: fieldPath(fe.Namespace()), Reason: reason(fe.Tag(), fe.Param())}
}

// fieldPath drops the struct name from a validator namespace: "ProvenanceStatement.evidence[0].quote" becomes "evidence[0].quote".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func reason(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "url":
		return "must be a url"
	case "min":
		return "needs at least " + param + " entries"
	case "gte":
		return "must be at least " + param
	case "lte":
		return "must be at most " + param
	case "gtfield":
		return "must be greater than " + param
	case "oneof":
		return "must be one of " + param
	}
	return "failed " + tag + " validation"
}
