package model

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a reasoning agent producing or verifying statements.
type Agent struct {
	ID           string    `json:"agent_id" validate:"required"`
	Name         string    `json:"name,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Reputation   float64   `json:"reputation" validate:"gte=0,lte=1"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasCapability reports whether the agent declares capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// EvidenceSegment is the exact source text a statement rests on.
type EvidenceSegment struct {
	SourceURL string `json:"source_url" validate:"required,url"`
	ByteStart int    `json:"byte_start" validate:"gte=0"`
	ByteEnd   int    `json:"byte_end" validate:"gtfield=ByteStart"`
	Quote     string `json:"quote" validate:"required"`
}

// ProvenanceStatement is a claim made by an agent together with its evidence.
type ProvenanceStatement struct {
	ID             uuid.UUID         `json:"statement_id"`
	AgentID        string            `json:"agent_id" validate:"required"`
	ClaimText      string            `json:"claim_text" validate:"required"`
	Confidence     float64           `json:"confidence" validate:"gte=0,lte=1"`
	Evidence       []EvidenceSegment `json:"evidence" validate:"required,min=1,dive"`
	Critical       bool              `json:"critical"`
	Priority       int               `json:"priority"`
	ConsensusScore float64           `json:"consensus_score"`
	Verified       bool              `json:"verified"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Verdict is the outcome of a verification.
type Verdict string

const (
	VerdictValidated  Verdict = "validated"
	VerdictChallenged Verdict = "challenged"
	VerdictInvalid    Verdict = "invalid"
)

// VerificationRecord is one agent's check of a statement. Records are append-only.
type VerificationRecord struct {
	ID          uuid.UUID         `json:"verification_id"`
	StatementID uuid.UUID         `json:"statement_id" validate:"required"`
	AgentID     string            `json:"agent_id" validate:"required"`
	Verdict     Verdict           `json:"verdict" validate:"required,oneof=validated challenged invalid"`
	Confidence  float64           `json:"confidence" validate:"gte=0,lte=1"`
	Findings    map[string]string `json:"findings,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
