package models

import (
	"time"

	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// DecisionOutcome is the terminal result recorded for a claim.
type DecisionOutcome string

const (
	DecisionApproved  DecisionOutcome = "APPROVED"
	DecisionRejected  DecisionOutcome = "REJECTED"
	DecisionWithdrawn DecisionOutcome = "WITHDRAWN"
)

// ApprovalDecision is an append-only audit record. Hash covers PrevHash and
// every field, so editing any earlier record breaks the project's chain.
type ApprovalDecision struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	ClaimID   string          `json:"claimId"`
	Sequence  int64           `json:"sequence"`
	Outcome   DecisionOutcome `json:"outcome"`
	DeciderID string          `json:"deciderId"`
	Reason    string          `json:"reason,omitempty"`
	Amount    money.Money     `json:"amount"`
	DecidedAt time.Time       `json:"decidedAt"`
	PrevHash  string          `json:"prevHash"`
	Hash      string          `json:"hash"`
}

// ChainVerification reports the result of recomputing a decision chain.
type ChainVerification struct {
	ProjectID string `json:"projectId"`
	Length    int    `json:"length"`
	Valid     bool   `json:"valid"`
	BrokenAt  *int64 `json:"brokenAt,omitempty"`
	HeadHash  string `json:"headHash,omitempty"`
}
