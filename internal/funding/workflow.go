package funding

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
	"github.com/noah-isme/ruralfund-api/pkg/workflow"
)

// MaxEvidenceRefs bounds the media references attached to one claim.
const MaxEvidenceRefs = 20

var claimTransitions = workflow.NewStateMachine(map[models.ClaimStatus][]models.ClaimStatus{
	models.ClaimStatusSubmitted: {
		models.ClaimStatusCommitted, models.ClaimStatusApproved, models.ClaimStatusRejected, models.ClaimStatusWithdrawn,
	},
	models.ClaimStatusCommitted: {models.ClaimStatusApproved, models.ClaimStatusRejected, models.ClaimStatusWithdrawn},
	models.ClaimStatusApproved:  {},
	models.ClaimStatusRejected:  {},
	models.ClaimStatusWithdrawn: {},
})

// ClaimInput carries a contractor's work claim.
type ClaimInput struct {
	Amount       money.Money
	Description  string
	Location     string
	Coordinates  *models.Coordinates
	EvidenceRefs []string
	Notes        string
}

func (in ClaimInput) normalize() (ClaimInput, error) {
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	in.Notes = strings.TrimSpace(in.Notes)

	if in.Amount.Currency() == "" || in.Amount.IsZero() {
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "amount must be greater than zero")
	}
	if in.Description == "" {
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "description is required")
	}
	if in.Location == "" {
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "location is required")
	}
	if in.Coordinates != nil && !in.Coordinates.Valid() {
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "coordinates are out of range")
	}
	if len(in.EvidenceRefs) > MaxEvidenceRefs {
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("at most %d evidence references are allowed", MaxEvidenceRefs))
	}
	seen := make(map[string]struct{}, len(in.EvidenceRefs))
	refs := make([]string, 0, len(in.EvidenceRefs))
	for _, ref := range in.EvidenceRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return in, appErrors.Clone(appErrors.ErrInvalidArgument, "evidence references must not be empty")
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	in.EvidenceRefs = refs
	if in.Coordinates != nil {
		coords := *in.Coordinates
		in.Coordinates = &coords
	}
	return in, nil
}

// DecisionResult is returned by every terminal claim transition.
type DecisionResult struct {
	Claim    models.WorkClaim        `json:"claim"`
	Decision models.ApprovalDecision `json:"decision"`
	Ledger   models.LedgerSnapshot   `json:"ledger"`
}

// SubmitClaim reserves the claimed amount and records a SUBMITTED claim. If
// the reservation fails no claim is created. When the project has an
// assigned contractor, only that contractor may claim.
func (r *Registry) SubmitClaim(actor Actor, projectID string, input ClaimInput) (models.WorkClaim, error) {
	if err := actor.require(PermClaimSubmit); err != nil {
		return models.WorkClaim{}, err
	}
	in, err := input.normalize()
	if err != nil {
		return models.WorkClaim{}, err
	}
	e, err := r.entry(projectID)
	if err != nil {
		return models.WorkClaim{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.project.Status != models.ProjectStatusActive {
		return models.WorkClaim{}, appErrors.Clone(appErrors.ErrInvalidTransition,
			"claims can only be submitted against ACTIVE projects, project is "+string(e.project.Status))
	}
	if assigned := e.project.AssignedContractorID; assigned != nil && *assigned != actor.ID {
		return models.WorkClaim{}, appErrors.Clone(appErrors.ErrForbidden, "project is assigned to another contractor")
	}
	if in.Amount.Currency() != e.project.Budget.Currency() {
		return models.WorkClaim{}, appErrors.Clone(appErrors.ErrCurrencyMismatch,
			fmt.Sprintf("claim currency %s does not match project budget currency %s", in.Amount.Currency(), e.project.Budget.Currency()))
	}

	claimID := r.newID()
	if _, dup := e.claims[claimID]; dup {
		return models.WorkClaim{}, appErrors.Clone(appErrors.ErrConflict, "claim id already exists")
	}
	reservation, err := e.ledger.Reserve(in.Amount)
	if err != nil {
		return models.WorkClaim{}, err
	}

	claim := &models.WorkClaim{
		ID:            claimID,
		ProjectID:     projectID,
		ContractorID:  actor.ID,
		Amount:        in.Amount,
		Description:   in.Description,
		Location:      in.Location,
		Coordinates:   in.Coordinates,
		EvidenceRefs:  in.EvidenceRefs,
		Notes:         in.Notes,
		Status:        models.ClaimStatusSubmitted,
		ReservationID: reservation.ID,
		SubmittedAt:   r.timestamp(),
	}
	e.claims[claimID] = claim
	e.order = append(e.order, claimID)

	e.publish()

	r.mu.Lock()
	r.claimIndex[claimID] = projectID
	r.mu.Unlock()

	return claim.Clone(), nil
}

// AcknowledgeClaim marks a SUBMITTED claim as COMMITTED, meaning a decider
// has taken it up for review. The reservation is unchanged.
func (r *Registry) AcknowledgeClaim(actor Actor, claimID string) (models.WorkClaim, error) {
	if err := actor.require(PermClaimDecide); err != nil {
		return models.WorkClaim{}, err
	}
	e, err := r.entryForClaim(claimID)
	if err != nil {
		return models.WorkClaim{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	claim := e.claims[claimID]
	if claim.ContractorID == actor.ID {
		return models.WorkClaim{}, appErrors.Clone(appErrors.ErrForbidden, "claim submitter cannot review their own claim")
	}
	if claim.Status.Terminal() {
		return models.WorkClaim{}, alreadyDecided(claim)
	}
	if !claimTransitions.CanTransition(claim.Status, models.ClaimStatusCommitted) {
		return models.WorkClaim{}, appErrors.Clone(appErrors.ErrInvalidTransition, "claim is already acknowledged")
	}
	reviewer := actor.ID
	claim.Status = models.ClaimStatusCommitted
	claim.AcknowledgedBy = &reviewer
	e.publish()
	return claim.Clone(), nil
}

// ApproveClaim commits the claim's reservation into spent funds.
func (r *Registry) ApproveClaim(actor Actor, claimID string) (DecisionResult, error) {
	return r.Decide(actor, claimID, models.DecisionApproved, "")
}

// RejectClaim releases the claim's reservation. A reason is required.
func (r *Registry) RejectClaim(actor Actor, claimID, reason string) (DecisionResult, error) {
	return r.Decide(actor, claimID, models.DecisionRejected, reason)
}

// WithdrawClaim lets the original submitter release an undecided claim.
func (r *Registry) WithdrawClaim(actor Actor, claimID, reason string) (DecisionResult, error) {
	return r.Decide(actor, claimID, models.DecisionWithdrawn, reason)
}

// Decide applies a terminal outcome to a claim. The ledger effect, the claim
// status and the appended decision are applied together or not at all.
// Deciding an already terminal claim fails with AlreadyDecided.
func (r *Registry) Decide(actor Actor, claimID string, outcome models.DecisionOutcome, reason string) (DecisionResult, error) {
	reason = strings.TrimSpace(reason)
	target, err := claimStatusFor(outcome)
	if err != nil {
		return DecisionResult{}, err
	}
	if outcome == models.DecisionRejected && reason == "" {
		return DecisionResult{}, appErrors.Clone(appErrors.ErrInvalidArgument, "rejection reason is required")
	}
	if err := actor.authenticated(); err != nil {
		return DecisionResult{}, err
	}
	e, err := r.entryForClaim(claimID)
	if err != nil {
		return DecisionResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	claim := e.claims[claimID]
	if err := authorizeDecision(actor, claim, outcome); err != nil {
		return DecisionResult{}, err
	}
	if claim.Status.Terminal() {
		return DecisionResult{}, alreadyDecided(claim)
	}
	if !claimTransitions.CanTransition(claim.Status, target) {
		return DecisionResult{}, appErrors.Clone(appErrors.ErrInvalidTransition,
			"claim cannot move from "+string(claim.Status)+" to "+string(target))
	}

	decision := r.newDecision(e, claim, outcome, actor.ID, reason, r.timestamp(), int64(len(e.decisions)+1), chainHead(e.decisions))

	if outcome == models.DecisionApproved {
		err = e.ledger.Commit(claim.ReservationID)
	} else {
		err = e.ledger.Release(claim.ReservationID)
	}
	if err != nil {
		return DecisionResult{}, err
	}

	applyDecision(claim, decision)
	e.decisions = append(e.decisions, decision)
	e.project.UpdatedAt = decision.DecidedAt
	e.publish()

	return DecisionResult{
		Claim:    claim.Clone(),
		Decision: decision,
		Ledger:   e.state.Load().view.Ledger,
	}, nil
}

func authorizeDecision(actor Actor, claim *models.WorkClaim, outcome models.DecisionOutcome) error {
	if outcome == models.DecisionWithdrawn {
		if actor.ID != claim.ContractorID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the original submitter may withdraw a claim")
		}
		return nil
	}
	if err := actor.require(PermClaimDecide); err != nil {
		return err
	}
	if actor.ID == claim.ContractorID {
		return appErrors.Clone(appErrors.ErrForbidden, "claim submitter cannot decide their own claim")
	}
	return nil
}

func claimStatusFor(outcome models.DecisionOutcome) (models.ClaimStatus, error) {
	switch outcome {
	case models.DecisionApproved:
		return models.ClaimStatusApproved, nil
	case models.DecisionRejected:
		return models.ClaimStatusRejected, nil
	case models.DecisionWithdrawn:
		return models.ClaimStatusWithdrawn, nil
	}
	return "", appErrors.Clone(appErrors.ErrInvalidArgument, "outcome must be APPROVED, REJECTED or WITHDRAWN")
}

func (r *Registry) newDecision(e *projectEntry, claim *models.WorkClaim, outcome models.DecisionOutcome, deciderID, reason string, at time.Time, seq int64, prevHash string) models.ApprovalDecision {
	d := models.ApprovalDecision{
		ID:        r.newID(),
		ProjectID: e.project.ID,
		ClaimID:   claim.ID,
		Sequence:  seq,
		Outcome:   outcome,
		DeciderID: deciderID,
		Reason:    reason,
		Amount:    claim.Amount,
		DecidedAt: at,
		PrevHash:  prevHash,
	}
	d.Hash = HashDecision(d)
	return d
}

func applyDecision(claim *models.WorkClaim, d models.ApprovalDecision) {
	status, _ := claimStatusFor(d.Outcome)
	decidedAt := d.DecidedAt
	decider := d.DeciderID
	claim.Status = status
	claim.DecidedAt = &decidedAt
	claim.DecidedBy = &decider
	if d.Outcome == models.DecisionRejected {
		reason := d.Reason
		claim.RejectionReason = &reason
	}
}

func alreadyDecided(claim *models.WorkClaim) error {
	return appErrors.Clone(appErrors.ErrAlreadyDecided, "claim "+claim.ID+" is already "+string(claim.Status))
}
