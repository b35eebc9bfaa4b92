package dto

import (
	"strings"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// MoneyInput accepts either exact minor units or a decimal string. Currency
// falls back to the configured default when omitted.
type MoneyInput struct {
	AmountMinor *int64 `json:"amountMinor,omitempty" validate:"omitempty,gt=0"`
	Amount      string `json:"amount,omitempty" validate:"omitempty,numeric"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
}

// ToMoney converts the input. Exactly one of amountMinor and amount must be set.
func (in MoneyInput) ToMoney(defaultCurrency string) (money.Money, error) {
	currency := strings.TrimSpace(in.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	amount := strings.TrimSpace(in.Amount)
	switch {
	case in.AmountMinor != nil && amount != "":
		return money.Money{}, appErrors.Clone(appErrors.ErrValidation, "provide either amountMinor or amount, not both")
	case in.AmountMinor != nil:
		return money.New(*in.AmountMinor, currency)
	case amount != "":
		return money.Parse(amount, currency)
	}
	return money.Money{}, appErrors.Clone(appErrors.ErrValidation, "amount is required")
}

// CreateProjectRequest captures POST /projects payload.
type CreateProjectRequest struct {
	Name                   string             `json:"name" validate:"required,max=200"`
	Description            string             `json:"description" validate:"required,max=5000"`
	Location               string             `json:"location" validate:"required,max=200"`
	Category               string             `json:"category" validate:"required,oneof=infrastructure recreation education healthcare environment community"`
	Budget                 MoneyInput         `json:"budget"`
	ExpectedDurationMonths int                `json:"expectedDurationMonths" validate:"required,min=1,max=120"`
	Requirements           string             `json:"requirements,omitempty" validate:"max=5000"`
	AssignedContractorID   string             `json:"assignedContractorId,omitempty" validate:"max=100"`
	Milestones             []MilestoneRequest `json:"milestones,omitempty" validate:"max=24,dive"`
}

// MilestoneRequest is one planned phase. Target is the cumulative approved
// spend required before the phase can be completed.
type MilestoneRequest struct {
	Name   string      `json:"name" validate:"required,max=200"`
	Target *MoneyInput `json:"target,omitempty"`
}

// AssignContractorRequest captures POST /projects/:id/contractor payload.
type AssignContractorRequest struct {
	ContractorID string `json:"contractorId" validate:"required,max=100"`
}

// CancelProjectRequest captures POST /projects/:id/cancel payload.
type CancelProjectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ProjectListQuery binds GET /projects query parameters.
type ProjectListQuery struct {
	Location string `form:"location"`
	Status   string `form:"status" validate:"omitempty,oneof=DRAFT PENDING_APPROVAL ACTIVE COMPLETED CANCELLED"`
	Search   string `form:"search" validate:"max=200"`
}

// Filter converts the query into a registry filter.
func (q ProjectListQuery) Filter() models.ProjectFilter {
	return models.ProjectFilter{
		Location:   strings.TrimSpace(q.Location),
		Status:     models.ProjectStatus(strings.ToUpper(strings.TrimSpace(q.Status))),
		SearchText: strings.TrimSpace(q.Search),
	}
}

// CancelProjectResponse returns the cancelled project and the decisions
// rejecting the claims that were still open.
type CancelProjectResponse struct {
	Project   models.ProjectView        `json:"project"`
	Decisions []models.ApprovalDecision `json:"decisions"`
}

// DashboardResponse wraps the registry aggregate.
type DashboardResponse struct {
	models.ProjectAggregate
	GeneratedAt string `json:"generatedAt"`
}
