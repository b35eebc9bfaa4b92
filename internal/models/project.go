package models

import (
	"time"

	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// ProjectStatus captures the lifecycle of a funded project.
type ProjectStatus string

const (
	ProjectStatusDraft           ProjectStatus = "DRAFT"
	ProjectStatusPendingApproval ProjectStatus = "PENDING_APPROVAL"
	ProjectStatusActive          ProjectStatus = "ACTIVE"
	ProjectStatusCompleted       ProjectStatus = "COMPLETED"
	ProjectStatusCancelled       ProjectStatus = "CANCELLED"
)

// ProjectStatuses lists every status in lifecycle order.
var ProjectStatuses = []ProjectStatus{
	ProjectStatusDraft,
	ProjectStatusPendingApproval,
	ProjectStatusActive,
	ProjectStatusCompleted,
	ProjectStatusCancelled,
}

// Valid reports whether the status is known.
func (s ProjectStatus) Valid() bool {
	for _, known := range ProjectStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ProjectCategory classifies rural development projects.
type ProjectCategory string

const (
	CategoryInfrastructure ProjectCategory = "infrastructure"
	CategoryRecreation     ProjectCategory = "recreation"
	CategoryEducation      ProjectCategory = "education"
	CategoryHealthcare     ProjectCategory = "healthcare"
	CategoryEnvironment    ProjectCategory = "environment"
	CategoryCommunity      ProjectCategory = "community"
)

// Valid reports whether the category is one of the supported values.
func (c ProjectCategory) Valid() bool {
	switch c {
	case CategoryInfrastructure, CategoryRecreation, CategoryEducation,
		CategoryHealthcare, CategoryEnvironment, CategoryCommunity:
		return true
	}
	return false
}

// MilestoneStatus tracks one phase of a project's timeline.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "PENDING"
	MilestoneInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneCompleted  MilestoneStatus = "COMPLETED"
)

// Next returns the status a milestone advances to, or false when it is done.
func (s MilestoneStatus) Next() (MilestoneStatus, bool) {
	switch s {
	case MilestonePending:
		return MilestoneInProgress, true
	case MilestoneInProgress:
		return MilestoneCompleted, true
	}
	return s, false
}

// Milestone is a phase of the project plan. TargetAmount, when set, is the
// cumulative approved spend the project must reach before the phase can be
// completed.
type Milestone struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       MilestoneStatus `json:"status"`
	TargetAmount *money.Money    `json:"targetAmount,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CompletedBy  *string         `json:"completedBy,omitempty"`
}

// Project is a rural development project with a fixed budget.
type Project struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Description            string          `json:"description"`
	Location               string          `json:"location"`
	Category               ProjectCategory `json:"category"`
	Budget                 money.Money     `json:"budget"`
	ExpectedDurationMonths int             `json:"expectedDurationMonths"`
	Requirements           string          `json:"requirements,omitempty"`
	Status                 ProjectStatus   `json:"status"`
	CreatedBy              string          `json:"createdBy"`
	AssignedContractorID   *string         `json:"assignedContractorId,omitempty"`
	Milestones             []Milestone     `json:"milestones"`
	ApprovedBy             *string         `json:"approvedBy,omitempty"`
	CancelReason           *string         `json:"cancelReason,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to readers.
func (p Project) Clone() Project {
	out := p
	out.AssignedContractorID = cloneString(p.AssignedContractorID)
	out.ApprovedBy = cloneString(p.ApprovedBy)
	out.CancelReason = cloneString(p.CancelReason)
	if p.Milestones != nil {
		out.Milestones = make([]Milestone, len(p.Milestones))
		for i, m := range p.Milestones {
			out.Milestones[i] = m.clone()
		}
	}
	return out
}

func (m Milestone) clone() Milestone {
	out := m
	if m.TargetAmount != nil {
		target := *m.TargetAmount
		out.TargetAmount = &target
	}
	out.StartedAt = cloneTime(m.StartedAt)
	out.CompletedAt = cloneTime(m.CompletedAt)
	out.CompletedBy = cloneString(m.CompletedBy)
	return out
}

// ProjectView is a consistent read of a project together with its ledger.
type ProjectView struct {
	Project
	Ledger        LedgerSnapshot `json:"ledger"`
	ClaimCount    int            `json:"claimCount"`
	OpenClaims    int            `json:"openClaims"`
	DecisionCount int            `json:"decisionCount"`
}

// ProjectFilter constrains registry listings. Zero values mean "any".
type ProjectFilter struct {
	Location   string
	Status     ProjectStatus
	SearchText string
}

// CurrencyTotals sums ledger figures for projects sharing a currency.
type CurrencyTotals struct {
	Currency  string      `json:"currency"`
	Budget    money.Money `json:"budget"`
	Spent     money.Money `json:"spent"`
	Committed money.Money `json:"committed"`
}

// ProjectAggregate backs dashboard and statistics views.
type ProjectAggregate struct {
	TotalProjects int                   `json:"totalProjects"`
	ByStatus      map[ProjectStatus]int `json:"byStatus"`
	Totals        []CurrencyTotals      `json:"totals"`
	OpenClaims    int                   `json:"openClaims"`
}

// ProjectRecord is the persisted form of one project and everything it owns.
type ProjectRecord struct {
	Project   Project            `json:"project"`
	Spent     money.Money        `json:"spent"`
	Committed money.Money        `json:"committed"`
	Claims    []WorkClaim        `json:"claims"`
	Decisions []ApprovalDecision `json:"decisions"`
}
