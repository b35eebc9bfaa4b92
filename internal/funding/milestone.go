package funding

import (
	"fmt"
	"strings"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// MaxMilestones bounds the phases planned for one project.
const MaxMilestones = 24

// MilestoneInput is one planned phase supplied at project creation.
type MilestoneInput struct {
	Name         string
	TargetAmount *money.Money
}

// buildMilestones validates the plan against the budget. Targets are
// cumulative approved spend, so they may not exceed the budget and may not
// decrease along the plan.
func (r *Registry) buildMilestones(inputs []MilestoneInput, budget money.Money) ([]models.Milestone, error) {
	if len(inputs) > MaxMilestones {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("at most %d milestones are allowed", MaxMilestones))
	}
	out := make([]models.Milestone, 0, len(inputs))
	names := make(map[string]struct{}, len(inputs))
	var floor *money.Money
	for i, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("milestone %d needs a name", i+1))
		}
		key := strings.ToLower(name)
		if _, dup := names[key]; dup {
			return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "milestone "+name+" is listed twice")
		}
		names[key] = struct{}{}

		m := models.Milestone{ID: r.newID(), Name: name, Status: models.MilestonePending}
		if in.TargetAmount != nil {
			target := *in.TargetAmount
			if err := checkTarget(name, target, budget, floor); err != nil {
				return nil, err
			}
			m.TargetAmount = &target
			floor = &target
		}
		out = append(out, m)
	}
	return out, nil
}

func checkTarget(name string, target, budget money.Money, floor *money.Money) error {
	if target.Currency() == "" || target.IsZero() {
		return appErrors.Clone(appErrors.ErrInvalidArgument, "milestone "+name+" target must be greater than zero")
	}
	if target.Currency() != budget.Currency() {
		return appErrors.Clone(appErrors.ErrCurrencyMismatch,
			fmt.Sprintf("milestone %s target currency %s does not match budget currency %s", name, target.Currency(), budget.Currency()))
	}
	if cmp, _ := target.Cmp(budget); cmp > 0 {
		return appErrors.Clone(appErrors.ErrInvalidArgument, "milestone "+name+" target exceeds the project budget")
	}
	if floor != nil {
		if cmp, _ := target.Cmp(*floor); cmp < 0 {
			return appErrors.Clone(appErrors.ErrInvalidArgument, "milestone "+name+" target is below an earlier milestone")
		}
	}
	return nil
}

// AssignContractor names the only contractor allowed to claim against the
// project. Reassignment is allowed until the project is closed.
func (r *Registry) AssignContractor(actor Actor, projectID, contractorID string) (models.ProjectView, error) {
	contractorID = strings.TrimSpace(contractorID)
	if contractorID == "" {
		return models.ProjectView{}, appErrors.Clone(appErrors.ErrInvalidArgument, "contractor id is required")
	}
	return r.mutateProject(projectID, func(e *projectEntry) error {
		if err := actor.requireOwnerOr(e.project, PermProjectManage); err != nil {
			return err
		}
		if projectClosed(e.project.Status) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "project is "+string(e.project.Status))
		}
		e.project.AssignedContractorID = &contractorID
		return nil
	})
}

// AdvanceMilestone moves a milestone one step: PENDING to IN_PROGRESS, then
// IN_PROGRESS to COMPLETED. Milestones start in plan order, and one with a
// target completes only once approved spend reaches it.
func (r *Registry) AdvanceMilestone(actor Actor, projectID, milestoneID string) (models.ProjectView, error) {
	return r.mutateProject(projectID, func(e *projectEntry) error {
		if err := actor.requireOwnerOr(e.project, PermProjectComplete); err != nil {
			return err
		}
		if e.project.Status != models.ProjectStatusActive {
			return appErrors.Clone(appErrors.ErrInvalidTransition,
				"milestones only advance on ACTIVE projects, project is "+string(e.project.Status))
		}
		idx := -1
		for i := range e.project.Milestones {
			if e.project.Milestones[i].ID == milestoneID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return appErrors.Clone(appErrors.ErrNotFound, "milestone not found")
		}
		m := &e.project.Milestones[idx]
		next, ok := m.Status.Next()
		if !ok {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "milestone "+m.Name+" is already completed")
		}

		switch next {
		case models.MilestoneInProgress:
			for _, prev := range e.project.Milestones[:idx] {
				if prev.Status != models.MilestoneCompleted {
					return appErrors.Clone(appErrors.ErrInvalidTransition, "milestone "+prev.Name+" must be completed first")
				}
			}
		case models.MilestoneCompleted:
			if m.TargetAmount != nil {
				spent := e.ledger.Snapshot().Spent
				cmp, err := spent.Cmp(*m.TargetAmount)
				if err != nil {
					return err
				}
				if cmp < 0 {
					return appErrors.Clone(appErrors.ErrInvalidTransition,
						fmt.Sprintf("approved spend %s is below milestone target %s", spent, *m.TargetAmount))
				}
			}
		}

		now := r.timestamp()
		m.Status = next
		if next == models.MilestoneInProgress {
			m.StartedAt = &now
		} else {
			by := actor.ID
			m.CompletedAt = &now
			m.CompletedBy = &by
		}
		return nil
	})
}

func projectClosed(s models.ProjectStatus) bool {
	return s == models.ProjectStatusCompleted || s == models.ProjectStatusCancelled
}

func pendingMilestone(p models.Project) (models.Milestone, bool) {
	for _, m := range p.Milestones {
		if m.Status != models.MilestoneCompleted {
			return m, true
		}
	}
	return models.Milestone{}, false
}

func checkRestoredMilestones(p models.Project) error {
	for _, m := range p.Milestones {
		switch m.Status {
		case models.MilestonePending, models.MilestoneInProgress, models.MilestoneCompleted:
		default:
			return fmt.Errorf("milestone %s has unknown status %q", m.ID, m.Status)
		}
		if m.TargetAmount != nil && m.TargetAmount.Currency() != p.Budget.Currency() {
			return fmt.Errorf("milestone %s target currency %s differs from budget", m.ID, m.TargetAmount.Currency())
		}
	}
	return nil
}
