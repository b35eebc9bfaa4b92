package funding

import (
	"fmt"

	"github.com/noah-isme/ruralfund-api/internal/ledger"
	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// Export returns the latest published record of a project for persistence.
func (r *Registry) Export(projectID string) (models.ProjectRecord, error) {
	st, err := r.state(projectID)
	if err != nil {
		return models.ProjectRecord{}, err
	}
	return recordFromState(st), nil
}

// ExportAll returns records for every project ordered by id.
func (r *Registry) ExportAll() []models.ProjectRecord {
	ids := r.ProjectIDs()
	out := make([]models.ProjectRecord, 0, len(ids))
	for _, id := range ids {
		if rec, err := r.Export(id); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func recordFromState(st *projectState) models.ProjectRecord {
	claims := make([]models.WorkClaim, len(st.claims))
	for i, c := range st.claims {
		claims[i] = c.Clone()
	}
	return models.ProjectRecord{
		Project:   st.view.Project.Clone(),
		Spent:     st.view.Ledger.Spent,
		Committed: st.view.Ledger.Committed,
		Claims:    claims,
		Decisions: append([]models.ApprovalDecision(nil), st.decisions...),
	}
}

// Restore loads persisted records into an empty registry. Each record is
// checked before anything is installed: ledger totals must reconcile with
// the claims and the decision chain must verify.
func (r *Registry) Restore(records []models.ProjectRecord) error {
	built := make([]*projectEntry, 0, len(records))
	seenProjects := make(map[string]struct{}, len(records))
	seenClaims := make(map[string]string)
	for _, rec := range records {
		if _, dup := seenProjects[rec.Project.ID]; dup {
			return appErrors.Clone(appErrors.ErrIntegrity, "duplicate project "+rec.Project.ID)
		}
		seenProjects[rec.Project.ID] = struct{}{}

		e, err := entryFromRecord(rec)
		if err != nil {
			return err
		}
		for id := range e.claims {
			if _, dup := seenClaims[id]; dup {
				return appErrors.Clone(appErrors.ErrIntegrity, "duplicate claim "+id)
			}
			seenClaims[id] = rec.Project.ID
		}
		built = append(built, e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.projects) > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "registry already holds projects")
	}
	for _, e := range built {
		r.projects[e.project.ID] = e
	}
	for claimID, projectID := range seenClaims {
		r.claimIndex[claimID] = projectID
	}
	return nil
}

func entryFromRecord(rec models.ProjectRecord) (*projectEntry, error) {
	p := rec.Project
	if p.ID == "" || !p.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrIntegrity, "project record is missing id or status")
	}
	integrity := func(format string, args ...any) error {
		return appErrors.Clone(appErrors.ErrIntegrity, fmt.Sprintf("project %s: ", p.ID)+fmt.Sprintf(format, args...))
	}

	approved := money.Zero(p.Budget.Currency())
	open := make([]models.Reservation, 0)
	claims := make(map[string]*models.WorkClaim, len(rec.Claims))
	order := make([]string, 0, len(rec.Claims))
	for _, c := range rec.Claims {
		c := c.Clone()
		if c.ProjectID != p.ID {
			return nil, integrity("claim %s belongs to %s", c.ID, c.ProjectID)
		}
		var err error
		switch {
		case c.Status == models.ClaimStatusApproved:
			approved, err = approved.Add(c.Amount)
		case !c.Status.Terminal():
			open = append(open, models.Reservation{ID: c.ReservationID, Amount: c.Amount})
		}
		if err != nil {
			return nil, integrity("%v", err)
		}
		claims[c.ID] = &c
		order = append(order, c.ID)
	}
	if !approved.Equal(rec.Spent) {
		return nil, integrity("spent %s does not match approved claims %s", rec.Spent, approved)
	}

	l, err := ledger.Restore(p.Budget, rec.Spent, open)
	if err != nil {
		return nil, integrity("%v", err)
	}
	if snap := l.Snapshot(); !snap.Committed.Equal(rec.Committed) {
		return nil, integrity("committed %s does not match open claims %s", rec.Committed, snap.Committed)
	}
	if check := VerifyChain(p.ID, rec.Decisions); !check.Valid {
		return nil, integrity("decision chain broken at sequence %d", *check.BrokenAt)
	}
	if err := checkRestoredMilestones(p); err != nil {
		return nil, integrity("%v", err)
	}
	if p.Milestones == nil {
		p.Milestones = []models.Milestone{}
	}

	e := &projectEntry{
		project:   p.Clone(),
		ledger:    l,
		claims:    claims,
		order:     order,
		decisions: append([]models.ApprovalDecision(nil), rec.Decisions...),
	}
	e.publish()
	return e, nil
}

// Reconcile checks a project's published state: spent must equal the sum of
// approved claims, committed the sum of open claims, and the decision chain
// must verify.
func (r *Registry) Reconcile(projectID string) error {
	st, err := r.state(projectID)
	if err != nil {
		return err
	}
	cur := st.view.Ledger.Budget.Currency()
	approved, open := money.Zero(cur), money.Zero(cur)
	for _, c := range st.claims {
		switch {
		case c.Status == models.ClaimStatusApproved:
			approved, err = approved.Add(c.Amount)
		case !c.Status.Terminal():
			open, err = open.Add(c.Amount)
		}
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "claim amounts do not reconcile")
		}
	}
	if !approved.Equal(st.view.Ledger.Spent) {
		return appErrors.Clone(appErrors.ErrIntegrity, fmt.Sprintf("project %s: spent %s, approved claims %s", projectID, st.view.Ledger.Spent, approved))
	}
	if !open.Equal(st.view.Ledger.Committed) {
		return appErrors.Clone(appErrors.ErrIntegrity, fmt.Sprintf("project %s: committed %s, open claims %s", projectID, st.view.Ledger.Committed, open))
	}
	if check := VerifyChain(projectID, st.decisions); !check.Valid {
		return appErrors.Clone(appErrors.ErrIntegrity, fmt.Sprintf("project %s: decision chain broken at sequence %d", projectID, *check.BrokenAt))
	}
	return nil
}
