package funding

import (
	"sort"
	"strings"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// Queries below read published project states only. They never take a
// project lock and never observe a half-applied mutation.

// FindByID returns the current view of a project.
func (r *Registry) FindByID(projectID string) (models.ProjectView, error) {
	st, err := r.state(projectID)
	if err != nil {
		return models.ProjectView{}, err
	}
	return cloneView(st.view), nil
}

// List returns projects matching filter ordered by creation time then id.
func (r *Registry) List(filter models.ProjectFilter) []models.ProjectView {
	location := strings.TrimSpace(filter.Location)
	search := strings.ToLower(strings.TrimSpace(filter.SearchText))

	views := make([]models.ProjectView, 0)
	for _, e := range r.entries() {
		v := e.state.Load().view
		if location != "" && v.Location != location {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(v.Name), search) &&
			!strings.Contains(strings.ToLower(v.Location), search) {
			continue
		}
		views = append(views, cloneView(v))
	}
	sortViews(views)
	return views
}

// Aggregate counts projects by status and sums ledger figures per currency.
func (r *Registry) Aggregate() (models.ProjectAggregate, error) {
	agg := models.ProjectAggregate{ByStatus: make(map[models.ProjectStatus]int, len(models.ProjectStatuses))}
	for _, s := range models.ProjectStatuses {
		agg.ByStatus[s] = 0
	}
	totals := make(map[string]*models.CurrencyTotals)
	for _, e := range r.entries() {
		v := e.state.Load().view
		agg.TotalProjects++
		agg.ByStatus[v.Status]++
		agg.OpenClaims += v.OpenClaims

		cur := v.Ledger.Budget.Currency()
		t, ok := totals[cur]
		if !ok {
			t = &models.CurrencyTotals{
				Currency:  cur,
				Budget:    money.Zero(cur),
				Spent:     money.Zero(cur),
				Committed: money.Zero(cur),
			}
			totals[cur] = t
		}
		var err error
		if t.Budget, err = t.Budget.Add(v.Ledger.Budget); err != nil {
			return models.ProjectAggregate{}, err
		}
		if t.Spent, err = t.Spent.Add(v.Ledger.Spent); err != nil {
			return models.ProjectAggregate{}, err
		}
		if t.Committed, err = t.Committed.Add(v.Ledger.Committed); err != nil {
			return models.ProjectAggregate{}, err
		}
	}
	agg.Totals = make([]models.CurrencyTotals, 0, len(totals))
	for _, t := range totals {
		agg.Totals = append(agg.Totals, *t)
	}
	sort.Slice(agg.Totals, func(i, j int) bool { return agg.Totals[i].Currency < agg.Totals[j].Currency })
	return agg, nil
}

// LedgerSnapshot returns the project's ledger as of its last mutation.
func (r *Registry) LedgerSnapshot(projectID string) (models.LedgerSnapshot, error) {
	st, err := r.state(projectID)
	if err != nil {
		return models.LedgerSnapshot{}, err
	}
	return st.view.Ledger, nil
}

// Claim looks up a claim by id.
func (r *Registry) Claim(claimID string) (models.WorkClaim, error) {
	e, err := r.entryForClaim(claimID)
	if err != nil {
		return models.WorkClaim{}, err
	}
	for _, c := range e.state.Load().claims {
		if c.ID == claimID {
			return c.Clone(), nil
		}
	}
	// indexed but not yet published
	return models.WorkClaim{}, appErrors.Clone(appErrors.ErrNotFound, "claim not found")
}

// Claims lists a project's claims in submission order.
func (r *Registry) Claims(projectID string) ([]models.WorkClaim, error) {
	st, err := r.state(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]models.WorkClaim, len(st.claims))
	for i, c := range st.claims {
		out[i] = c.Clone()
	}
	return out, nil
}

// Decisions lists a project's decision chain in sequence order.
func (r *Registry) Decisions(projectID string) ([]models.ApprovalDecision, error) {
	st, err := r.state(projectID)
	if err != nil {
		return nil, err
	}
	return append([]models.ApprovalDecision(nil), st.decisions...), nil
}

// VerifyChain recomputes the project's decision hashes.
func (r *Registry) VerifyChain(projectID string) (models.ChainVerification, error) {
	st, err := r.state(projectID)
	if err != nil {
		return models.ChainVerification{}, err
	}
	return VerifyChain(projectID, st.decisions), nil
}

// ProjectIDs lists every registered project id.
func (r *Registry) ProjectIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.projects))
	for id := range r.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) state(projectID string) (*projectState, error) {
	e, err := r.entry(projectID)
	if err != nil {
		return nil, err
	}
	return e.state.Load(), nil
}
