// Package funding owns rural development projects, their ledgers, work claims
// and the approval workflow that moves money between them.
//
// Every project has its own mutex. Claim and ledger changes for one project
// happen together under that lock and are then published as an immutable
// state read by queries without locking.
package funding

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/ruralfund-api/internal/ledger"
	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
	"github.com/noah-isme/ruralfund-api/pkg/workflow"
)

var projectTransitions = workflow.NewStateMachine(map[models.ProjectStatus][]models.ProjectStatus{
	models.ProjectStatusDraft:           {models.ProjectStatusPendingApproval, models.ProjectStatusCancelled},
	models.ProjectStatusPendingApproval: {models.ProjectStatusActive, models.ProjectStatusCancelled},
	models.ProjectStatusActive:          {models.ProjectStatusCompleted, models.ProjectStatusCancelled},
	models.ProjectStatusCompleted:       {},
	models.ProjectStatusCancelled:       {},
})

// Registry is the in-memory owner of all projects.
type Registry struct {
	mu         sync.RWMutex
	projects   map[string]*projectEntry
	claimIndex map[string]string

	now   func() time.Time
	newID func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides how project, claim and decision ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		projects:   make(map[string]*projectEntry),
		claimIndex: make(map[string]string),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type projectEntry struct {
	mu        sync.Mutex
	project   models.Project
	ledger    *ledger.Ledger
	claims    map[string]*models.WorkClaim
	order     []string
	decisions []models.ApprovalDecision

	state atomic.Pointer[projectState]
}

// projectState is never modified after it is published.
type projectState struct {
	view      models.ProjectView
	claims    []models.WorkClaim
	decisions []models.ApprovalDecision
}

// publish must be called with e.mu held.
func (e *projectEntry) publish() {
	claims := make([]models.WorkClaim, 0, len(e.order))
	open := 0
	for _, id := range e.order {
		c := e.claims[id]
		if !c.Status.Terminal() {
			open++
		}
		claims = append(claims, c.Clone())
	}
	e.state.Store(&projectState{
		view: models.ProjectView{
			Project:       e.project,
			Ledger:        e.ledger.Snapshot(),
			ClaimCount:    len(claims),
			OpenClaims:    open,
			DecisionCount: len(e.decisions),
		},
		claims:    claims,
		decisions: append([]models.ApprovalDecision(nil), e.decisions...),
	})
}

func (e *projectEntry) openClaims() []*models.WorkClaim {
	var open []*models.WorkClaim
	for _, id := range e.order {
		if c := e.claims[id]; !c.Status.Terminal() {
			open = append(open, c)
		}
	}
	return open
}

// ProjectInput carries the fields accepted when creating a project.
type ProjectInput struct {
	Name                   string
	Description            string
	Location               string
	Category               models.ProjectCategory
	Budget                 money.Money
	ExpectedDurationMonths int
	Requirements           string
	AssignedContractorID   string
	Milestones             []MilestoneInput
}

func (in ProjectInput) normalize() (ProjectInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	in.Description = strings.TrimSpace(in.Description)
	in.Requirements = strings.TrimSpace(in.Requirements)
	in.AssignedContractorID = strings.TrimSpace(in.AssignedContractorID)
	in.Category = models.ProjectCategory(strings.ToLower(strings.TrimSpace(string(in.Category))))

	switch {
	case in.Name == "":
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "name is required")
	case in.Location == "":
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "location is required")
	case !in.Category.Valid():
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "category is not supported")
	case in.Budget.Currency() == "" || in.Budget.IsZero():
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "budget must be greater than zero")
	case in.ExpectedDurationMonths <= 0:
		return in, appErrors.Clone(appErrors.ErrInvalidArgument, "expected duration must be greater than zero")
	}
	return in, nil
}

// CreateProject registers a DRAFT project with an untouched ledger.
func (r *Registry) CreateProject(actor Actor, input ProjectInput) (models.ProjectView, error) {
	if err := actor.require(PermProjectCreate); err != nil {
		return models.ProjectView{}, err
	}
	in, err := input.normalize()
	if err != nil {
		return models.ProjectView{}, err
	}
	l, err := ledger.New(in.Budget)
	if err != nil {
		return models.ProjectView{}, err
	}
	milestones, err := r.buildMilestones(in.Milestones, in.Budget)
	if err != nil {
		return models.ProjectView{}, err
	}
	var contractor *string
	if in.AssignedContractorID != "" {
		contractor = &in.AssignedContractorID
	}

	now := r.timestamp()
	entry := &projectEntry{
		project: models.Project{
			ID:                     r.newID(),
			Name:                   in.Name,
			Description:            in.Description,
			Location:               in.Location,
			Category:               in.Category,
			Budget:                 in.Budget,
			ExpectedDurationMonths: in.ExpectedDurationMonths,
			Requirements:           in.Requirements,
			Status:                 models.ProjectStatusDraft,
			CreatedBy:              actor.ID,
			AssignedContractorID:   contractor,
			Milestones:             milestones,
			CreatedAt:              now,
			UpdatedAt:              now,
		},
		ledger: l,
		claims: make(map[string]*models.WorkClaim),
	}
	entry.publish()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.projects[entry.project.ID]; exists {
		return models.ProjectView{}, appErrors.Clone(appErrors.ErrConflict, "project id already exists")
	}
	r.projects[entry.project.ID] = entry
	return cloneView(entry.state.Load().view), nil
}

// SubmitProject moves a DRAFT project to PENDING_APPROVAL.
func (r *Registry) SubmitProject(actor Actor, projectID string) (models.ProjectView, error) {
	return r.transitionProject(projectID, models.ProjectStatusPendingApproval, func(e *projectEntry) error {
		return actor.requireOwnerOr(e.project, PermProjectManage)
	})
}

// ApproveProject activates a pending project. The creator cannot approve
// their own project.
func (r *Registry) ApproveProject(actor Actor, projectID string) (models.ProjectView, error) {
	return r.transitionProject(projectID, models.ProjectStatusActive, func(e *projectEntry) error {
		if err := actor.require(PermProjectApprove); err != nil {
			return err
		}
		if actor.ID == e.project.CreatedBy {
			return appErrors.Clone(appErrors.ErrForbidden, "project creator cannot approve their own project")
		}
		approver := actor.ID
		e.project.ApprovedBy = &approver
		return nil
	})
}

// CompleteProject closes an ACTIVE project. Refused while claims are open or
// while any milestone is unfinished.
func (r *Registry) CompleteProject(actor Actor, projectID string) (models.ProjectView, error) {
	return r.transitionProject(projectID, models.ProjectStatusCompleted, func(e *projectEntry) error {
		if err := actor.requireOwnerOr(e.project, PermProjectComplete); err != nil {
			return err
		}
		if open := len(e.openClaims()); open > 0 {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "project still has open claims")
		}
		if m, ok := pendingMilestone(e.project); ok {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "milestone "+m.Name+" is not completed")
		}
		return nil
	})
}

// CancelProject cancels a non-terminal project. Open claims are rejected
// with the cancel reason and release their reservations.
func (r *Registry) CancelProject(actor Actor, projectID, reason string) (models.ProjectView, []models.ApprovalDecision, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.ProjectView{}, nil, appErrors.Clone(appErrors.ErrInvalidArgument, "cancel reason is required")
	}
	var recorded []models.ApprovalDecision
	view, err := r.transitionProject(projectID, models.ProjectStatusCancelled, func(e *projectEntry) error {
		if err := actor.requireOwnerOr(e.project, PermProjectCancel); err != nil {
			return err
		}
		open := e.openClaims()
		now := r.timestamp()
		pending := make([]models.ApprovalDecision, 0, len(open))
		head := chainHead(e.decisions)
		for i, c := range open {
			d := r.newDecision(e, c, models.DecisionRejected, actor.ID, "project cancelled: "+reason, now, int64(len(e.decisions)+i+1), head)
			head = d.Hash
			pending = append(pending, d)
		}
		for _, c := range open {
			if err := e.ledger.Release(c.ReservationID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "claim reservation missing from ledger")
			}
		}
		for i, c := range open {
			applyDecision(c, pending[i])
		}
		e.decisions = append(e.decisions, pending...)
		e.project.CancelReason = &reason
		recorded = pending
		return nil
	})
	if err != nil {
		return models.ProjectView{}, nil, err
	}
	return view, recorded, nil
}

// transitionProject runs check under the project lock, then moves the project
// to target. check may mutate the entry only once it can no longer fail.
func (r *Registry) transitionProject(projectID string, target models.ProjectStatus, check func(*projectEntry) error) (models.ProjectView, error) {
	e, err := r.entry(projectID)
	if err != nil {
		return models.ProjectView{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.project.Status
	if !projectTransitions.CanTransition(from, target) {
		return models.ProjectView{}, appErrors.Clone(appErrors.ErrInvalidTransition,
			"project cannot move from "+string(from)+" to "+string(target))
	}
	if err := check(e); err != nil {
		return models.ProjectView{}, err
	}
	e.project.Status = target
	e.project.UpdatedAt = r.timestamp()
	e.publish()
	return cloneView(e.state.Load().view), nil
}

// mutateProject runs fn under the project lock and publishes the result. fn
// must leave the entry untouched when it returns an error.
func (r *Registry) mutateProject(projectID string, fn func(*projectEntry) error) (models.ProjectView, error) {
	e, err := r.entry(projectID)
	if err != nil {
		return models.ProjectView{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e); err != nil {
		return models.ProjectView{}, err
	}
	e.project.UpdatedAt = r.timestamp()
	e.publish()
	return cloneView(e.state.Load().view), nil
}

// cloneView detaches a published view from the shared state.
func cloneView(v models.ProjectView) models.ProjectView {
	v.Project = v.Project.Clone()
	return v
}

func (r *Registry) entry(projectID string) (*projectEntry, error) {
	r.mu.RLock()
	e, ok := r.projects[projectID]
	r.mu.RUnlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
	}
	return e, nil
}

func (r *Registry) entryForClaim(claimID string) (*projectEntry, error) {
	r.mu.RLock()
	projectID, ok := r.claimIndex[claimID]
	var e *projectEntry
	if ok {
		e = r.projects[projectID]
	}
	r.mu.RUnlock()
	if e == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "claim not found")
	}
	return e, nil
}

func (r *Registry) entries() []*projectEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*projectEntry, 0, len(r.projects))
	for _, e := range r.projects {
		out = append(out, e)
	}
	return out
}

// timestamp is truncated to microseconds so values survive a Postgres round
// trip unchanged and decision hashes stay verifiable after a reload.
func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func sortViews(views []models.ProjectView) {
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.Before(views[j].CreatedAt)
		}
		return views[i].ID < views[j].ID
	})
}
