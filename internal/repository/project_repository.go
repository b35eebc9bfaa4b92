package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// ProjectRepository persists registry snapshots: one project with its ledger
// totals, claims and decision chain.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository constructs the repository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

type projectRow struct {
	ID                     string    `db:"id"`
	Name                   string    `db:"name"`
	Description            string    `db:"description"`
	Location               string    `db:"location"`
	Category               string    `db:"category"`
	Currency               string    `db:"currency"`
	BudgetMinor            int64     `db:"budget_minor"`
	SpentMinor             int64     `db:"spent_minor"`
	CommittedMinor         int64     `db:"committed_minor"`
	ExpectedDurationMonths int       `db:"expected_duration_months"`
	Requirements           string    `db:"requirements"`
	Status                 string    `db:"status"`
	CreatedBy              string    `db:"created_by"`
	AssignedContractorID   *string   `db:"assigned_contractor_id"`
	ApprovedBy             *string   `db:"approved_by"`
	CancelReason           *string   `db:"cancel_reason"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

type milestoneRow struct {
	ID          string     `db:"id"`
	ProjectID   string     `db:"project_id"`
	Position    int        `db:"position"`
	Name        string     `db:"name"`
	Status      string     `db:"status"`
	Currency    *string    `db:"currency"`
	TargetMinor *int64     `db:"target_minor"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CompletedBy *string    `db:"completed_by"`
}

type claimRow struct {
	ID              string         `db:"id"`
	ProjectID       string         `db:"project_id"`
	ContractorID    string         `db:"contractor_id"`
	Currency        string         `db:"currency"`
	AmountMinor     int64          `db:"amount_minor"`
	Description     string         `db:"description"`
	Location        string         `db:"location"`
	Latitude        *float64       `db:"latitude"`
	Longitude       *float64       `db:"longitude"`
	EvidenceRefs    pq.StringArray `db:"evidence_refs"`
	Notes           string         `db:"notes"`
	Status          string         `db:"status"`
	ReservationID   string         `db:"reservation_id"`
	SubmittedAt     time.Time      `db:"submitted_at"`
	AcknowledgedBy  *string        `db:"acknowledged_by"`
	DecidedAt       *time.Time     `db:"decided_at"`
	DecidedBy       *string        `db:"decided_by"`
	RejectionReason *string        `db:"rejection_reason"`
}

type decisionRow struct {
	ID          string    `db:"id"`
	ProjectID   string    `db:"project_id"`
	ClaimID     string    `db:"claim_id"`
	Sequence    int64     `db:"sequence"`
	Outcome     string    `db:"outcome"`
	DeciderID   string    `db:"decider_id"`
	Reason      string    `db:"reason"`
	Currency    string    `db:"currency"`
	AmountMinor int64     `db:"amount_minor"`
	DecidedAt   time.Time `db:"decided_at"`
	PrevHash    string    `db:"prev_hash"`
	Hash        string    `db:"hash"`
}

const (
	projectColumns   = `id, name, description, location, category, currency, budget_minor, spent_minor, committed_minor, expected_duration_months, requirements, status, created_by, assigned_contractor_id, approved_by, cancel_reason, created_at, updated_at`
	milestoneColumns = `id, project_id, position, name, status, currency, target_minor, started_at, completed_at, completed_by`
	claimColumns     = `id, project_id, contractor_id, currency, amount_minor, description, location, latitude, longitude, evidence_refs, notes, status, reservation_id, submitted_at, acknowledged_by, decided_at, decided_by, rejection_reason`
	decisionColumns  = `id, project_id, claim_id, sequence, outcome, decider_id, reason, currency, amount_minor, decided_at, prev_hash, hash`
)

const upsertProjectQuery = `INSERT INTO projects (` + projectColumns + `)
VALUES (:id, :name, :description, :location, :category, :currency, :budget_minor, :spent_minor, :committed_minor, :expected_duration_months, :requirements, :status, :created_by, :assigned_contractor_id, :approved_by, :cancel_reason, :created_at, :updated_at)
ON CONFLICT (id)
DO UPDATE SET status = EXCLUDED.status, spent_minor = EXCLUDED.spent_minor, committed_minor = EXCLUDED.committed_minor,
              assigned_contractor_id = EXCLUDED.assigned_contractor_id, approved_by = EXCLUDED.approved_by,
              cancel_reason = EXCLUDED.cancel_reason, updated_at = EXCLUDED.updated_at`

const upsertMilestoneQuery = `INSERT INTO project_milestones (` + milestoneColumns + `)
VALUES (:id, :project_id, :position, :name, :status, :currency, :target_minor, :started_at, :completed_at, :completed_by)
ON CONFLICT (id)
DO UPDATE SET status = EXCLUDED.status, started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at,
              completed_by = EXCLUDED.completed_by`

const upsertClaimQuery = `INSERT INTO work_claims (` + claimColumns + `)
VALUES (:id, :project_id, :contractor_id, :currency, :amount_minor, :description, :location, :latitude, :longitude, :evidence_refs, :notes, :status, :reservation_id, :submitted_at, :acknowledged_by, :decided_at, :decided_by, :rejection_reason)
ON CONFLICT (id)
DO UPDATE SET status = EXCLUDED.status, acknowledged_by = EXCLUDED.acknowledged_by, decided_at = EXCLUDED.decided_at,
              decided_by = EXCLUDED.decided_by, rejection_reason = EXCLUDED.rejection_reason`

const insertDecisionQuery = `INSERT INTO approval_decisions (` + decisionColumns + `)
VALUES (:id, :project_id, :claim_id, :sequence, :outcome, :decider_id, :reason, :currency, :amount_minor, :decided_at, :prev_hash, :hash)
ON CONFLICT (id) DO NOTHING`

// SaveSnapshot writes a project record in one transaction. Projects and
// claims are upserted; decisions are append-only and never rewritten.
func (r *ProjectRepository) SaveSnapshot(ctx context.Context, rec models.ProjectRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin project snapshot tx: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, upsertProjectQuery, toProjectRow(rec)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert project %s: %w", rec.Project.ID, err)
	}
	for i, m := range rec.Project.Milestones {
		if _, err := tx.NamedExecContext(ctx, upsertMilestoneQuery, toMilestoneRow(rec.Project.ID, i, m)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert milestone %s: %w", m.ID, err)
		}
	}
	for _, claim := range rec.Claims {
		if _, err := tx.NamedExecContext(ctx, upsertClaimQuery, toClaimRow(claim)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert claim %s: %w", claim.ID, err)
		}
	}
	for _, d := range rec.Decisions {
		if _, err := tx.NamedExecContext(ctx, insertDecisionQuery, toDecisionRow(d)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert decision %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit project snapshot tx: %w", err)
	}
	return nil
}

// LoadAll reads every project record. Milestones keep plan order, claims keep
// submission order and decisions are ordered by chain sequence.
func (r *ProjectRepository) LoadAll(ctx context.Context) ([]models.ProjectRecord, error) {
	var projects []projectRow
	if err := r.db.SelectContext(ctx, &projects, `SELECT `+projectColumns+` FROM projects ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	if len(projects) == 0 {
		return nil, nil
	}

	var milestones []milestoneRow
	if err := r.db.SelectContext(ctx, &milestones, `SELECT `+milestoneColumns+` FROM project_milestones ORDER BY project_id, position`); err != nil {
		return nil, fmt.Errorf("load project milestones: %w", err)
	}
	var claims []claimRow
	if err := r.db.SelectContext(ctx, &claims, `SELECT `+claimColumns+` FROM work_claims ORDER BY project_id, submitted_at, id`); err != nil {
		return nil, fmt.Errorf("load work claims: %w", err)
	}
	var decisions []decisionRow
	if err := r.db.SelectContext(ctx, &decisions, `SELECT `+decisionColumns+` FROM approval_decisions ORDER BY project_id, sequence`); err != nil {
		return nil, fmt.Errorf("load approval decisions: %w", err)
	}

	records := make([]models.ProjectRecord, 0, len(projects))
	index := make(map[string]int, len(projects))
	for _, row := range projects {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		index[row.ID] = len(records)
		records = append(records, rec)
	}
	for _, row := range milestones {
		i, ok := index[row.ProjectID]
		if !ok {
			return nil, fmt.Errorf("milestone %s references unknown project %s", row.ID, row.ProjectID)
		}
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records[i].Project.Milestones = append(records[i].Project.Milestones, m)
	}
	for _, row := range claims {
		i, ok := index[row.ProjectID]
		if !ok {
			return nil, fmt.Errorf("work claim %s references unknown project %s", row.ID, row.ProjectID)
		}
		claim, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records[i].Claims = append(records[i].Claims, claim)
	}
	for _, row := range decisions {
		i, ok := index[row.ProjectID]
		if !ok {
			return nil, fmt.Errorf("decision %s references unknown project %s", row.ID, row.ProjectID)
		}
		d, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records[i].Decisions = append(records[i].Decisions, d)
	}
	return records, nil
}

func toProjectRow(rec models.ProjectRecord) projectRow {
	p := rec.Project
	return projectRow{
		ID:                     p.ID,
		Name:                   p.Name,
		Description:            p.Description,
		Location:               p.Location,
		Category:               string(p.Category),
		Currency:               p.Budget.Currency(),
		BudgetMinor:            p.Budget.Amount(),
		SpentMinor:             rec.Spent.Amount(),
		CommittedMinor:         rec.Committed.Amount(),
		ExpectedDurationMonths: p.ExpectedDurationMonths,
		Requirements:           p.Requirements,
		Status:                 string(p.Status),
		CreatedBy:              p.CreatedBy,
		AssignedContractorID:   p.AssignedContractorID,
		ApprovedBy:             p.ApprovedBy,
		CancelReason:           p.CancelReason,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func (row projectRow) toRecord() (models.ProjectRecord, error) {
	budget, err := money.New(row.BudgetMinor, row.Currency)
	if err != nil {
		return models.ProjectRecord{}, fmt.Errorf("project %s budget: %w", row.ID, err)
	}
	spent, err := money.New(row.SpentMinor, row.Currency)
	if err != nil {
		return models.ProjectRecord{}, fmt.Errorf("project %s spent: %w", row.ID, err)
	}
	committed, err := money.New(row.CommittedMinor, row.Currency)
	if err != nil {
		return models.ProjectRecord{}, fmt.Errorf("project %s committed: %w", row.ID, err)
	}
	return models.ProjectRecord{
		Project: models.Project{
			ID:                     row.ID,
			Name:                   row.Name,
			Description:            row.Description,
			Location:               row.Location,
			Category:               models.ProjectCategory(row.Category),
			Budget:                 budget,
			ExpectedDurationMonths: row.ExpectedDurationMonths,
			Requirements:           row.Requirements,
			Status:                 models.ProjectStatus(row.Status),
			CreatedBy:              row.CreatedBy,
			AssignedContractorID:   row.AssignedContractorID,
			Milestones:             []models.Milestone{},
			ApprovedBy:             row.ApprovedBy,
			CancelReason:           row.CancelReason,
			CreatedAt:              row.CreatedAt.UTC(),
			UpdatedAt:              row.UpdatedAt.UTC(),
		},
		Spent:     spent,
		Committed: committed,
		Claims:    []models.WorkClaim{},
		Decisions: []models.ApprovalDecision{},
	}, nil
}

func toMilestoneRow(projectID string, position int, m models.Milestone) milestoneRow {
	row := milestoneRow{
		ID:          m.ID,
		ProjectID:   projectID,
		Position:    position,
		Name:        m.Name,
		Status:      string(m.Status),
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		CompletedBy: m.CompletedBy,
	}
	if m.TargetAmount != nil {
		cur, minor := m.TargetAmount.Currency(), m.TargetAmount.Amount()
		row.Currency = &cur
		row.TargetMinor = &minor
	}
	return row
}

func (row milestoneRow) toModel() (models.Milestone, error) {
	m := models.Milestone{
		ID:          row.ID,
		Name:        row.Name,
		Status:      models.MilestoneStatus(row.Status),
		CompletedBy: row.CompletedBy,
	}
	if row.TargetMinor != nil && row.Currency != nil {
		target, err := money.New(*row.TargetMinor, *row.Currency)
		if err != nil {
			return models.Milestone{}, fmt.Errorf("milestone %s target: %w", row.ID, err)
		}
		m.TargetAmount = &target
	}
	if row.StartedAt != nil {
		ts := row.StartedAt.UTC()
		m.StartedAt = &ts
	}
	if row.CompletedAt != nil {
		ts := row.CompletedAt.UTC()
		m.CompletedAt = &ts
	}
	return m, nil
}

func toClaimRow(c models.WorkClaim) claimRow {
	row := claimRow{
		ID:              c.ID,
		ProjectID:       c.ProjectID,
		ContractorID:    c.ContractorID,
		Currency:        c.Amount.Currency(),
		AmountMinor:     c.Amount.Amount(),
		Description:     c.Description,
		Location:        c.Location,
		EvidenceRefs:    pq.StringArray(c.EvidenceRefs),
		Notes:           c.Notes,
		Status:          string(c.Status),
		ReservationID:   c.ReservationID,
		SubmittedAt:     c.SubmittedAt,
		AcknowledgedBy:  c.AcknowledgedBy,
		DecidedAt:       c.DecidedAt,
		DecidedBy:       c.DecidedBy,
		RejectionReason: c.RejectionReason,
	}
	if row.EvidenceRefs == nil {
		row.EvidenceRefs = pq.StringArray{}
	}
	if c.Coordinates != nil {
		lat, lng := c.Coordinates.Latitude, c.Coordinates.Longitude
		row.Latitude = &lat
		row.Longitude = &lng
	}
	return row
}

func (row claimRow) toModel() (models.WorkClaim, error) {
	amount, err := money.New(row.AmountMinor, row.Currency)
	if err != nil {
		return models.WorkClaim{}, fmt.Errorf("work claim %s amount: %w", row.ID, err)
	}
	claim := models.WorkClaim{
		ID:              row.ID,
		ProjectID:       row.ProjectID,
		ContractorID:    row.ContractorID,
		Amount:          amount,
		Description:     row.Description,
		Location:        row.Location,
		EvidenceRefs:    append([]string{}, row.EvidenceRefs...),
		Notes:           row.Notes,
		Status:          models.ClaimStatus(row.Status),
		ReservationID:   row.ReservationID,
		SubmittedAt:     row.SubmittedAt.UTC(),
		AcknowledgedBy:  row.AcknowledgedBy,
		DecidedBy:       row.DecidedBy,
		RejectionReason: row.RejectionReason,
	}
	if row.DecidedAt != nil {
		ts := row.DecidedAt.UTC()
		claim.DecidedAt = &ts
	}
	if row.Latitude != nil && row.Longitude != nil {
		claim.Coordinates = &models.Coordinates{Latitude: *row.Latitude, Longitude: *row.Longitude}
	}
	return claim, nil
}

func toDecisionRow(d models.ApprovalDecision) decisionRow {
	return decisionRow{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		ClaimID:     d.ClaimID,
		Sequence:    d.Sequence,
		Outcome:     string(d.Outcome),
		DeciderID:   d.DeciderID,
		Reason:      d.Reason,
		Currency:    d.Amount.Currency(),
		AmountMinor: d.Amount.Amount(),
		DecidedAt:   d.DecidedAt,
		PrevHash:    d.PrevHash,
		Hash:        d.Hash,
	}
}

func (row decisionRow) toModel() (models.ApprovalDecision, error) {
	amount, err := money.New(row.AmountMinor, row.Currency)
	if err != nil {
		return models.ApprovalDecision{}, fmt.Errorf("decision %s amount: %w", row.ID, err)
	}
	return models.ApprovalDecision{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		ClaimID:   row.ClaimID,
		Sequence:  row.Sequence,
		Outcome:   models.DecisionOutcome(row.Outcome),
		DeciderID: row.DeciderID,
		Reason:    row.Reason,
		Amount:    amount,
		DecidedAt: row.DecidedAt.UTC(),
		PrevHash:  row.PrevHash,
		Hash:      row.Hash,
	}, nil
}
