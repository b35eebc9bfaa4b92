package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/funding"
	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

// DashboardCachePattern matches every cached dashboard payload.
const DashboardCachePattern = "dash:*"

type fundingRegistry interface {
	CreateProject(actor funding.Actor, in funding.ProjectInput) (models.ProjectView, error)
	SubmitProject(actor funding.Actor, projectID string) (models.ProjectView, error)
	ApproveProject(actor funding.Actor, projectID string) (models.ProjectView, error)
	CompleteProject(actor funding.Actor, projectID string) (models.ProjectView, error)
	CancelProject(actor funding.Actor, projectID, reason string) (models.ProjectView, []models.ApprovalDecision, error)
	AssignContractor(actor funding.Actor, projectID, contractorID string) (models.ProjectView, error)
	AdvanceMilestone(actor funding.Actor, projectID, milestoneID string) (models.ProjectView, error)

	SubmitClaim(actor funding.Actor, projectID string, in funding.ClaimInput) (models.WorkClaim, error)
	AcknowledgeClaim(actor funding.Actor, claimID string) (models.WorkClaim, error)
	Decide(actor funding.Actor, claimID string, outcome models.DecisionOutcome, reason string) (funding.DecisionResult, error)

	FindByID(projectID string) (models.ProjectView, error)
	List(filter models.ProjectFilter) []models.ProjectView
	LedgerSnapshot(projectID string) (models.LedgerSnapshot, error)
	Claim(claimID string) (models.WorkClaim, error)
	Claims(projectID string) ([]models.WorkClaim, error)
	Decisions(projectID string) ([]models.ApprovalDecision, error)
	VerifyChain(projectID string) (models.ChainVerification, error)
}

type snapshotScheduler interface {
	Schedule(projectID string)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestMeta carries request details recorded in the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// FundingServiceParams groups constructor dependencies.
type FundingServiceParams struct {
	Registry        fundingRegistry
	Persistence     snapshotScheduler
	Cache           cacheInvalidator
	Audit           auditWriter
	Metrics         *MetricsService
	Validator       *validator.Validate
	Logger          *zap.Logger
	DefaultCurrency string
}

// FundingService adapts HTTP requests to registry operations and fans the
// results out to persistence, cache invalidation, metrics and audit.
type FundingService struct {
	registry        fundingRegistry
	persistence     snapshotScheduler
	cache           cacheInvalidator
	audit           auditWriter
	metrics         *MetricsService
	validator       *validator.Validate
	logger          *zap.Logger
	defaultCurrency string
}

// NewFundingService constructs a FundingService.
func NewFundingService(params FundingServiceParams) *FundingService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	currency := strings.ToUpper(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	return &FundingService{
		registry:        params.Registry,
		persistence:     params.Persistence,
		cache:           params.Cache,
		audit:           params.Audit,
		metrics:         params.Metrics,
		validator:       validate,
		logger:          logger,
		defaultCurrency: currency,
	}
}

// CreateProject registers a DRAFT project.
func (s *FundingService) CreateProject(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, req dto.CreateProjectRequest) (models.ProjectView, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.ProjectView{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}
	budget, err := req.Budget.ToMoney(s.defaultCurrency)
	if err != nil {
		return models.ProjectView{}, err
	}
	milestones := make([]funding.MilestoneInput, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		in := funding.MilestoneInput{Name: m.Name}
		if m.Target != nil {
			target, err := m.Target.ToMoney(budget.Currency())
			if err != nil {
				return models.ProjectView{}, err
			}
			in.TargetAmount = &target
		}
		milestones = append(milestones, in)
	}
	view, err := s.registry.CreateProject(actorFrom(claims), funding.ProjectInput{
		Name:                   req.Name,
		Description:            req.Description,
		Location:               req.Location,
		Category:               models.ProjectCategory(req.Category),
		Budget:                 budget,
		ExpectedDurationMonths: req.ExpectedDurationMonths,
		Requirements:           req.Requirements,
		AssignedContractorID:   req.AssignedContractorID,
		Milestones:             milestones,
	})
	if err != nil {
		return models.ProjectView{}, err
	}
	s.metrics.RecordProjectTransition(view.Status)
	s.afterChange(ctx, view.ID)
	s.recordAudit(ctx, claims, meta, models.AuditActionProjectCreate, "project", view.ID, view)
	return view, nil
}

// SubmitProject moves a DRAFT project to PENDING_APPROVAL.
func (s *FundingService) SubmitProject(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string) (models.ProjectView, error) {
	return s.transition(ctx, claims, meta, projectID, s.registry.SubmitProject)
}

// ApproveProject activates a project so it can take claims.
func (s *FundingService) ApproveProject(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string) (models.ProjectView, error) {
	return s.transition(ctx, claims, meta, projectID, s.registry.ApproveProject)
}

// CompleteProject closes an ACTIVE project with no open claims.
func (s *FundingService) CompleteProject(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string) (models.ProjectView, error) {
	return s.transition(ctx, claims, meta, projectID, s.registry.CompleteProject)
}

func (s *FundingService) transition(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string, op func(funding.Actor, string) (models.ProjectView, error)) (models.ProjectView, error) {
	view, err := op(actorFrom(claims), projectID)
	if err != nil {
		return models.ProjectView{}, err
	}
	s.metrics.RecordProjectTransition(view.Status)
	s.afterChange(ctx, view.ID)
	s.recordAudit(ctx, claims, meta, models.AuditActionProjectTransition, "project", view.ID, map[string]interface{}{"status": view.Status})
	return view, nil
}

// AssignContractor restricts claims on the project to one contractor.
func (s *FundingService) AssignContractor(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string, req dto.AssignContractorRequest) (models.ProjectView, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.ProjectView{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "contractor id is required")
	}
	view, err := s.registry.AssignContractor(actorFrom(claims), projectID, req.ContractorID)
	if err != nil {
		return models.ProjectView{}, err
	}
	s.afterChange(ctx, view.ID)
	s.recordAudit(ctx, claims, meta, models.AuditActionProjectAssign, "project", view.ID, map[string]interface{}{
		"assignedContractorId": view.AssignedContractorID,
	})
	return view, nil
}

// AdvanceMilestone moves one milestone to its next status.
func (s *FundingService) AdvanceMilestone(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID, milestoneID string) (models.ProjectView, error) {
	view, err := s.registry.AdvanceMilestone(actorFrom(claims), projectID, milestoneID)
	if err != nil {
		return models.ProjectView{}, err
	}
	s.afterChange(ctx, view.ID)
	for _, m := range view.Milestones {
		if m.ID == milestoneID {
			s.recordAudit(ctx, claims, meta, models.AuditActionMilestoneAdvance, "project", view.ID, map[string]interface{}{
				"milestoneId": m.ID,
				"name":        m.Name,
				"status":      m.Status,
			})
			break
		}
	}
	return view, nil
}

// CancelProject cancels a project, rejecting its open claims.
func (s *FundingService) CancelProject(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string, req dto.CancelProjectRequest) (dto.CancelProjectResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.CancelProjectResponse{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cancellation reason is required")
	}
	view, decisions, err := s.registry.CancelProject(actorFrom(claims), projectID, req.Reason)
	if err != nil {
		return dto.CancelProjectResponse{}, err
	}
	s.metrics.RecordProjectTransition(view.Status)
	for _, d := range decisions {
		s.metrics.RecordClaimDecision(d.Outcome, d.Amount)
	}
	s.afterChange(ctx, view.ID)
	s.recordAudit(ctx, claims, meta, models.AuditActionProjectTransition, "project", view.ID, map[string]interface{}{
		"status":         view.Status,
		"reason":         req.Reason,
		"rejectedClaims": len(decisions),
	})
	if decisions == nil {
		decisions = []models.ApprovalDecision{}
	}
	return dto.CancelProjectResponse{Project: view, Decisions: decisions}, nil
}

// ListProjects filters the registry.
func (s *FundingService) ListProjects(ctx context.Context, query dto.ProjectListQuery) ([]models.ProjectView, error) {
	query.Status = strings.ToUpper(strings.TrimSpace(query.Status))
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project filter")
	}
	return s.registry.List(query.Filter()), nil
}

// GetProject returns one project with its ledger.
func (s *FundingService) GetProject(ctx context.Context, projectID string) (models.ProjectView, error) {
	return s.registry.FindByID(projectID)
}

// Ledger returns the project's ledger snapshot.
func (s *FundingService) Ledger(ctx context.Context, projectID string) (models.LedgerSnapshot, error) {
	return s.registry.LedgerSnapshot(projectID)
}

// ProjectClaims returns claims in submission order.
func (s *FundingService) ProjectClaims(ctx context.Context, projectID string) ([]models.WorkClaim, error) {
	return s.registry.Claims(projectID)
}

// Decisions returns the project's decision chain.
func (s *FundingService) Decisions(ctx context.Context, projectID string) ([]models.ApprovalDecision, error) {
	return s.registry.Decisions(projectID)
}

// VerifyChain recomputes the project's decision chain.
func (s *FundingService) VerifyChain(ctx context.Context, projectID string) (models.ChainVerification, error) {
	return s.registry.VerifyChain(projectID)
}

// GetClaim returns a claim by id.
func (s *FundingService) GetClaim(ctx context.Context, claimID string) (models.WorkClaim, error) {
	return s.registry.Claim(claimID)
}

// SubmitClaim records a contractor's work claim and reserves its amount.
func (s *FundingService) SubmitClaim(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string, req dto.SubmitClaimRequest) (models.WorkClaim, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.WorkClaim{}, s.refuse(appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid claim payload"))
	}
	amount, err := req.Amount.ToMoney(s.defaultCurrency)
	if err != nil {
		return models.WorkClaim{}, s.refuse(err)
	}
	coords, err := req.ResolveCoordinates()
	if err != nil {
		return models.WorkClaim{}, s.refuse(err)
	}
	claim, err := s.registry.SubmitClaim(actorFrom(claims), projectID, funding.ClaimInput{
		Amount:       amount,
		Description:  req.Description,
		Location:     req.Location,
		Coordinates:  coords,
		EvidenceRefs: req.EvidenceRefs,
		Notes:        req.Notes,
	})
	if err != nil {
		return models.WorkClaim{}, s.refuse(err)
	}
	s.metrics.RecordClaimSubmitted(claim.Amount)
	s.afterChange(ctx, claim.ProjectID)
	s.recordAudit(ctx, claims, meta, models.AuditActionClaimSubmit, "work_claim", claim.ID, claim)
	return claim, nil
}

// AcknowledgeClaim marks a claim as taken up for review.
func (s *FundingService) AcknowledgeClaim(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, claimID string) (models.WorkClaim, error) {
	claim, err := s.registry.AcknowledgeClaim(actorFrom(claims), claimID)
	if err != nil {
		return models.WorkClaim{}, s.refuse(err)
	}
	s.afterChange(ctx, claim.ProjectID)
	s.recordAudit(ctx, claims, meta, models.AuditActionClaimDecision, "work_claim", claim.ID, map[string]interface{}{"status": claim.Status})
	return claim, nil
}

// Decide applies APPROVED, REJECTED or WITHDRAWN to a claim.
func (s *FundingService) Decide(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, claimID string, req dto.DecisionRequest) (funding.DecisionResult, error) {
	req.Outcome = strings.ToUpper(strings.TrimSpace(req.Outcome))
	if err := s.validator.Struct(req); err != nil {
		return funding.DecisionResult{}, s.refuse(appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload"))
	}
	res, err := s.registry.Decide(actorFrom(claims), claimID, models.DecisionOutcome(req.Outcome), req.Reason)
	if err != nil {
		return funding.DecisionResult{}, s.refuse(err)
	}
	s.metrics.RecordClaimDecision(res.Decision.Outcome, res.Decision.Amount)
	s.afterChange(ctx, res.Claim.ProjectID)
	s.recordAudit(ctx, claims, meta, models.AuditActionClaimDecision, "work_claim", res.Claim.ID, res.Decision)
	return res, nil
}

func (s *FundingService) refuse(err error) error {
	s.metrics.RecordClaimRefusal(appErrors.FromError(err).Code)
	return err
}

func (s *FundingService) afterChange(ctx context.Context, projectID string) {
	if s.persistence != nil {
		s.persistence.Schedule(projectID)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, DashboardCachePattern); err != nil {
			s.logger.Warn("failed to invalidate dashboard cache", zap.String("project_id", projectID), zap.Error(err))
		}
	}
}

func (s *FundingService) recordAudit(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, action, resource, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if claims != nil {
		userID := claims.UserID
		entry.UserID = &userID
	}
	if body, err := json.Marshal(payload); err == nil {
		entry.NewValues = body
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func actorFrom(claims *models.JWTClaims) funding.Actor {
	if claims == nil {
		return funding.Actor{}
	}
	return funding.NewActor(claims.UserID, claims.Role)
}
