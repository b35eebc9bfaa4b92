package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/export"
	"github.com/noah-isme/ruralfund-api/pkg/storage"
)

type statementSource interface {
	FindByID(projectID string) (models.ProjectView, error)
	Claims(projectID string) ([]models.WorkClaim, error)
	VerifyChain(projectID string) (models.ChainVerification, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

var statementHeaders = []string{"Claim", "Submitted", "Contractor", "Description", "Location", "Amount", "Status", "Decided", "Decided By", "Reason"}

// StatementConfig tunes statement exports.
type StatementConfig struct {
	APIPrefix string
	Retention time.Duration
}

// Statement is an opened statement file ready to stream.
type Statement struct {
	File     *os.File
	Filename string
	Format   export.Format
}

// StatementService renders project ledger statements and hands them out
// through signed download tokens.
type StatementService struct {
	source  statementSource
	storage fileStorage
	signer  *storage.SignedURLSigner
	audit   auditWriter
	logger  *zap.Logger
	cfg     StatementConfig
	now     func() time.Time
}

// NewStatementService constructs a StatementService.
func NewStatementService(source statementSource, store fileStorage, signer *storage.SignedURLSigner, audit auditWriter, logger *zap.Logger, cfg StatementConfig) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &StatementService{
		source:  source,
		storage: store,
		signer:  signer,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Generate renders a statement for the project and returns its download link.
func (s *StatementService) Generate(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID, rawFormat string) (*dto.StatementResponse, error) {
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv, pdf or xlsx")
	}
	dataset, err := s.buildDataset(projectID)
	if err != nil {
		return nil, err
	}
	renderer, err := export.RendererFor(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported format")
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}

	filename := fmt.Sprintf("statement_%s_%s.%s", sanitizeFilename(projectID), s.now().UTC().Format("20060102_150405"), format)
	relPath, err := s.storage.Save(path.Join(sanitizeFilename(projectID), filename), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store statement")
	}
	token, expiresAt, err := s.signer.Generate(projectID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign statement link")
	}

	s.recordExport(ctx, claims, meta, projectID, format)
	return &dto.StatementResponse{
		ProjectID: projectID,
		Format:    string(format),
		Filename:  filename,
		Token:     token,
		URL:       fmt.Sprintf("%s/statements/download?token=%s", s.cfg.APIPrefix, url.QueryEscape(token)),
		ExpiresAt: expiresAt,
	}, nil
}

// Open validates a download token and opens the referenced file.
func (s *StatementService) Open(token string) (*Statement, error) {
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token is required")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link is invalid")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "statement no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open statement")
	}
	format, _ := export.ParseFormat(strings.TrimPrefix(path.Ext(relPath), "."))
	return &Statement{File: file, Filename: path.Base(relPath), Format: format}, nil
}

// Cleanup removes statements older than the retention window.
func (s *StatementService) Cleanup(ctx context.Context) error {
	removed, err := s.storage.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		s.logger.Info("expired statements removed", zap.Int("count", len(removed)))
	}
	return nil
}

func (s *StatementService) buildDataset(projectID string) (export.Dataset, error) {
	view, err := s.source.FindByID(projectID)
	if err != nil {
		return export.Dataset{}, err
	}
	claims, err := s.source.Claims(projectID)
	if err != nil {
		return export.Dataset{}, err
	}
	chain, err := s.source.VerifyChain(projectID)
	if err != nil {
		return export.Dataset{}, err
	}

	chainState := "verified"
	if !chain.Valid {
		chainState = "BROKEN"
		if chain.BrokenAt != nil {
			chainState = fmt.Sprintf("BROKEN at decision %d", *chain.BrokenAt)
		}
	}
	ledger := view.Ledger
	data := export.Dataset{
		Title: fmt.Sprintf("Ledger statement: %s", view.Name),
		Summary: []export.Field{
			{Label: "Project", Value: view.ID},
			{Label: "Location", Value: view.Location},
			{Label: "Status", Value: string(view.Status)},
			{Label: "Currency", Value: ledger.Budget.Currency()},
			{Label: "Budget", Value: ledger.Budget.DisplayString()},
			{Label: "Spent", Value: ledger.Spent.DisplayString()},
			{Label: "Committed", Value: ledger.Committed.DisplayString()},
			{Label: "Remaining", Value: ledger.Remaining.DisplayString()},
			{Label: "Decisions", Value: strconv.Itoa(chain.Length)},
			{Label: "Decision chain", Value: chainState},
			{Label: "Generated", Value: s.now().UTC().Format(time.RFC3339)},
		},
		Headers: statementHeaders,
		Rows:    make([]map[string]string, 0, len(claims)),
	}
	for _, c := range claims {
		data.Rows = append(data.Rows, map[string]string{
			"Claim":       c.ID,
			"Submitted":   c.SubmittedAt.UTC().Format(time.RFC3339),
			"Contractor":  c.ContractorID,
			"Description": c.Description,
			"Location":    c.Location,
			"Amount":      c.Amount.DisplayString(),
			"Status":      string(c.Status),
			"Decided":     formatOptionalTime(c.DecidedAt),
			"Decided By":  deref(c.DecidedBy),
			"Reason":      deref(c.RejectionReason),
		})
	}
	return data, nil
}

func (s *StatementService) recordExport(ctx context.Context, claims *models.JWTClaims, meta RequestMeta, projectID string, format export.Format) {
	if s.audit == nil {
		return
	}
	userID := claims.UserID
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionStatementExport,
		Resource:   "project",
		ResourceID: &projectID,
		NewValues:  []byte(fmt.Sprintf(`{"format":%q}`, format)),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record statement audit log", zap.String("project_id", projectID), zap.Error(err))
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
