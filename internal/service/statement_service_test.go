package service

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/export"
	"github.com/noah-isme/ruralfund-api/pkg/storage"
)

type statementFixture struct {
	funding   *fundingFixture
	svc       *StatementService
	audit     *auditRecorder
	projectID string
}

func newStatementFixture(t *testing.T, ttl time.Duration) *statementFixture {
	t.Helper()
	f := newFundingFixture()
	project := f.activeProject(t, 30000)
	_, err := f.svc.SubmitClaim(context.Background(), contractorClaims, RequestMeta{}, project.ID, dto.SubmitClaimRequest{
		Amount:      dto.MoneyInput{AmountMinor: minor(1250)},
		Description: "Cement, 10 bags",
		Location:    "Kisoro",
	})
	require.NoError(t, err)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	audit := &auditRecorder{}
	svc := NewStatementService(f.registry, store, storage.NewSignedURLSigner("statement-secret", ttl), audit, nil, StatementConfig{APIPrefix: "/api/v1/"})
	return &statementFixture{funding: f, svc: svc, audit: audit, projectID: project.ID}
}

func TestStatementServiceGenerateAndOpen(t *testing.T) {
	fx := newStatementFixture(t, time.Minute)

	for _, format := range []string{"", "csv", "PDF", "xlsx"} {
		resp, err := fx.svc.Generate(context.Background(), ngoClaims, RequestMeta{IP: "10.1.1.1"}, fx.projectID, format)
		require.NoError(t, err, format)

		expected, _ := export.ParseFormat(format)
		assert.Equal(t, string(expected), resp.Format)
		assert.True(t, strings.HasSuffix(resp.Filename, "."+string(expected)))
		assert.Equal(t, "/api/v1/statements/download?token="+url.QueryEscape(resp.Token), resp.URL)

		stmt, err := fx.svc.Open(resp.Token)
		require.NoError(t, err)
		body, err := io.ReadAll(stmt.File)
		require.NoError(t, stmt.File.Close())
		require.NoError(t, err)
		assert.NotEmpty(t, body)
		assert.Equal(t, expected, stmt.Format)
		assert.Equal(t, resp.Filename, stmt.Filename)
		if expected == export.FormatCSV {
			assert.Contains(t, string(body), "Cement, 10 bags")
			assert.Contains(t, string(body), "12.50")
		}
	}

	require.Len(t, fx.audit.entries, 4)
	assert.Equal(t, models.AuditActionStatementExport, fx.audit.entries[0].Action)
	assert.Equal(t, "10.1.1.1", fx.audit.entries[0].IPAddress)
}

func TestStatementServiceQuotesFormulaText(t *testing.T) {
	fx := newStatementFixture(t, time.Minute)
	_, err := fx.funding.svc.SubmitClaim(context.Background(), contractorClaims, RequestMeta{}, fx.projectID, dto.SubmitClaimRequest{
		Amount:      dto.MoneyInput{AmountMinor: minor(100)},
		Description: "=HYPERLINK(A1)",
		Location:    "@Kisoro",
	})
	require.NoError(t, err)

	resp, err := fx.svc.Generate(context.Background(), ngoClaims, RequestMeta{}, fx.projectID, "csv")
	require.NoError(t, err)
	stmt, err := fx.svc.Open(resp.Token)
	require.NoError(t, err)
	body, err := io.ReadAll(stmt.File)
	require.NoError(t, stmt.File.Close())
	require.NoError(t, err)

	assert.Contains(t, string(body), ",'=HYPERLINK(A1),'@Kisoro,")
	assert.NotContains(t, string(body), ",=HYPERLINK")
}

func TestStatementServiceGenerateRefusals(t *testing.T) {
	fx := newStatementFixture(t, time.Minute)
	ctx := context.Background()

	_, err := fx.svc.Generate(ctx, nil, RequestMeta{}, fx.projectID, "csv")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = fx.svc.Generate(ctx, ngoClaims, RequestMeta{}, fx.projectID, "docx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Generate(ctx, ngoClaims, RequestMeta{}, "missing", "csv")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	assert.Empty(t, fx.audit.entries)
}

func TestStatementServiceOpenRejectsBadTokens(t *testing.T) {
	fx := newStatementFixture(t, time.Minute)

	_, err := fx.svc.Open("  ")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Open("not.a.valid.token")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	expiring := newStatementFixture(t, time.Nanosecond)
	resp, err := expiring.svc.Generate(context.Background(), ngoClaims, RequestMeta{}, expiring.projectID, "csv")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = expiring.svc.Open(resp.Token)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestStatementServiceCleanup(t *testing.T) {
	fx := newStatementFixture(t, time.Minute)
	resp, err := fx.svc.Generate(context.Background(), ngoClaims, RequestMeta{}, fx.projectID, "csv")
	require.NoError(t, err)

	require.NoError(t, fx.svc.Cleanup(context.Background()))
	stmt, err := fx.svc.Open(resp.Token)
	require.NoError(t, err)
	require.NoError(t, stmt.File.Close())

	fx.svc.cfg.Retention = time.Nanosecond
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, fx.svc.Cleanup(context.Background()))
	_, err = fx.svc.Open(resp.Token)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
