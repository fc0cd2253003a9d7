package report

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/compliancemgr/internal/audit"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/evidence"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/store"
)

type fixture struct {
	store   *store.Store
	builder *Builder
	objects *evidence.MemoryStore
	org     *models.Organization
	account *models.CloudAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	org := &models.Organization{
		ID:                   uuid.NewString(),
		Name:                 "Acme Corp",
		ComplianceFrameworks: []string{"SOC2", "CIS-AWS"},
		ContactEmail:         "security@acme.example",
	}
	require.NoError(t, s.CreateOrganization(ctx, org))
	account := &models.CloudAccount{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Name:           "prod",
		Provider:       models.ProviderAWS,
		Region:         "us-east-1",
	}
	require.NoError(t, s.CreateAccount(ctx, account))

	objects := evidence.NewMemoryStore()
	builder := NewBuilder(s, audit.NewWriter(), objects, time.Hour)
	builder.now = func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	}

	return &fixture{store: s, builder: builder, objects: objects, org: org, account: account}
}

func (f *fixture) seedFinding(t *testing.T, controlID, resourceID string, status models.FindingStatus, detectedAt time.Time) {
	t.Helper()
	finding := &models.Finding{
		ID:                uuid.NewString(),
		ScanID:            uuid.NewString(),
		CloudAccountID:    f.account.ID,
		ControlID:         controlID,
		Status:            status,
		RiskLevel:         models.SeverityHigh,
		ResourceID:        resourceID,
		ResourceType:      "s3:bucket",
		RemediationStatus: models.RemediationNone,
		DetectedAt:        detectedAt,
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return f.store.SaveFindingTx(context.Background(), tx, finding)
	}))
}

func (f *fixture) window() (time.Time, time.Time) {
	to := f.builder.now()
	return to.AddDate(0, 0, -30), to
}

func TestBuildSortsAndScopes(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()
	detected := to.Add(-time.Hour)

	// Insertion order deliberately disagrees with report order.
	f.seedFinding(t, "AWS-S3-002", "arn:aws:s3:::bbb", models.StatusFail, detected)
	f.seedFinding(t, "AWS-S3-001", "arn:aws:s3:::bbb", models.StatusPass, detected)
	f.seedFinding(t, "AWS-S3-001", "arn:aws:s3:::aaa", models.StatusFail, detected)
	f.seedFinding(t, "AWS-S3-001", "arn:aws:s3:::old", models.StatusFail, to.AddDate(0, 0, -60))

	doc, err := f.builder.Build(context.Background(), ExportRequest{
		OrganizationID: f.org.ID,
		From:           from,
		To:             to,
	})
	require.NoError(t, err)

	assert.Equal(t, "Acme Corp", doc.Organization)
	assert.Equal(t, []string{"CIS-AWS", "SOC2"}, doc.Frameworks)
	require.Len(t, doc.Findings, 3)
	assert.Equal(t, "arn:aws:s3:::aaa", doc.Findings[0].ResourceID)
	assert.Equal(t, "arn:aws:s3:::bbb", doc.Findings[1].ResourceID)
	assert.Equal(t, "AWS-S3-002", doc.Findings[2].ControlID)
}

func TestBuildValidation(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()

	_, err := f.builder.Build(context.Background(), ExportRequest{From: from, To: to})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = f.builder.Build(context.Background(), ExportRequest{
		OrganizationID: f.org.ID, From: to, To: from,
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = f.builder.Build(context.Background(), ExportRequest{
		OrganizationID: "missing", From: from, To: to,
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestJSONReportIsDeterministic(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()
	f.seedFinding(t, "AWS-S3-001", "arn:aws:s3:::aaa", models.StatusFail, to.Add(-time.Hour))

	req := ExportRequest{OrganizationID: f.org.ID, From: from, To: to}
	docA, err := f.builder.Build(context.Background(), req)
	require.NoError(t, err)
	docB, err := f.builder.Build(context.Background(), req)
	require.NoError(t, err)

	bytesA, err := EncodeJSON(docA)
	require.NoError(t, err)
	bytesB, err := EncodeJSON(docB)
	require.NoError(t, err)
	assert.Equal(t, bytesA, bytesB)
}

func TestPDFReportIsDeterministic(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()
	f.seedFinding(t, "AWS-S3-001", "arn:aws:s3:::aaa", models.StatusFail, to.Add(-time.Hour))

	req := ExportRequest{OrganizationID: f.org.ID, From: from, To: to}
	docA, err := f.builder.Build(context.Background(), req)
	require.NoError(t, err)
	docB, err := f.builder.Build(context.Background(), req)
	require.NoError(t, err)

	pdfA, err := EncodePDF(docA)
	require.NoError(t, err)
	pdfB, err := EncodePDF(docB)
	require.NoError(t, err)
	require.NotEmpty(t, pdfA)
	assert.Equal(t, pdfA, pdfB)
	assert.Equal(t, "%PDF", string(pdfA[:4]))
}

func TestExportStoresArtifactAndAudits(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()
	f.seedFinding(t, "AWS-S3-001", "arn:aws:s3:::aaa", models.StatusFail, to.Add(-time.Hour))
	ctx := context.Background()

	result, err := f.builder.Export(ctx, ExportRequest{
		OrganizationID: f.org.ID,
		From:           from,
		To:             to,
		Format:         FormatJSON,
		Actor:          "auditor@acme.example",
	})
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.Artifact)
	assert.Contains(t, result.Key, "audit-reports/"+f.org.ID+"/")
	assert.NotEmpty(t, result.URL)

	stored, err := f.objects.Get(ctx, result.Key)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "AWS-S3-001")

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.org.ID,
		EventType:      models.EventExport,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.exported", entries[0].Action)
	assert.Equal(t, "auditor@acme.example", entries[0].Actor)
	assert.Equal(t, models.OutcomeSuccess, entries[0].Outcome)
}

func TestExportDegradedOnStorageFailure(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()
	f.seedFinding(t, "AWS-S3-001", "arn:aws:s3:::aaa", models.StatusFail, to.Add(-time.Hour))
	f.objects.PutErr = apperrors.NewInternalError("object storage unavailable")
	ctx := context.Background()

	result, err := f.builder.Export(ctx, ExportRequest{
		OrganizationID: f.org.ID,
		From:           from,
		To:             to,
		Format:         FormatJSON,
		Actor:          "auditor@acme.example",
	})
	require.NoError(t, err)
	// The caller still gets the artifact, just inline.
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Artifact)
	assert.Empty(t, result.Key)
	assert.Empty(t, result.URL)

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.org.ID,
		EventType:      models.EventExport,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomePartial, entries[0].Outcome)
	assert.Equal(t, true, entries[0].EventData["degraded"])
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()

	_, err := f.builder.Export(context.Background(), ExportRequest{
		OrganizationID: f.org.ID,
		From:           from,
		To:             to,
		Format:         Format("xml"),
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestAuditTrailOrderedByTimestampThenID(t *testing.T) {
	f := newFixture(t)
	from, to := f.window()
	ctx := context.Background()

	w := audit.NewWriter()
	ts := to.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(ctx, f.store.DB(), &models.AuditEntry{
			Timestamp:      ts,
			EventType:      models.EventScan,
			Action:         "scan.started",
			Actor:          "system",
			OrganizationID: f.org.ID,
		}))
	}

	doc, err := f.builder.Build(ctx, ExportRequest{OrganizationID: f.org.ID, From: from, To: to})
	require.NoError(t, err)
	require.Len(t, doc.AuditTrail, 3)
	for i := 1; i < len(doc.AuditTrail); i++ {
		assert.Less(t, doc.AuditTrail[i-1].ID, doc.AuditTrail[i].ID)
	}
}
