package detection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/compliancemgr/internal/audit"
	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/cloud/cloudtest"
	"github.com/catherinevee/compliancemgr/internal/config"
	"github.com/catherinevee/compliancemgr/internal/controls"
	controlsaws "github.com/catherinevee/compliancemgr/internal/controls/aws"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/store"
)

type fixture struct {
	store   *store.Store
	engine  *Engine
	adapter *cloudtest.FakeAdapter
	account *models.CloudAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	org := &models.Organization{ID: uuid.NewString(), Name: "Acme Corp", ContactEmail: "security@acme.example"}
	require.NoError(t, s.CreateOrganization(ctx, org))
	account := &models.CloudAccount{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Name:           "prod",
		Provider:       models.ProviderAWS,
		Region:         "us-east-1",
	}
	require.NoError(t, s.CreateAccount(ctx, account))

	catalog := controls.NewCatalog()
	controlsaws.Register(catalog)
	catalog.Freeze()

	adapter := cloudtest.NewFakeAdapter()
	engine := NewEngine(s, audit.NewWriter(), catalog, &cloudtest.FakeFactory{Adapter: adapter}, config.Default().Scanning)

	return &fixture{store: s, engine: engine, adapter: adapter, account: account}
}

func failingBucket(name string) cloud.Resource {
	return cloud.Resource{
		ID:   "arn:aws:s3:::" + name,
		Kind: cloud.KindS3Buckets,
		Name: name,
		Attributes: map[string]interface{}{
			"bucket":                         name,
			"public_access_block_configured": false,
			"block_public_acls":              false,
			"block_public_policy":            false,
			"ignore_public_acls":             false,
			"restrict_public_buckets":        false,
			"encryption_algorithm":           "",
			"versioning_status":              "",
			"logging_enabled":                false,
		},
	}
}

func TestScanRecordsFindingsAndSummary(t *testing.T) {
	f := newFixture(t)
	f.adapter.Seed(cloud.KindS3Buckets, failingBucket("exposed"))
	ctx := context.Background()

	result, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", nil)
	require.NoError(t, err)

	assert.Equal(t, string(models.ScanSuccess), result.Status)
	assert.Equal(t, 16, result.Summary.TotalControls)
	// Four S3 controls fail against the exposed bucket; every other control
	// sees an empty collection and synthesizes a PASS. AWS-CT-001 fails with
	// no trails at all.
	assert.Equal(t, 5, result.Summary.Fail)
	assert.Equal(t, 11, result.Summary.Pass)
	assert.Equal(t, 0, result.Summary.Error)
	assert.Equal(t, 16, result.Summary.TotalFindings)

	findings, err := f.store.ListFindings(ctx, models.FindingFilter{ScanID: result.ScanID})
	require.NoError(t, err)
	assert.Len(t, findings, 16)
	for _, finding := range findings {
		assert.Equal(t, result.StartedAt.Unix(), finding.DetectedAt.Unix())
		assert.Equal(t, models.RemediationNone, finding.RemediationStatus)
	}

	account, err := f.store.GetAccount(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanSuccess, account.LastScanStatus)
	require.NotNil(t, account.LastScanAt)

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventScan,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "scan.started", entries[0].Action)
	assert.Equal(t, "scan.completed", entries[1].Action)

	// Every finding commits with its own detection entry pointing back at it.
	detections, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventDetection,
	})
	require.NoError(t, err)
	require.Len(t, detections, 16)
	recorded := make(map[string]bool, len(detections))
	for _, entry := range detections {
		assert.Equal(t, "finding.recorded", entry.Action)
		assert.NotEmpty(t, entry.FindingID)
		assert.Equal(t, result.ScanID, entry.EventData["scan_id"])
		recorded[entry.FindingID] = true
	}
	for _, finding := range findings {
		assert.True(t, recorded[finding.ID], "finding %s has no audit entry", finding.ID)
	}

	chain, err := audit.Verify(ctx, f.store.DB(), f.account.OrganizationID)
	require.NoError(t, err)
	assert.True(t, chain.Valid)
}

func compliantBucket(name string) cloud.Resource {
	return cloud.Resource{
		ID:   "arn:aws:s3:::" + name,
		Kind: cloud.KindS3Buckets,
		Name: name,
		Attributes: map[string]interface{}{
			"bucket":                         name,
			"public_access_block_configured": true,
			"block_public_acls":              true,
			"block_public_policy":            true,
			"ignore_public_acls":             true,
			"restrict_public_buckets":        true,
			"encryption_algorithm":           "AES256",
			"versioning_status":              "Enabled",
			"logging_enabled":                true,
		},
	}
}

func TestScanCompliantControlSynthesizesSinglePass(t *testing.T) {
	f := newFixture(t)
	f.adapter.Seed(cloud.KindS3Buckets, compliantBucket("locked"), compliantBucket("sealed"))
	ctx := context.Background()

	result, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", []string{"AWS-S3-001"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.TotalControls)
	assert.Equal(t, 1, result.Summary.Pass)
	assert.Equal(t, 0, result.Summary.Fail)

	// Two compliant buckets collapse into one account-level PASS finding
	// with no resource attached.
	findings, err := f.store.ListFindings(ctx, models.FindingFilter{ScanID: result.ScanID})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, models.StatusPass, findings[0].Status)
	assert.Empty(t, findings[0].ResourceID)
	assert.Equal(t, "AWS-S3-001", findings[0].ControlID)
}

func TestScanControlFilter(t *testing.T) {
	f := newFixture(t)
	f.adapter.Seed(cloud.KindS3Buckets, failingBucket("exposed"))
	ctx := context.Background()

	result, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example",
		[]string{"AWS-S3-001", "AWS-S3-002"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Summary.TotalControls)
	assert.Equal(t, 2, result.Summary.Fail)
	assert.Equal(t, 2, result.Summary.TotalFindings)

	findings, err := f.store.ListFindings(ctx, models.FindingFilter{ScanID: result.ScanID})
	require.NoError(t, err)
	require.Len(t, findings, 2)
	for _, finding := range findings {
		assert.Contains(t, []string{"AWS-S3-001", "AWS-S3-002"}, finding.ControlID)
	}
}

func TestScanRejectsConcurrentScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.BeginScan(ctx, f.account.ID))

	_, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestScanUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Scan(context.Background(), "missing", "ops@acme.example", nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestScanAdapterConstructionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.factory = &cloudtest.FakeFactory{
		Err: &cloud.AdapterError{Class: cloud.ClassAccessDenied, Op: "sts:get-caller-identity"},
	}

	result, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.ScanFailed), result.Status)
	assert.Equal(t, 16, result.Summary.Error)

	// Every control carries the shared cause.
	findings, err := f.store.ListFindings(ctx, models.FindingFilter{ScanID: result.ScanID})
	require.NoError(t, err)
	require.Len(t, findings, 16)
	for _, finding := range findings {
		assert.Equal(t, models.StatusError, finding.Status)
		assert.Contains(t, finding.FindingDetails["error"], "accessDenied")
	}

	account, err := f.store.GetAccount(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanFailed, account.LastScanStatus)
}

func TestScanDetectErrorBecomesErrorFinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.FailList(cloud.KindKMSKeys,
		&cloud.AdapterError{Class: cloud.ClassPermanent, Op: "kms:list-keys"})

	result, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.ScanSuccess), result.Status)
	assert.Equal(t, 1, result.Summary.Error)

	findings, err := f.store.ListFindings(ctx, models.FindingFilter{
		ScanID: result.ScanID, Status: models.StatusError,
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "AWS-KMS-001", findings[0].ControlID)
	assert.Contains(t, findings[0].FindingDetails["error"], "kms:list-keys")
}

func TestScanAccessDeniedBecomesErrorFinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.FailList(cloud.KindIAMUsers,
		&cloud.AdapterError{Class: cloud.ClassAccessDenied, Op: "iam:list-users"})

	result, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", nil)
	require.NoError(t, err)

	findings, err := f.store.ListFindings(ctx, models.FindingFilter{
		ScanID: result.ScanID, Status: models.StatusError,
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "AWS-IAM-001", findings[0].ControlID)
}

func TestScanCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", nil)
	assert.Error(t, err)
}

func TestScanScoreAfterScan(t *testing.T) {
	f := newFixture(t)
	f.adapter.Seed(cloud.KindS3Buckets, failingBucket("exposed"))
	ctx := context.Background()

	result, err := f.engine.Scan(ctx, f.account.ID, "ops@acme.example", nil)
	require.NoError(t, err)

	score, err := f.store.ComplianceScore(ctx, models.FindingFilter{ScanID: result.ScanID})
	require.NoError(t, err)
	assert.Equal(t, 16, score.Total)
	assert.Equal(t, 11, score.Pass)
	assert.Equal(t, 5, score.Fail)
	assert.InDelta(t, 11.0/16.0, score.Score, 1e-9)
}

func TestScanDurationIsBounded(t *testing.T) {
	f := newFixture(t)
	start := time.Now()
	_, err := f.engine.Scan(context.Background(), f.account.ID, "ops@acme.example", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
