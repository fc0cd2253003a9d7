package remediation

import (
	"context"
	"database/sql"
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
	"github.com/catherinevee/compliancemgr/internal/evidence"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/store"
)

type fixture struct {
	store   *store.Store
	engine  *Engine
	adapter *cloudtest.FakeAdapter
	objects *evidence.MemoryStore
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
	objects := evidence.NewMemoryStore()
	engine := NewEngine(s, audit.NewWriter(), catalog, &cloudtest.FakeFactory{Adapter: adapter}, objects, config.Default().Scanning)

	return &fixture{store: s, engine: engine, adapter: adapter, objects: objects, account: account}
}

func (f *fixture) seedExposedBucket() {
	f.adapter.Seed(cloud.KindS3Buckets, cloud.Resource{
		ID:   "arn:aws:s3:::exposed",
		Kind: cloud.KindS3Buckets,
		Name: "exposed",
		Attributes: map[string]interface{}{
			"bucket":                         "exposed",
			"public_access_block_configured": false,
			"block_public_acls":              false,
			"block_public_policy":            false,
			"ignore_public_acls":             false,
			"restrict_public_buckets":        false,
		},
	})
	f.adapter.ApplyHook = func(m cloud.Mutation) {
		if m.Kind == cloud.MutationS3PutPublicAccessBlock {
			f.adapter.SetResource(cloud.Resource{
				ID:   "arn:aws:s3:::exposed",
				Kind: cloud.KindS3Buckets,
				Name: "exposed",
				Attributes: map[string]interface{}{
					"bucket":                         "exposed",
					"public_access_block_configured": true,
					"block_public_acls":              true,
					"block_public_policy":            true,
					"ignore_public_acls":             true,
					"restrict_public_buckets":        true,
					"encryption_algorithm":           "AES256",
					"versioning_status":              "Enabled",
					"logging_enabled":                true,
				},
			})
		}
	}
}

func (f *fixture) seedFinding(t *testing.T, status models.FindingStatus) *models.Finding {
	t.Helper()
	finding := &models.Finding{
		ID:             uuid.NewString(),
		ScanID:         uuid.NewString(),
		CloudAccountID: f.account.ID,
		ControlID:      "AWS-S3-001",
		Status:         status,
		RiskLevel:      models.SeverityCritical,
		ResourceID:     "arn:aws:s3:::exposed",
		ResourceType:   "s3:bucket",
		EvidenceBefore: map[string]interface{}{
			"resource_name":     "exposed",
			"block_public_acls": false,
		},
		RemediationStatus: models.RemediationNone,
		DetectedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return f.store.SaveFindingTx(context.Background(), tx, finding)
	}))
	return finding
}

func TestRemediateHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	result, err := f.engine.Remediate(ctx, Request{
		FindingID:  finding.ID,
		ApprovedBy: "ops@acme.example",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFixed, result.Status)
	assert.False(t, result.Noop)

	loaded, err := f.store.GetFinding(ctx, finding.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFixed, loaded.Status)
	assert.Equal(t, models.RemediationExecuted, loaded.RemediationStatus)
	assert.Equal(t, "ops@acme.example", loaded.RemediationApprovedBy)
	require.NotNil(t, loaded.RemediationExecutedAt)
	require.NotNil(t, loaded.ResolvedAt)
	assert.Equal(t, true, loaded.EvidenceAfter["block_public_acls"])
	assert.Equal(t, "exposed", loaded.RollbackData["bucket"])
	assert.NotEmpty(t, loaded.EvidenceKey)

	// The pre-fix snapshot landed in object storage.
	assert.Equal(t, 1, f.objects.Len())
	body, err := f.objects.Get(ctx, loaded.EvidenceKey)
	require.NoError(t, err)
	assert.Contains(t, string(body), "before_remediation")

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventRemediation,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "remediation.executed", entries[0].Action)
	assert.Equal(t, finding.ID, entries[0].FindingID)
	assert.Equal(t, false, entries[0].BeforeState["block_public_acls"])
	assert.Equal(t, true, entries[0].AfterState["block_public_acls"])
}

func TestRemediateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	_, err := f.engine.Remediate(ctx, Request{FindingID: finding.ID, ApprovedBy: "ops@acme.example"})
	require.NoError(t, err)
	applied := len(f.adapter.Applied)

	// The second attempt is a no-op: no mutation, no new audit entry.
	result, err := f.engine.Remediate(ctx, Request{FindingID: finding.ID, ApprovedBy: "ops@acme.example"})
	require.NoError(t, err)
	assert.True(t, result.Noop)
	assert.Len(t, f.adapter.Applied, applied)

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventRemediation,
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemediateNoopWithVerify(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	_, err := f.engine.Remediate(ctx, Request{FindingID: finding.ID, ApprovedBy: "ops@acme.example"})
	require.NoError(t, err)

	// The no-op path still re-checks the resource when asked.
	result, err := f.engine.Remediate(ctx, Request{
		FindingID:  finding.ID,
		ApprovedBy: "ops@acme.example",
		Verify:     true,
	})
	require.NoError(t, err)
	assert.True(t, result.Noop)
	require.NotNil(t, result.Verified)
	assert.True(t, *result.Verified)
}

func TestRemediateDryRun(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	result, err := f.engine.Remediate(ctx, Request{
		FindingID:  finding.ID,
		ApprovedBy: "ops@acme.example",
		DryRun:     true,
	})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, models.StatusFail, result.Status)

	// Nothing mutated, nothing claimed.
	assert.Empty(t, f.adapter.Applied)
	loaded, err := f.store.GetFinding(ctx, finding.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, loaded.Status)
	assert.Equal(t, models.RemediationNone, loaded.RemediationStatus)

	// The rehearsal reports what a real run would change and record.
	before, ok := result.Details["before_state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, before["block_public_acls"])
	after, ok := result.Details["after_state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, after["block_public_acls"])
	assert.Equal(t, true, after["restrict_public_buckets"])
	rollback, ok := result.Details["rollback_data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "exposed", rollback["bucket"])

	// The rehearsal is still audited, projection included.
	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventRemediation,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "remediation.dry_run", entries[0].Action)
	assert.Equal(t, true, entries[0].EventData["dry_run"])
	assert.Equal(t, false, entries[0].BeforeState["block_public_acls"])
	assert.Equal(t, true, entries[0].AfterState["block_public_acls"])
}

func TestRemediateDryRunNeedsNoApprover(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	result, err := f.engine.Remediate(ctx, Request{FindingID: finding.ID, DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Empty(t, f.adapter.Applied)

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventRemediation,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "system", entries[0].Actor)
}

func TestRemediateExecuteRequiresApprover(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)

	_, err := f.engine.Remediate(context.Background(), Request{FindingID: finding.ID})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Empty(t, f.adapter.Applied)
}

func TestRemediateErrorFindingIsRemediable(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusError)
	ctx := context.Background()

	result, err := f.engine.Remediate(ctx, Request{
		FindingID:  finding.ID,
		ApprovedBy: "ops@acme.example",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFixed, result.Status)

	loaded, err := f.store.GetFinding(ctx, finding.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RemediationExecuted, loaded.RemediationStatus)
}

func TestRemediateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Remediate(ctx, Request{FindingID: "x", ApprovedBy: "not-an-email"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = f.engine.Remediate(ctx, Request{ApprovedBy: "ops@acme.example"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRemediateUnknownFinding(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Remediate(context.Background(), Request{
		FindingID:  uuid.NewString(),
		ApprovedBy: "ops@acme.example",
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestRemediateNonRemediableControl(t *testing.T) {
	f := newFixture(t)
	finding := f.seedFinding(t, models.StatusFail)
	_, err := f.store.DB().ExecContext(context.Background(),
		`UPDATE control_results SET control_id = 'AWS-IAM-001' WHERE id = ?`, finding.ID)
	require.NoError(t, err)

	_, err = f.engine.Remediate(context.Background(), Request{
		FindingID:  finding.ID,
		ApprovedBy: "ops@acme.example",
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRemediateWrongState(t *testing.T) {
	f := newFixture(t)
	finding := f.seedFinding(t, models.StatusPass)

	_, err := f.engine.Remediate(context.Background(), Request{
		FindingID:  finding.ID,
		ApprovedBy: "ops@acme.example",
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestRemediateExecutionFailure(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	f.adapter.FailApply(cloud.MutationS3PutPublicAccessBlock,
		&cloud.AdapterError{Class: cloud.ClassAccessDenied, Op: "s3:put-public-access-block"})
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	_, err := f.engine.Remediate(ctx, Request{FindingID: finding.ID, ApprovedBy: "ops@acme.example"})
	require.Error(t, err)

	loaded, err := f.store.GetFinding(ctx, finding.ID)
	require.NoError(t, err)
	// The finding stays FAIL; only the remediation attempt is marked failed.
	assert.Equal(t, models.StatusFail, loaded.Status)
	assert.Equal(t, models.RemediationFailed, loaded.RemediationStatus)
	assert.Contains(t, loaded.RemediationDetails["error"], "accessDenied")

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventRemediation,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "remediation.failed", entries[0].Action)
	assert.Equal(t, models.OutcomeFailure, entries[0].Outcome)
}

func TestRemediateWithVerify(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)

	result, err := f.engine.Remediate(context.Background(), Request{
		FindingID:  finding.ID,
		ApprovedBy: "ops@acme.example",
		Verify:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Verified)
	assert.True(t, *result.Verified)
}

func TestRollbackHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	_, err := f.engine.Remediate(ctx, Request{FindingID: finding.ID, ApprovedBy: "ops@acme.example"})
	require.NoError(t, err)

	result, err := f.engine.Rollback(ctx, finding.ID, "ops@acme.example")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, result.Status)

	loaded, err := f.store.GetFinding(ctx, finding.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, loaded.Status)
	assert.Equal(t, models.RemediationRolledBack, loaded.RemediationStatus)
	// Evidence and rollback data survive the reversal.
	assert.NotEmpty(t, loaded.RollbackData)
	assert.NotEmpty(t, loaded.EvidenceAfter)

	// The bucket had no block before the fix, so rollback deleted it.
	last := f.adapter.Applied[len(f.adapter.Applied)-1]
	assert.Equal(t, cloud.MutationS3DeletePublicAccessBlock, last.Kind)

	entries, err := audit.Query(ctx, f.store.DB(), audit.Filter{
		OrganizationID: f.account.OrganizationID,
		EventType:      models.EventRollback,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rollback.executed", entries[0].Action)
}

func TestRollbackRequiresExecutedRemediation(t *testing.T) {
	f := newFixture(t)
	finding := f.seedFinding(t, models.StatusFail)

	_, err := f.engine.Rollback(context.Background(), finding.ID, "ops@acme.example")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestRollbackRequiresRollbackData(t *testing.T) {
	f := newFixture(t)
	finding := f.seedFinding(t, models.StatusFixed)
	_, err := f.store.DB().ExecContext(context.Background(),
		`UPDATE control_results SET remediation_status = 'executed', rollback_data = NULL WHERE id = ?`,
		finding.ID)
	require.NoError(t, err)

	_, rbErr := f.engine.Rollback(context.Background(), finding.ID, "ops@acme.example")
	assert.True(t, apperrors.IsKind(rbErr, apperrors.KindConflict))
}

func TestRollbackValidatesActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Rollback(context.Background(), "finding-1", "not-an-email")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRemediateSnapshotFailureDoesNotBlockFix(t *testing.T) {
	f := newFixture(t)
	f.seedExposedBucket()
	f.objects.PutErr = apperrors.NewInternalError("object storage unavailable")
	finding := f.seedFinding(t, models.StatusFail)
	ctx := context.Background()

	result, err := f.engine.Remediate(ctx, Request{FindingID: finding.ID, ApprovedBy: "ops@acme.example"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFixed, result.Status)

	loaded, err := f.store.GetFinding(ctx, finding.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFixed, loaded.Status)
	assert.Empty(t, loaded.EvidenceKey)
}
