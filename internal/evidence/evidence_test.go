package evidence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
)

func TestSnapshotKeyLayout(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 30, 15, 0, time.UTC)
	key := SnapshotKey("finding-1", at)
	assert.Equal(t, "evidence/finding-1/2026-08-24T09-30-15Z.json", key)
}

func TestReportKeyLayout(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 30, 15, 0, time.UTC)
	assert.Equal(t, "audit-reports/org-1/2026-08-24T09-30-15Z.pdf", ReportKey("org-1", at, "pdf"))
	assert.Equal(t, "audit-reports/org-1/2026-08-24T09-30-15Z.json", ReportKey("org-1", at, "json"))
}

func TestSaveSnapshotRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	key, err := SaveSnapshot(ctx, store, Snapshot{
		FindingID:  "finding-1",
		ControlID:  "AWS-S3-001",
		ResourceID: "arn:aws:s3:::bucket",
		CapturedAt: time.Date(2026, 8, 24, 9, 30, 15, 0, time.UTC),
		Phase:      "before_remediation",
		State:      map[string]interface{}{"block_public_acls": false},
	})
	require.NoError(t, err)
	assert.Equal(t, "evidence/finding-1/2026-08-24T09-30-15Z.json", key)

	body, err := store.Get(ctx, key)
	require.NoError(t, err)

	var stored Snapshot
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, "AWS-S3-001", stored.ControlID)
	assert.Equal(t, "before_remediation", stored.Phase)
	assert.Equal(t, false, stored.State["block_public_acls"])
}

func TestMemoryStoreMissingObject(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	_, err = store.PresignGet(ctx, "missing", time.Hour)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestMemoryStorePresign(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", []byte("v"), "text/plain"))

	url, err := store.PresignGet(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, "k")
	assert.Contains(t, url, "expires=3600")
}

func TestMemoryStorePutCopiesBody(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	body := []byte("original")
	require.NoError(t, store.Put(ctx, "k", body, "text/plain"))
	body[0] = 'X'

	stored, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(stored))
}
