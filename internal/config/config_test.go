package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8, cfg.Scanning.DetectWorkers)
	assert.Equal(t, int64(32), cfg.Scanning.MaxConcurrentScans)
	assert.Equal(t, 60*time.Second, cfg.Scanning.DetectTimeout)
	assert.Equal(t, 120*time.Second, cfg.Scanning.RemediateTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Scanning.ScanTimeout)
	assert.Equal(t, 2555, cfg.Audit.RetentionDays)
	assert.Equal(t, time.Hour, cfg.Evidence.URLValidity)
	assert.False(t, cfg.AutoRemediationEnabled)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/compliancemgr/db.sqlite
scanning:
  detect_workers: 4
region: eu-west-1
auto_remediation_enabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/compliancemgr/db.sqlite", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Scanning.DetectWorkers)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.True(t, cfg.AutoRemediationEnabled)
	// Untouched fields keep their defaults.
	assert.Equal(t, int64(32), cfg.Scanning.MaxConcurrentScans)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("COMPLIANCEMGR_REGION", "ap-southeast-2")
	t.Setenv("COMPLIANCEMGR_DETECT_WORKERS", "2")
	t.Setenv("COMPLIANCEMGR_ENABLE_AUTO_REMEDIATION", "true")
	t.Setenv("COMPLIANCEMGR_AUDIT_RETENTION_DAYS", "365")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-2", cfg.Region)
	assert.Equal(t, 2, cfg.Scanning.DetectWorkers)
	assert.True(t, cfg.AutoRemediationEnabled)
	assert.Equal(t, 365, cfg.Audit.RetentionDays)
}

func TestValidationRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scanning:
  detect_workers: 0
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidationBoundsWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scanning:
  detect_workers: 100
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
