// Package service is the platform facade: one type exposing every
// operation callers invoke, delegating to the engines underneath.
package service

import (
	"context"
	"time"

	"github.com/catherinevee/compliancemgr/internal/audit"
	"github.com/catherinevee/compliancemgr/internal/controls"
	"github.com/catherinevee/compliancemgr/internal/detection"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/logger"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/remediation"
	"github.com/catherinevee/compliancemgr/internal/report"
	"github.com/catherinevee/compliancemgr/internal/store"
)

// Service wires the engines behind one API surface.
type Service struct {
	store       *store.Store
	auditor     *audit.Writer
	catalog     *controls.Catalog
	detection   *detection.Engine
	remediation *remediation.Engine
	reports     *report.Builder
	log         logger.Logger
}

// New assembles the service from its engines
func New(st *store.Store, auditor *audit.Writer, catalog *controls.Catalog, det *detection.Engine, rem *remediation.Engine, reports *report.Builder) *Service {
	return &Service{
		store:       st,
		auditor:     auditor,
		catalog:     catalog,
		detection:   det,
		remediation: rem,
		reports:     reports,
		log:         logger.New("service"),
	}
}

// StartScan runs a compliance scan against one cloud account. An empty
// controlIDs slice scans every control for the account's provider.
func (s *Service) StartScan(ctx context.Context, accountID, actor string, controlIDs []string) (*models.ScanResult, error) {
	if accountID == "" {
		return nil, apperrors.NewValidationError("account id is required")
	}
	if actor == "" {
		actor = "system"
	}
	return s.detection.Scan(ctx, accountID, actor, controlIDs)
}

// GetComplianceScore returns the current pass ratio for an account or an
// entire organization.
func (s *Service) GetComplianceScore(ctx context.Context, filter models.FindingFilter) (*models.ComplianceScore, error) {
	if filter.AccountID == "" && filter.OrganizationID == "" {
		return nil, apperrors.NewValidationError("an account or organization id is required")
	}
	return s.store.ComplianceScore(ctx, filter)
}

// ListFindings returns findings matching the filter.
func (s *Service) ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	if filter.AccountID == "" && filter.OrganizationID == "" && filter.ScanID == "" {
		return nil, apperrors.NewValidationError("a scan, account, or organization id is required")
	}
	return s.store.ListFindings(ctx, filter)
}

// GetFinding returns one finding by ID.
func (s *Service) GetFinding(ctx context.Context, findingID string) (*models.Finding, error) {
	if findingID == "" {
		return nil, apperrors.NewValidationError("finding id is required")
	}
	return s.store.GetFinding(ctx, findingID)
}

// Remediate executes (or rehearses, with DryRun) an approved fix.
func (s *Service) Remediate(ctx context.Context, req remediation.Request) (*remediation.Result, error) {
	return s.remediation.Remediate(ctx, req)
}

// Rollback reverts an executed remediation.
func (s *Service) Rollback(ctx context.Context, findingID, actor string) (*remediation.Result, error) {
	return s.remediation.Rollback(ctx, findingID, actor)
}

// ExportReport builds and stores a compliance report for a window.
func (s *Service) ExportReport(ctx context.Context, req report.ExportRequest) (*report.ExportResult, error) {
	return s.reports.Export(ctx, req)
}

// QueryAuditLog returns audit entries matching the filter.
func (s *Service) QueryAuditLog(ctx context.Context, filter audit.Filter) ([]*models.AuditEntry, error) {
	return audit.Query(ctx, s.store.DB(), filter)
}

// VerifyAuditChain replays an organization's audit chain and reports
// whether it is intact.
func (s *Service) VerifyAuditChain(ctx context.Context, orgID string) (*audit.VerifyResult, error) {
	if orgID == "" {
		return nil, apperrors.NewValidationError("organization id is required")
	}
	return audit.Verify(ctx, s.store.DB(), orgID)
}

// PruneAuditLog deletes audit entries older than the retention window.
func (s *Service) PruneAuditLog(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, apperrors.NewValidationError("retention must be at least one day")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := audit.Prune(ctx, s.store.DB(), cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("pruned audit log", logger.Int64("entries", n), logger.Time("cutoff", cutoff))
	}
	return n, nil
}

// Catalog exposes the registered controls for listing surfaces.
func (s *Service) Catalog() *controls.Catalog {
	return s.catalog
}
