// Package detection runs compliance scans: it fans control evaluations out
// over a bounded worker pool, persists findings transactionally with their
// audit entries, and tracks the per-account scan lifecycle.
package detection

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/catherinevee/compliancemgr/internal/audit"
	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/config"
	"github.com/catherinevee/compliancemgr/internal/controls"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/logger"
	"github.com/catherinevee/compliancemgr/internal/metrics"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/store"
)

// Engine orchestrates scans. A process-wide semaphore bounds concurrent
// scans; within each scan a worker pool bounds concurrent control detects.
type Engine struct {
	store   *store.Store
	auditor *audit.Writer
	catalog *controls.Catalog
	factory cloud.Factory
	cfg     config.ScanningConfig
	scans   *semaphore.Weighted
	log     logger.Logger
}

// NewEngine creates a detection engine
func NewEngine(st *store.Store, auditor *audit.Writer, catalog *controls.Catalog, factory cloud.Factory, cfg config.ScanningConfig) *Engine {
	return &Engine{
		store:   st,
		auditor: auditor,
		catalog: catalog,
		factory: factory,
		cfg:     cfg,
		scans:   semaphore.NewWeighted(cfg.MaxConcurrentScans),
		log:     logger.New("detection"),
	}
}

// Scan evaluates the applicable controls against one account. An empty
// controlIDs slice means every control registered for the account's
// provider. At most one scan runs per account at a time; a second request
// conflicts.
func (e *Engine) Scan(ctx context.Context, accountID, actor string, controlIDs []string) (*models.ScanResult, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := e.scans.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "scan admission interrupted")
	}
	defer e.scans.Release(1)

	if err := e.store.BeginScan(ctx, accountID); err != nil {
		return nil, err
	}

	scanID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := e.log.WithFields(
		logger.String("scan_id", scanID),
		logger.String("account_id", accountID),
	)
	log.Info("scan started", logger.String("actor", actor))

	if err := e.auditor.Append(ctx, e.store.DB(), &models.AuditEntry{
		EventType:      models.EventScan,
		Action:         "scan.started",
		Actor:          actor,
		OrganizationID: account.OrganizationID,
		CloudAccountID: accountID,
		EventData:      map[string]interface{}{"scan_id": scanID},
	}); err != nil {
		e.finishFailed(account, scanID, actor, startedAt, err)
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, e.cfg.ScanTimeout)
	defer cancel()

	applicable := e.catalog.ByProvider(account.Provider)
	if len(controlIDs) > 0 {
		requested := make(map[string]struct{}, len(controlIDs))
		for _, id := range controlIDs {
			requested[id] = struct{}{}
		}
		filtered := applicable[:0]
		for _, control := range applicable {
			if _, ok := requested[control.ControlID]; ok {
				filtered = append(filtered, control)
			}
		}
		applicable = filtered
	}

	adapter, err := e.factory.New(scanCtx, account)
	if err != nil {
		// Credentials or provider failures error every control with the
		// shared cause so the scan's findings explain themselves.
		summary := e.recordAdapterFailure(ctx, account, scanID, startedAt, applicable, err)
		e.finishFailed(account, scanID, actor, startedAt, err)
		return &models.ScanResult{
			ScanID:      scanID,
			AccountID:   accountID,
			Status:      string(models.ScanFailed),
			Summary:     summary,
			StartedAt:   startedAt,
			CompletedAt: time.Now().UTC(),
		}, nil
	}

	var (
		mu      sync.Mutex
		summary models.ScanSummary
	)
	summary.TotalControls = len(applicable)

	group, groupCtx := errgroup.WithContext(scanCtx)
	group.SetLimit(e.cfg.DetectWorkers)
	for _, control := range applicable {
		control := control
		group.Go(func() error {
			findings, err := e.evaluateControl(groupCtx, adapter, account, control, scanID, startedAt)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, f := range findings {
				summary.TotalFindings++
				switch f.Status {
				case models.StatusPass:
					summary.Pass++
				case models.StatusFail:
					summary.Fail++
				case models.StatusError:
					summary.Error++
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		// Only cancellation or persistence failures reach here; detect
		// errors became ERROR findings inside evaluateControl.
		e.finishFailed(account, scanID, actor, startedAt, err)
		return nil, err
	}

	completedAt := time.Now().UTC()
	if err := e.store.FinishScan(ctx, accountID, models.ScanSuccess, completedAt); err != nil {
		return nil, err
	}

	duration := completedAt.Sub(startedAt)
	metrics.ScansTotal.WithLabelValues(string(models.ScanSuccess)).Inc()
	metrics.ScanDuration.Observe(duration.Seconds())

	if err := e.auditor.Append(ctx, e.store.DB(), &models.AuditEntry{
		EventType:      models.EventScan,
		Action:         "scan.completed",
		Actor:          actor,
		OrganizationID: account.OrganizationID,
		CloudAccountID: accountID,
		EventData: map[string]interface{}{
			"scan_id":        scanID,
			"duration_ms":    duration.Milliseconds(),
			"total_controls": summary.TotalControls,
			"pass":           summary.Pass,
			"fail":           summary.Fail,
			"error":          summary.Error,
			"total_findings": summary.TotalFindings,
		},
	}); err != nil {
		return nil, err
	}

	log.Info("scan completed",
		logger.Int("pass", summary.Pass),
		logger.Int("fail", summary.Fail),
		logger.Int("error", summary.Error),
		logger.Duration("duration", duration),
	)

	return &models.ScanResult{
		ScanID:      scanID,
		AccountID:   accountID,
		Status:      string(models.ScanSuccess),
		Summary:     summary,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}, nil
}

// evaluateControl runs one control's detect under its own timeout and
// persists its findings and audit entry in a single transaction. Detect
// failures become ERROR findings; only cancellation propagates.
func (e *Engine) evaluateControl(ctx context.Context, adapter cloud.Adapter, account *models.CloudAccount, control *controls.Control, scanID string, detectedAt time.Time) ([]*models.Finding, error) {
	detectCtx, cancel := context.WithTimeout(ctx, e.cfg.DetectTimeout)
	defer cancel()

	evaluations, detectErr := control.Detect(detectCtx, adapter)

	if detectErr != nil && ctx.Err() != nil {
		// The scan itself was cancelled; discard rather than record ERROR.
		return nil, apperrors.Wrap(ctx.Err(), apperrors.KindInternal, "scan cancelled")
	}

	var findings []*models.Finding
	switch {
	case detectErr != nil:
		status := control.StatusForError(detectErr)
		if class, ok := cloud.ClassOf(detectErr); ok {
			metrics.AdapterErrors.WithLabelValues(string(class)).Inc()
		}
		findings = append(findings, e.newFinding(account, control, scanID, detectedAt, controls.Evaluation{
			Status:       status,
			ResourceType: string(control.ResourceKind),
			Details:      map[string]interface{}{"error": detectErr.Error()},
		}))
	case len(evaluations) == 0:
		// Detect seeds failures only, so an empty result means every
		// resource of this kind (or the absence of any) satisfies the
		// control: one account-level PASS finding.
		findings = append(findings, e.newFinding(account, control, scanID, detectedAt, controls.Evaluation{
			Status:       models.StatusPass,
			ResourceType: string(control.ResourceKind),
		}))
	default:
		for _, eval := range evaluations {
			findings = append(findings, e.newFinding(account, control, scanID, detectedAt, eval))
		}
	}

	for _, f := range findings {
		metrics.ControlEvaluations.WithLabelValues(control.ControlID, string(f.Status)).Inc()
	}

	// Each finding commits with its own detection audit entry so the trail
	// points back at the exact finding it produced.
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, f := range findings {
			if err := e.store.SaveFindingTx(ctx, tx, f); err != nil {
				return err
			}
			entry := &models.AuditEntry{
				EventType:      models.EventDetection,
				Action:         "finding.recorded",
				Actor:          "system",
				OrganizationID: account.OrganizationID,
				CloudAccountID: account.ID,
				ControlID:      control.ControlID,
				ResourceID:     f.ResourceID,
				FindingID:      f.ID,
				EventData: map[string]interface{}{
					"scan_id": scanID,
					"status":  string(f.Status),
				},
			}
			if detectErr != nil {
				entry.Outcome = models.OutcomeFailure
				entry.ErrorMessage = detectErr.Error()
			}
			if err := e.auditor.Append(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func (e *Engine) newFinding(account *models.CloudAccount, control *controls.Control, scanID string, detectedAt time.Time, eval controls.Evaluation) *models.Finding {
	return &models.Finding{
		ID:                uuid.NewString(),
		ScanID:            scanID,
		CloudAccountID:    account.ID,
		ControlID:         control.ControlID,
		Status:            eval.Status,
		RiskLevel:         control.Severity,
		ResourceID:        eval.ResourceID,
		ResourceType:      eval.ResourceType,
		FindingDetails:    eval.Details,
		EvidenceBefore:    eval.Evidence,
		RemediationStatus: models.RemediationNone,
		DetectedAt:        detectedAt,
		Metadata: map[string]interface{}{
			"control_title":       control.Title,
			"control_description": control.Description,
			"category":            control.Category,
			"frameworks":          control.Frameworks,
		},
	}
}

// recordAdapterFailure writes one ERROR finding per applicable control when
// the adapter could not be constructed at all.
func (e *Engine) recordAdapterFailure(ctx context.Context, account *models.CloudAccount, scanID string, detectedAt time.Time, applicable []*controls.Control, cause error) models.ScanSummary {
	summary := models.ScanSummary{TotalControls: len(applicable)}
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, control := range applicable {
			f := e.newFinding(account, control, scanID, detectedAt, controls.Evaluation{
				Status:       models.StatusError,
				ResourceType: string(control.ResourceKind),
				Details:      map[string]interface{}{"error": cause.Error()},
			})
			if err := e.store.SaveFindingTx(ctx, tx, f); err != nil {
				return err
			}
			if err := e.auditor.Append(ctx, tx, &models.AuditEntry{
				EventType:      models.EventDetection,
				Action:         "finding.recorded",
				Actor:          "system",
				OrganizationID: account.OrganizationID,
				CloudAccountID: account.ID,
				ControlID:      control.ControlID,
				FindingID:      f.ID,
				EventData: map[string]interface{}{
					"scan_id": scanID,
					"status":  string(models.StatusError),
				},
				Outcome:      models.OutcomeFailure,
				ErrorMessage: cause.Error(),
			}); err != nil {
				return err
			}
			summary.Error++
			summary.TotalFindings++
		}
		return e.auditor.Append(ctx, tx, &models.AuditEntry{
			EventType:      models.EventDetection,
			Action:         "scan.adapter_failed",
			Actor:          "system",
			OrganizationID: account.OrganizationID,
			CloudAccountID: account.ID,
			EventData:      map[string]interface{}{"scan_id": scanID},
			Outcome:        models.OutcomeFailure,
			ErrorMessage:   cause.Error(),
		})
	})
	if err != nil {
		e.log.Error("failed to persist adapter failure findings", logger.Error(err))
	}
	return summary
}

// finishFailed records the failed terminal state. It runs on a background
// context so a cancelled scan still leaves a consistent account row.
func (e *Engine) finishFailed(account *models.CloudAccount, scanID, actor string, startedAt time.Time, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	completedAt := time.Now().UTC()
	if err := e.store.FinishScan(ctx, account.ID, models.ScanFailed, completedAt); err != nil {
		e.log.Error("failed to record scan failure", logger.Error(err))
	}
	metrics.ScansTotal.WithLabelValues(string(models.ScanFailed)).Inc()
	metrics.ScanDuration.Observe(completedAt.Sub(startedAt).Seconds())

	if err := e.auditor.Append(ctx, e.store.DB(), &models.AuditEntry{
		EventType:      models.EventScan,
		Action:         "scan.failed",
		Actor:          actor,
		OrganizationID: account.OrganizationID,
		CloudAccountID: account.ID,
		EventData: map[string]interface{}{
			"scan_id":     scanID,
			"duration_ms": completedAt.Sub(startedAt).Milliseconds(),
		},
		Outcome:      models.OutcomeFailure,
		ErrorMessage: cause.Error(),
	}); err != nil {
		e.log.Error("failed to append scan failure audit entry", logger.Error(err))
	}
}
