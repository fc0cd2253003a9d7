// Package remediation executes approved fixes for failed findings, records
// the evidence to undo them, and drives the rollback path. Every transition
// commits atomically with its audit entry.
package remediation

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/catherinevee/compliancemgr/internal/audit"
	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/config"
	"github.com/catherinevee/compliancemgr/internal/controls"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/evidence"
	"github.com/catherinevee/compliancemgr/internal/logger"
	"github.com/catherinevee/compliancemgr/internal/metrics"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/store"
)

// Engine executes remediations and rollbacks.
type Engine struct {
	store    *store.Store
	auditor  *audit.Writer
	catalog  *controls.Catalog
	factory  cloud.Factory
	objects  evidence.ObjectStore
	cfg      config.ScanningConfig
	validate *validator.Validate
	log      logger.Logger
}

// NewEngine creates a remediation engine
func NewEngine(st *store.Store, auditor *audit.Writer, catalog *controls.Catalog, factory cloud.Factory, objects evidence.ObjectStore, cfg config.ScanningConfig) *Engine {
	return &Engine{
		store:    st,
		auditor:  auditor,
		catalog:  catalog,
		factory:  factory,
		objects:  objects,
		cfg:      cfg,
		validate: validator.New(),
		log:      logger.New("remediation"),
	}
}

// Request describes one remediation attempt. An approver is required to
// execute; a dry run may be anonymous.
type Request struct {
	FindingID  string `validate:"required"`
	ApprovedBy string `validate:"omitempty,email"`
	DryRun     bool
	Verify     bool
}

// Result is the outcome of a remediation attempt.
type Result struct {
	FindingID string                 `json:"finding_id"`
	Status    models.FindingStatus   `json:"status"`
	Noop      bool                   `json:"noop,omitempty"`
	DryRun    bool                   `json:"dry_run,omitempty"`
	Verified  *bool                  `json:"verified,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Remediate fixes one failed finding. An already-remediated finding returns
// a no-op result without touching state, so retries are idempotent.
func (e *Engine) Remediate(ctx context.Context, req Request) (*Result, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError("invalid remediation request").WithCause(err)
	}
	if !req.DryRun && req.ApprovedBy == "" {
		return nil, apperrors.NewValidationError("an approver is required to execute a remediation")
	}

	finding, err := e.store.GetFinding(ctx, req.FindingID)
	if err != nil {
		return nil, err
	}
	control, err := e.catalog.Get(finding.ControlID)
	if err != nil {
		return nil, err
	}
	if !control.CanRemediate() {
		return nil, apperrors.NewValidationError("control does not support automated remediation").
			WithDetail("control_id", control.ControlID)
	}

	if finding.Status == models.StatusFixed && finding.RemediationStatus == models.RemediationExecuted {
		result := &Result{FindingID: finding.ID, Status: finding.Status, Noop: true}
		if req.Verify {
			account, err := e.store.GetAccount(ctx, finding.CloudAccountID)
			if err != nil {
				return nil, err
			}
			adapter, err := e.factory.New(ctx, account)
			if err != nil {
				return nil, err
			}
			verified := e.verify(ctx, adapter, control, finding)
			result.Verified = &verified
		}
		return result, nil
	}
	if finding.Status != models.StatusFail && finding.Status != models.StatusError {
		return nil, apperrors.NewConflictError("finding is not in a remediable state").
			WithDetail("finding_id", finding.ID).
			WithDetail("status", string(finding.Status))
	}

	account, err := e.store.GetAccount(ctx, finding.CloudAccountID)
	if err != nil {
		return nil, err
	}

	if req.DryRun {
		return e.dryRun(ctx, account, control, finding, req)
	}

	if err := e.store.ClaimRemediation(ctx, finding.ID, req.ApprovedBy); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.RemediateTimeout)
	defer cancel()

	adapter, err := e.factory.New(execCtx, account)
	if err != nil {
		e.recordFailure(account, control, finding, req, err)
		return nil, err
	}

	outcome, execErr := control.Remediate(execCtx, adapter, finding, false)
	if execErr != nil {
		e.recordFailure(account, control, finding, req, execErr)
		metrics.RemediationsTotal.WithLabelValues(control.ControlID, string(models.OutcomeFailure)).Inc()
		return nil, execErr
	}

	executedAt := time.Now().UTC()

	// Snapshot the pre-fix state to object storage. Snapshot failures do not
	// undo the executed fix; the inline evidence_before column still holds
	// the same state.
	snapshotKey := ""
	if key, snapErr := evidence.SaveSnapshot(ctx, e.objects, evidence.Snapshot{
		FindingID:  finding.ID,
		ControlID:  control.ControlID,
		ResourceID: finding.ResourceID,
		CapturedAt: executedAt,
		Phase:      "before_remediation",
		State:      outcome.BeforeState,
	}); snapErr != nil {
		e.log.Warn("evidence snapshot failed",
			logger.String("finding_id", finding.ID), logger.Error(snapErr))
	} else {
		snapshotKey = key
	}

	finding.Status = models.StatusFixed
	finding.RemediationStatus = models.RemediationExecuted
	finding.RemediationApprovedBy = req.ApprovedBy
	finding.RemediationExecutedAt = &executedAt
	finding.EvidenceAfter = outcome.AfterState
	finding.EvidenceKey = snapshotKey
	finding.RollbackData = outcome.RollbackData
	finding.ResolvedAt = &executedAt
	finding.RemediationDetails = outcome.Details

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.CompleteRemediationTx(ctx, tx, finding); err != nil {
			return err
		}
		return e.auditor.Append(ctx, tx, &models.AuditEntry{
			EventType:      models.EventRemediation,
			Action:         "remediation.executed",
			Actor:          req.ApprovedBy,
			OrganizationID: account.OrganizationID,
			CloudAccountID: account.ID,
			ControlID:      control.ControlID,
			ResourceID:     finding.ResourceID,
			FindingID:      finding.ID,
			BeforeState:    outcome.BeforeState,
			AfterState:     outcome.AfterState,
			EventData: map[string]interface{}{
				"evidence_key": snapshotKey,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.RemediationsTotal.WithLabelValues(control.ControlID, string(models.OutcomeSuccess)).Inc()
	e.log.Info("remediation executed",
		logger.String("finding_id", finding.ID),
		logger.String("control_id", control.ControlID),
		logger.String("approved_by", req.ApprovedBy),
	)

	result := &Result{FindingID: finding.ID, Status: models.StatusFixed}
	if req.Verify {
		verified := e.verify(ctx, adapter, control, finding)
		result.Verified = &verified
	}
	return result, nil
}

// dryRun rehearses the fix without claiming the finding or mutating the
// cloud: the control projects its after state and rollback data, and the
// rehearsal is audited so approvers can review it.
func (e *Engine) dryRun(ctx context.Context, account *models.CloudAccount, control *controls.Control, finding *models.Finding, req Request) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.RemediateTimeout)
	defer cancel()

	adapter, err := e.factory.New(execCtx, account)
	if err != nil {
		return nil, err
	}
	outcome, err := control.Remediate(execCtx, adapter, finding, true)
	if err != nil {
		return nil, err
	}

	actor := req.ApprovedBy
	if actor == "" {
		actor = "system"
	}
	if err := e.auditor.Append(ctx, e.store.DB(), &models.AuditEntry{
		EventType:      models.EventRemediation,
		Action:         "remediation.dry_run",
		Actor:          actor,
		OrganizationID: account.OrganizationID,
		CloudAccountID: account.ID,
		ControlID:      control.ControlID,
		ResourceID:     finding.ResourceID,
		FindingID:      finding.ID,
		BeforeState:    outcome.BeforeState,
		AfterState:     outcome.AfterState,
		EventData: map[string]interface{}{
			"dry_run": true,
		},
	}); err != nil {
		return nil, err
	}
	return &Result{
		FindingID: finding.ID,
		Status:    finding.Status,
		DryRun:    true,
		Details: map[string]interface{}{
			"control_id":       control.ControlID,
			"resource_id":      finding.ResourceID,
			"remediation_risk": string(control.RemediationRisk),
			"before_state":     outcome.BeforeState,
			"after_state":      outcome.AfterState,
			"rollback_data":    outcome.RollbackData,
		},
	}, nil
}

// verify re-runs the control's detect. Detect seeds failures only, so the
// fix held exactly when the remediated resource is absent from the seeds.
func (e *Engine) verify(ctx context.Context, adapter cloud.Adapter, control *controls.Control, finding *models.Finding) bool {
	detectCtx, cancel := context.WithTimeout(ctx, e.cfg.DetectTimeout)
	defer cancel()

	evaluations, err := control.Detect(detectCtx, adapter)
	if err != nil {
		e.log.Warn("post-remediation verification failed",
			logger.String("finding_id", finding.ID), logger.Error(err))
		return false
	}
	for _, eval := range evaluations {
		if eval.ResourceID == finding.ResourceID {
			return false
		}
	}
	return true
}

func (e *Engine) recordFailure(account *models.CloudAccount, control *controls.Control, finding *models.Finding, req Request, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.FailRemediationTx(ctx, tx, finding.ID, map[string]interface{}{
			"error": cause.Error(),
		}); err != nil {
			return err
		}
		return e.auditor.Append(ctx, tx, &models.AuditEntry{
			EventType:      models.EventRemediation,
			Action:         "remediation.failed",
			Actor:          req.ApprovedBy,
			OrganizationID: account.OrganizationID,
			CloudAccountID: account.ID,
			ControlID:      control.ControlID,
			ResourceID:     finding.ResourceID,
			FindingID:      finding.ID,
			Outcome:        models.OutcomeFailure,
			ErrorMessage:   cause.Error(),
		})
	})
	if err != nil {
		e.log.Error("failed to record remediation failure", logger.Error(err))
	}
}

// Rollback reverts an executed remediation using its persisted rollback
// data. The finding returns to FAIL; evidence and rollback data survive for
// the audit trail.
func (e *Engine) Rollback(ctx context.Context, findingID, actor string) (*Result, error) {
	if findingID == "" {
		return nil, apperrors.NewValidationError("finding id is required")
	}
	if err := e.validate.Var(actor, "required,email"); err != nil {
		return nil, apperrors.NewValidationError("actor must be an email address").WithCause(err)
	}

	finding, err := e.store.GetFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}
	if finding.Status != models.StatusFixed || finding.RemediationStatus != models.RemediationExecuted {
		return nil, apperrors.NewConflictError("finding has no executed remediation to roll back").
			WithDetail("finding_id", findingID).
			WithDetail("status", string(finding.Status))
	}
	if len(finding.RollbackData) == 0 {
		return nil, apperrors.NewConflictError("finding has no rollback data").
			WithDetail("finding_id", findingID)
	}

	control, err := e.catalog.Get(finding.ControlID)
	if err != nil {
		return nil, err
	}
	if control.Rollback == nil {
		return nil, apperrors.NewValidationError("control does not support rollback").
			WithDetail("control_id", control.ControlID)
	}

	account, err := e.store.GetAccount(ctx, finding.CloudAccountID)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.RemediateTimeout)
	defer cancel()

	adapter, err := e.factory.New(execCtx, account)
	if err != nil {
		return nil, err
	}

	if err := control.Rollback(execCtx, adapter, finding); err != nil {
		metrics.RollbacksTotal.WithLabelValues(control.ControlID, string(models.OutcomeFailure)).Inc()
		if auditErr := e.auditor.Append(ctx, e.store.DB(), &models.AuditEntry{
			EventType:      models.EventRollback,
			Action:         "rollback.failed",
			Actor:          actor,
			OrganizationID: account.OrganizationID,
			CloudAccountID: account.ID,
			ControlID:      control.ControlID,
			ResourceID:     finding.ResourceID,
			FindingID:      finding.ID,
			Outcome:        models.OutcomeFailure,
			ErrorMessage:   err.Error(),
		}); auditErr != nil {
			e.log.Error("failed to append rollback failure audit entry", logger.Error(auditErr))
		}
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.RollbackFindingTx(ctx, tx, finding.ID, map[string]interface{}{
			"rolled_back_by": actor,
		}); err != nil {
			return err
		}
		return e.auditor.Append(ctx, tx, &models.AuditEntry{
			EventType:      models.EventRollback,
			Action:         "rollback.executed",
			Actor:          actor,
			OrganizationID: account.OrganizationID,
			CloudAccountID: account.ID,
			ControlID:      control.ControlID,
			ResourceID:     finding.ResourceID,
			FindingID:      finding.ID,
			BeforeState:    finding.EvidenceAfter,
			AfterState:     finding.RollbackData,
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.RollbacksTotal.WithLabelValues(control.ControlID, string(models.OutcomeSuccess)).Inc()
	e.log.Info("rollback executed",
		logger.String("finding_id", finding.ID),
		logger.String("control_id", control.ControlID),
		logger.String("actor", actor),
	)

	return &Result{FindingID: finding.ID, Status: models.StatusFail}, nil
}
