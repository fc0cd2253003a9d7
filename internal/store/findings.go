package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
)

const findingColumns = `id, scan_id, cloud_account_id, control_id, status, risk_level,
	resource_id, resource_type, finding_details, evidence_before, evidence_after,
	evidence_key, remediation_status, remediation_approved_by, remediation_executed_at,
	remediation_details, rollback_data, detected_at, resolved_at, metadata`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFinding(row rowScanner) (*models.Finding, error) {
	var (
		f                 models.Finding
		status            string
		risk              string
		remediationStatus string
		details           sql.NullString
		evidenceBefore    sql.NullString
		evidenceAfter     sql.NullString
		remediationInfo   sql.NullString
		rollbackData      sql.NullString
		metadata          sql.NullString
		executedAt        sql.NullTime
		resolvedAt        sql.NullTime
	)
	err := row.Scan(&f.ID, &f.ScanID, &f.CloudAccountID, &f.ControlID, &status, &risk,
		&f.ResourceID, &f.ResourceType, &details, &evidenceBefore, &evidenceAfter,
		&f.EvidenceKey, &remediationStatus, &f.RemediationApprovedBy, &executedAt,
		&remediationInfo, &rollbackData, &f.DetectedAt, &resolvedAt, &metadata)
	if err != nil {
		return nil, err
	}
	f.Status = models.FindingStatus(status)
	f.RiskLevel = models.Severity(risk)
	f.RemediationStatus = models.RemediationStatus(remediationStatus)
	f.RemediationExecutedAt = timePtr(executedAt)
	f.ResolvedAt = timePtr(resolvedAt)
	f.DetectedAt = f.DetectedAt.UTC()
	for _, pair := range []struct {
		col sql.NullString
		dst *map[string]interface{}
	}{
		{details, &f.FindingDetails},
		{evidenceBefore, &f.EvidenceBefore},
		{evidenceAfter, &f.EvidenceAfter},
		{remediationInfo, &f.RemediationDetails},
		{rollbackData, &f.RollbackData},
		{metadata, &f.Metadata},
	} {
		if err := unmarshalJSON(pair.col, pair.dst); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// SaveFindingTx inserts a finding inside an existing transaction so the
// finding and its audit entry commit together.
func (s *Store) SaveFindingTx(ctx context.Context, tx *sql.Tx, f *models.Finding) error {
	cols := make([]sql.NullString, 6)
	for i, v := range []interface{}{
		f.FindingDetails, f.EvidenceBefore, f.EvidenceAfter,
		f.RemediationDetails, f.RollbackData, f.Metadata,
	} {
		encoded, err := marshalJSON(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode finding column")
		}
		cols[i] = encoded
	}
	if f.RemediationStatus == "" {
		f.RemediationStatus = models.RemediationNone
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO control_results (`+findingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ScanID, f.CloudAccountID, f.ControlID, string(f.Status), string(f.RiskLevel),
		f.ResourceID, f.ResourceType, cols[0], cols[1], cols[2],
		f.EvidenceKey, string(f.RemediationStatus), f.RemediationApprovedBy,
		nullTime(f.RemediationExecutedAt), cols[3], cols[4],
		f.DetectedAt.UTC(), nullTime(f.ResolvedAt), cols[5])
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to insert finding").
			WithDetail("finding_id", f.ID)
	}
	return nil
}

// GetFinding loads a finding by ID
func (s *Store) GetFinding(ctx context.Context, id string) (*models.Finding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+findingColumns+` FROM control_results WHERE id = ?`, id)
	f, err := scanFinding(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("finding not found").WithDetail("finding_id", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to load finding")
	}
	return f, nil
}

// ListFindings returns findings matching the filter, ordered by
// (control_id, resource_id) so listings are deterministic.
func (s *Store) ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	query := `SELECT ` + qualify(findingColumns, "r.") + ` FROM control_results r`
	var (
		where []string
		args  []interface{}
	)
	if filter.OrganizationID != "" {
		query += ` JOIN cloud_accounts a ON a.id = r.cloud_account_id`
		where = append(where, "a.organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.AccountID != "" {
		where = append(where, "r.cloud_account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.ScanID != "" {
		where = append(where, "r.scan_id = ?")
		args = append(args, filter.ScanID)
	}
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		where = append(where, "r.risk_level = ?")
		args = append(args, string(filter.Severity))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY r.control_id, r.resource_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to list findings")
	}
	defer rows.Close()

	var findings []*models.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to scan finding row")
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// ClaimRemediation transitions a finding's remediation status to pending.
// The compare-and-set refuses findings already pending or executed so two
// concurrent remediations cannot both run.
func (s *Store) ClaimRemediation(ctx context.Context, findingID, approvedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE control_results
		SET remediation_status = ?, remediation_approved_by = ?
		WHERE id = ? AND remediation_status NOT IN (?, ?)`,
		string(models.RemediationPending), approvedBy, findingID,
		string(models.RemediationPending), string(models.RemediationExecuted))
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to claim remediation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to read claim result")
	}
	if n == 0 {
		if _, getErr := s.GetFinding(ctx, findingID); getErr != nil {
			return getErr
		}
		return apperrors.NewConflictError("remediation already pending or executed").
			WithDetail("finding_id", findingID)
	}
	return nil
}

// ReleaseRemediationClaim returns a claimed finding to its prior remediation
// status after a pre-execution failure.
func (s *Store) ReleaseRemediationClaim(ctx context.Context, findingID string, status models.RemediationStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE control_results SET remediation_status = ? WHERE id = ?`,
		string(status), findingID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to release remediation claim")
	}
	return nil
}

// CompleteRemediationTx applies the post-execution finding updates in one
// statement so the status flip, evidence, and rollback data are atomic.
func (s *Store) CompleteRemediationTx(ctx context.Context, tx *sql.Tx, f *models.Finding) error {
	evidenceAfter, err := marshalJSON(f.EvidenceAfter)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode evidence")
	}
	rollbackData, err := marshalJSON(f.RollbackData)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode rollback data")
	}
	remediationDetails, err := marshalJSON(f.RemediationDetails)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode remediation details")
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE control_results
		SET status = ?, remediation_status = ?, remediation_approved_by = ?,
			remediation_executed_at = ?, remediation_details = ?,
			evidence_after = ?, evidence_key = ?, rollback_data = ?, resolved_at = ?
		WHERE id = ?`,
		string(f.Status), string(f.RemediationStatus), f.RemediationApprovedBy,
		nullTime(f.RemediationExecutedAt), remediationDetails,
		evidenceAfter, f.EvidenceKey, rollbackData, nullTime(f.ResolvedAt), f.ID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to record remediation outcome")
	}
	return nil
}

// FailRemediationTx marks a remediation attempt failed with its error detail.
// The finding status is untouched.
func (s *Store) FailRemediationTx(ctx context.Context, tx *sql.Tx, findingID string, details map[string]interface{}) error {
	encoded, err := marshalJSON(details)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode remediation details")
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE control_results
		SET remediation_status = ?, remediation_details = ?
		WHERE id = ?`,
		string(models.RemediationFailed), encoded, findingID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to record remediation failure")
	}
	return nil
}

// RollbackFindingTx records a completed rollback. Evidence and rollback data
// are preserved for the audit trail; only status fields move.
func (s *Store) RollbackFindingTx(ctx context.Context, tx *sql.Tx, findingID string, details map[string]interface{}) error {
	encoded, err := marshalJSON(details)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode rollback details")
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE control_results
		SET status = ?, remediation_status = ?, remediation_details = ?, resolved_at = NULL
		WHERE id = ?`,
		string(models.StatusFail), string(models.RemediationRolledBack), encoded, findingID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to record rollback")
	}
	return nil
}

// SetEvidenceKey records the object storage key for a finding's evidence
func (s *Store) SetEvidenceKey(ctx context.Context, findingID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE control_results SET evidence_key = ? WHERE id = ?`, key, findingID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to set evidence key")
	}
	return nil
}

// ComplianceScore computes the pass ratio over every finding the filter
// selects; callers narrow scope to a scan, account, or organization. ERROR
// and MANUAL findings are excluded from the denominator; FIXED counts as
// passing.
func (s *Store) ComplianceScore(ctx context.Context, filter models.FindingFilter) (*models.ComplianceScore, error) {
	query := `
		SELECT r.status, r.risk_level, COUNT(*)
		FROM control_results r`
	var (
		where []string
		args  []interface{}
	)
	if filter.OrganizationID != "" {
		query += ` JOIN cloud_accounts a ON a.id = r.cloud_account_id`
		where = append(where, "a.organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.AccountID != "" {
		where = append(where, "r.cloud_account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.ScanID != "" {
		where = append(where, "r.scan_id = ?")
		args = append(args, filter.ScanID)
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " GROUP BY r.status, r.risk_level"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to compute compliance score")
	}
	defer rows.Close()

	score := &models.ComplianceScore{BySeverity: make(map[models.Severity]int)}
	for rows.Next() {
		var (
			status string
			risk   string
			count  int
		)
		if err := rows.Scan(&status, &risk, &count); err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to scan score row")
		}
		switch models.FindingStatus(status) {
		case models.StatusPass:
			score.Pass += count
		case models.StatusFixed:
			score.Fixed += count
		case models.StatusFail:
			score.Fail += count
			score.BySeverity[models.Severity(risk)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to read score rows")
	}

	score.Total = score.Pass + score.Fixed + score.Fail
	if score.Total > 0 {
		score.Score = float64(score.Pass+score.Fixed) / float64(score.Total)
	}
	return score, nil
}

// FindingsInWindow returns an organization's findings detected inside
// [from, to), ordered deterministically for report generation.
func (s *Store) FindingsInWindow(ctx context.Context, orgID string, from, to time.Time) ([]*models.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualify(findingColumns, "r.")+`
		FROM control_results r
		JOIN cloud_accounts a ON a.id = r.cloud_account_id
		WHERE a.organization_id = ? AND r.detected_at >= ? AND r.detected_at < ?
		ORDER BY r.control_id, r.resource_id`,
		orgID, from.UTC(), to.UTC())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to query report findings")
	}
	defer rows.Close()

	var findings []*models.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to scan finding row")
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func qualify(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
