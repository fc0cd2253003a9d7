package store

import (
	"context"
	"database/sql"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// ControlRow is the persisted snapshot of one catalog descriptor. The
// catalog itself lives in code; this table exists so reports and external
// tooling can join findings to control metadata.
type ControlRow struct {
	ControlID        string
	Title            string
	Description      string
	Severity         models.Severity
	Category         string
	Provider         models.Provider
	Frameworks       map[string][]string
	CanAutoRemediate bool
	RemediationRisk  models.RemediationRisk
}

// SeedControls upserts the catalog snapshot at startup
func (s *Store) SeedControls(ctx context.Context, rows []ControlRow) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO controls
				(control_id, title, description, severity, category, provider,
				 frameworks, can_auto_remediate, remediation_risk)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(control_id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				severity = excluded.severity,
				category = excluded.category,
				provider = excluded.provider,
				frameworks = excluded.frameworks,
				can_auto_remediate = excluded.can_auto_remediate,
				remediation_risk = excluded.remediation_risk`)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindInternal, "failed to prepare control upsert")
		}
		defer stmt.Close()

		for _, row := range rows {
			frameworks, err := marshalJSON(row.Frameworks)
			if err != nil {
				return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode frameworks")
			}
			if _, err := stmt.ExecContext(ctx,
				row.ControlID, row.Title, row.Description, string(row.Severity),
				row.Category, string(row.Provider), frameworks,
				row.CanAutoRemediate, string(row.RemediationRisk)); err != nil {
				return apperrors.Wrap(err, apperrors.KindInternal, "failed to upsert control").
					WithDetail("control_id", row.ControlID)
			}
		}
		return nil
	})
}

// GetControlRow loads one catalog snapshot row
func (s *Store) GetControlRow(ctx context.Context, controlID string) (*ControlRow, error) {
	var (
		row        ControlRow
		severity   string
		provider   string
		risk       string
		frameworks sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT control_id, title, description, severity, category, provider,
			frameworks, can_auto_remediate, remediation_risk
		FROM controls WHERE control_id = ?`, controlID).
		Scan(&row.ControlID, &row.Title, &row.Description, &severity, &row.Category,
			&provider, &frameworks, &row.CanAutoRemediate, &risk)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("control not found").WithDetail("control_id", controlID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to load control")
	}
	row.Severity = models.Severity(severity)
	row.Provider = models.Provider(provider)
	row.RemediationRisk = models.RemediationRisk(risk)
	if err := unmarshalJSON(frameworks, &row.Frameworks); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to decode frameworks")
	}
	return &row, nil
}
