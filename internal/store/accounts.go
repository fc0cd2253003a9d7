package store

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// CreateOrganization inserts a tenant
func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	frameworks, err := marshalJSON(org.ComplianceFrameworks)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode frameworks")
	}
	settings, err := marshalJSON(org.Settings)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode settings")
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, compliance_frameworks, contact_email, settings, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, frameworks.String, org.ContactEmail, settings, org.CreatedAt.UTC())
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to insert organization")
	}
	return nil
}

// GetOrganization loads a tenant by ID
func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var (
		org        models.Organization
		frameworks sql.NullString
		settings   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, compliance_frameworks, contact_email, settings, created_at
		FROM organizations WHERE id = ?`, id).
		Scan(&org.ID, &org.Name, &frameworks, &org.ContactEmail, &settings, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("organization not found").WithDetail("organization_id", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to load organization")
	}
	if err := unmarshalJSON(frameworks, &org.ComplianceFrameworks); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to decode frameworks")
	}
	if err := unmarshalJSON(settings, &org.Settings); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to decode settings")
	}
	return &org, nil
}

// CreateAccount inserts a cloud account binding
func (s *Store) CreateAccount(ctx context.Context, account *models.CloudAccount) error {
	creds, err := marshalJSON(account.Credentials)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode credentials")
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if account.LastScanStatus == "" {
		account.LastScanStatus = models.ScanIdle
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cloud_accounts
			(id, organization_id, name, provider, external_account_id, region,
			 credentials, last_scan_at, last_scan_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.OrganizationID, account.Name, string(account.Provider),
		account.ExternalAccountID, account.Region, creds,
		nullTime(account.LastScanAt), string(account.LastScanStatus),
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to insert cloud account")
	}
	return nil
}

const accountColumns = `id, organization_id, name, provider, external_account_id, region,
	credentials, last_scan_at, last_scan_status, created_at, updated_at`

func scanAccount(row *sql.Row) (*models.CloudAccount, error) {
	var (
		account    models.CloudAccount
		creds      sql.NullString
		lastScanAt sql.NullTime
		provider   string
		status     string
	)
	err := row.Scan(&account.ID, &account.OrganizationID, &account.Name, &provider,
		&account.ExternalAccountID, &account.Region, &creds, &lastScanAt,
		&status, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.Provider = models.Provider(provider)
	account.LastScanStatus = models.ScanStatus(status)
	account.LastScanAt = timePtr(lastScanAt)
	if err := unmarshalJSON(creds, &account.Credentials); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccount loads a cloud account by ID
func (s *Store) GetAccount(ctx context.Context, id string) (*models.CloudAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM cloud_accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("cloud account not found").WithDetail("account_id", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to load cloud account")
	}
	return account, nil
}

// ListAccounts returns all accounts for an organization
func (s *Store) ListAccounts(ctx context.Context, orgID string) ([]*models.CloudAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM cloud_accounts WHERE organization_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to list cloud accounts")
	}
	defer rows.Close()

	var accounts []*models.CloudAccount
	for rows.Next() {
		var (
			account    models.CloudAccount
			creds      sql.NullString
			lastScanAt sql.NullTime
			provider   string
			status     string
		)
		if err := rows.Scan(&account.ID, &account.OrganizationID, &account.Name, &provider,
			&account.ExternalAccountID, &account.Region, &creds, &lastScanAt,
			&status, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to scan cloud account row")
		}
		account.Provider = models.Provider(provider)
		account.LastScanStatus = models.ScanStatus(status)
		account.LastScanAt = timePtr(lastScanAt)
		if err := unmarshalJSON(creds, &account.Credentials); err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to decode credentials")
		}
		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}

// BeginScan transitions the account to inProgress. The compare-and-set on
// last_scan_status enforces at most one in-flight scan per account.
func (s *Store) BeginScan(ctx context.Context, accountID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cloud_accounts
		SET last_scan_status = ?, updated_at = ?
		WHERE id = ? AND last_scan_status <> ?`,
		string(models.ScanInProgress), time.Now().UTC(), accountID, string(models.ScanInProgress))
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to claim scan")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to read claim result")
	}
	if n == 0 {
		// Distinguish an unknown account from a concurrent scan.
		if _, getErr := s.GetAccount(ctx, accountID); getErr != nil {
			return getErr
		}
		return apperrors.NewConflictError("scan already in progress").WithDetail("account_id", accountID)
	}
	return nil
}

// FinishScan records the terminal scan status and timestamp.
func (s *Store) FinishScan(ctx context.Context, accountID string, status models.ScanStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cloud_accounts
		SET last_scan_status = ?, last_scan_at = ?, updated_at = ?
		WHERE id = ?`,
		string(status), at.UTC(), time.Now().UTC(), accountID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to record scan completion")
	}
	return nil
}
