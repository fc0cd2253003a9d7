// Package store is the sqlite persistence layer for organizations, cloud
// accounts, the control catalog snapshot, findings, and the audit log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/catherinevee/compliancemgr/internal/config"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/logger"
)

// Store wraps the sqlite handle. All JSON-shaped columns are stored as TEXT.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	compliance_frameworks TEXT NOT NULL DEFAULT '[]',
	contact_email TEXT NOT NULL DEFAULT '',
	settings TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cloud_accounts (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	name TEXT NOT NULL,
	provider TEXT NOT NULL,
	external_account_id TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	credentials TEXT,
	last_scan_at TIMESTAMP,
	last_scan_status TEXT NOT NULL DEFAULT 'idle',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cloud_accounts_org ON cloud_accounts(organization_id);

CREATE TABLE IF NOT EXISTS controls (
	control_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	frameworks TEXT NOT NULL DEFAULT '{}',
	can_auto_remediate INTEGER NOT NULL DEFAULT 0,
	remediation_risk TEXT NOT NULL DEFAULT 'low'
);

CREATE TABLE IF NOT EXISTS control_results (
	id TEXT PRIMARY KEY,
	scan_id TEXT NOT NULL,
	cloud_account_id TEXT NOT NULL REFERENCES cloud_accounts(id),
	control_id TEXT NOT NULL,
	status TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	resource_id TEXT NOT NULL DEFAULT '',
	resource_type TEXT NOT NULL DEFAULT '',
	finding_details TEXT,
	evidence_before TEXT,
	evidence_after TEXT,
	evidence_key TEXT NOT NULL DEFAULT '',
	remediation_status TEXT NOT NULL DEFAULT 'none',
	remediation_approved_by TEXT NOT NULL DEFAULT '',
	remediation_executed_at TIMESTAMP,
	remediation_details TEXT,
	rollback_data TEXT,
	detected_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP,
	metadata TEXT,
	UNIQUE(scan_id, control_id, resource_id)
);

CREATE INDEX IF NOT EXISTS idx_results_control_account_status
	ON control_results(control_id, cloud_account_id, status);
CREATE INDEX IF NOT EXISTS idx_results_scan ON control_results(scan_id);
CREATE INDEX IF NOT EXISTS idx_results_account ON control_results(cloud_account_id);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	action TEXT NOT NULL,
	actor TEXT NOT NULL,
	organization_id TEXT NOT NULL DEFAULT '',
	cloud_account_id TEXT NOT NULL DEFAULT '',
	control_id TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	finding_id TEXT NOT NULL DEFAULT '',
	event_data TEXT,
	before_state TEXT,
	after_state TEXT,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_logs(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_logs(actor);
CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_logs(organization_id, id);
`

// Open opens (or creates) the database and applies the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}
	// _txlock=immediate makes every transaction take the write lock at
	// BEGIN, so a transaction that reads then writes (the audit chain head,
	// the scan CAS) sees a head no concurrent writer can move under it.
	dsn := fmt.Sprintf("%s%s_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		cfg.Path, sep, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to ping database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to apply schema")
	}

	return &Store{db: db, log: logger.New("store")}, nil
}

// OpenMemory opens a private in-memory database for tests. The shared cache
// keeps every connection in the pool on the same database.
func OpenMemory() (*Store, error) {
	name := fmt.Sprintf("file:mem_%s?mode=memory&cache=shared", uuid.NewString())
	return Open(config.DatabaseConfig{
		Path:         name,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	})
}

// Close closes the underlying handle
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for packages that query directly
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", logger.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to commit transaction")
	}
	return nil
}

func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString, v interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
