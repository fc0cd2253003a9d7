// Package audit maintains the append-only, hash-chained audit log. Every
// entry's hash covers the previous entry's hash plus a canonical encoding of
// its own fields, one chain per organization, so any mutation or deletion in
// the middle of a chain is detectable on replay.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/logger"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// genesisHash anchors the first entry of each organization's chain.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Querier is satisfied by *sql.DB and *sql.Tx so entries can be appended
// inside the same transaction as the state change they describe.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Writer appends hash-chained entries
type Writer struct {
	log logger.Logger
}

// NewWriter creates an audit writer
func NewWriter() *Writer {
	return &Writer{log: logger.New("audit")}
}

// canonicalEntry is the hashed projection of an entry. Field order is fixed
// and timestamps are RFC3339Nano UTC so the encoding is stable across runs.
type canonicalEntry struct {
	Timestamp      string                 `json:"timestamp"`
	EventType      models.EventType       `json:"event_type"`
	Action         string                 `json:"action"`
	Actor          string                 `json:"actor"`
	OrganizationID string                 `json:"organization_id"`
	CloudAccountID string                 `json:"cloud_account_id"`
	ControlID      string                 `json:"control_id"`
	ResourceID     string                 `json:"resource_id"`
	FindingID      string                 `json:"finding_id"`
	EventData      map[string]interface{} `json:"event_data,omitempty"`
	BeforeState    map[string]interface{} `json:"before_state,omitempty"`
	AfterState     map[string]interface{} `json:"after_state,omitempty"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	Outcome        models.Outcome         `json:"outcome"`
	ErrorMessage   string                 `json:"error_message"`
}

// ComputeHash derives an entry's hash from the previous hash and the entry's
// canonical encoding.
func ComputeHash(prevHash string, entry *models.AuditEntry) (string, error) {
	canonical := canonicalEntry{
		Timestamp:      entry.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:      entry.EventType,
		Action:         entry.Action,
		Actor:          entry.Actor,
		OrganizationID: entry.OrganizationID,
		CloudAccountID: entry.CloudAccountID,
		ControlID:      entry.ControlID,
		ResourceID:     entry.ResourceID,
		FindingID:      entry.FindingID,
		EventData:      entry.EventData,
		BeforeState:    entry.BeforeState,
		AfterState:     entry.AfterState,
		IPAddress:      entry.IPAddress,
		UserAgent:      entry.UserAgent,
		Outcome:        entry.Outcome,
		ErrorMessage:   entry.ErrorMessage,
	}
	payload, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Append writes one entry, linking it to the organization's chain head.
// Callers pass a transaction when the entry must commit with a state change.
// The entry's ID, PrevHash, and Hash are filled in on return.
//
// The head read and the insert must share a write transaction: the store
// opens sqlite with _txlock=immediate, so the transaction takes the write
// lock at BEGIN and two concurrent appends cannot both read the same head
// and fork the chain. A bare *sql.DB gets its own transaction here.
func (w *Writer) Append(ctx context.Context, q Querier, entry *models.AuditEntry) error {
	if db, ok := q.(*sql.DB); ok {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindInternal, "failed to begin audit transaction")
		}
		if err := w.append(ctx, tx, entry); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return apperrors.Wrap(err, apperrors.KindInternal, "failed to commit audit entry")
		}
		return nil
	}
	return w.append(ctx, q, entry)
}

func (w *Writer) append(ctx context.Context, q Querier, entry *models.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	} else {
		entry.Timestamp = entry.Timestamp.UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = models.OutcomeSuccess
	}

	prevHash := genesisHash
	var head string
	err := q.QueryRowContext(ctx, `
		SELECT hash FROM audit_logs
		WHERE organization_id = ?
		ORDER BY id DESC LIMIT 1`, entry.OrganizationID).Scan(&head)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to read chain head")
	default:
		prevHash = head
	}
	entry.PrevHash = prevHash

	hash, err := ComputeHash(prevHash, entry)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to hash audit entry")
	}
	entry.Hash = hash

	eventData, err := encodeJSON(entry.EventData)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode event data")
	}
	beforeState, err := encodeJSON(entry.BeforeState)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode before state")
	}
	afterState, err := encodeJSON(entry.AfterState)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to encode after state")
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO audit_logs
			(timestamp, event_type, action, actor, organization_id, cloud_account_id,
			 control_id, resource_id, finding_id, event_data, before_state, after_state,
			 ip_address, user_agent, outcome, error_message, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, string(entry.EventType), entry.Action, entry.Actor,
		entry.OrganizationID, entry.CloudAccountID, entry.ControlID, entry.ResourceID,
		entry.FindingID, eventData, beforeState, afterState,
		entry.IPAddress, entry.UserAgent, string(entry.Outcome), entry.ErrorMessage,
		entry.PrevHash, entry.Hash)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to append audit entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to read audit entry id")
	}
	entry.ID = id
	return nil
}

func encodeJSON(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
