package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// VerifyResult reports the outcome of a chain replay.
type VerifyResult struct {
	OrganizationID string `json:"organization_id"`
	Entries        int    `json:"entries"`
	Valid          bool   `json:"valid"`
	BrokenAtID     int64  `json:"broken_at_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Verify replays an organization's chain in id order, recomputing every hash.
// The first entry's prev_hash is taken as the anchor, which keeps chains
// verifiable after retention pruning removes their oldest entries.
func Verify(ctx context.Context, q Querier, orgID string) (*VerifyResult, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, timestamp, event_type, action, actor, organization_id,
			cloud_account_id, control_id, resource_id, finding_id,
			event_data, before_state, after_state, ip_address, user_agent,
			outcome, error_message, prev_hash, hash
		FROM audit_logs
		WHERE organization_id = ?
		ORDER BY id`, orgID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to read audit chain")
	}
	defer rows.Close()

	result := &VerifyResult{OrganizationID: orgID, Valid: true}
	var (
		expectedPrev string
		lastTS       time.Time
		first        = true
	)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to scan audit row")
		}
		result.Entries++

		if first {
			expectedPrev = entry.PrevHash
			first = false
		}
		if entry.PrevHash != expectedPrev {
			return broken(result, entry.ID, "prev_hash does not match previous entry"), nil
		}
		recomputed, err := ComputeHash(entry.PrevHash, entry)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to recompute hash")
		}
		if recomputed != entry.Hash {
			return broken(result, entry.ID, "stored hash does not match recomputed hash"), nil
		}
		if entry.Timestamp.Before(lastTS) {
			return broken(result, entry.ID, "timestamp regressed within chain"), nil
		}
		lastTS = entry.Timestamp
		expectedPrev = entry.Hash
	}
	return result, rows.Err()
}

func broken(r *VerifyResult, id int64, reason string) *VerifyResult {
	r.Valid = false
	r.BrokenAtID = id
	r.Reason = reason
	return r
}

// Filter narrows audit log queries
type Filter struct {
	OrganizationID string
	EventType      models.EventType
	Actor          string
	FindingID      string
	From           time.Time
	To             time.Time
	Limit          int
}

// Query returns entries matching the filter in (timestamp, id) order.
func Query(ctx context.Context, q Querier, filter Filter) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, timestamp, event_type, action, actor, organization_id,
			cloud_account_id, control_id, resource_id, finding_id,
			event_data, before_state, after_state, ip_address, user_agent,
			outcome, error_message, prev_hash, hash
		FROM audit_logs WHERE 1=1`
	var args []interface{}
	if filter.OrganizationID != "" {
		query += " AND organization_id = ?"
		args = append(args, filter.OrganizationID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(filter.EventType))
	}
	if filter.Actor != "" {
		query += " AND actor = ?"
		args = append(args, filter.Actor)
	}
	if filter.FindingID != "" {
		query += " AND finding_id = ?"
		args = append(args, filter.FindingID)
	}
	if !filter.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.To.UTC())
	}
	query += " ORDER BY timestamp, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to query audit log")
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to scan audit row")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the cutoff. Verification stays possible
// because Verify anchors on the oldest surviving entry's prev_hash.
func Prune(ctx context.Context, q Querier, before time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindInternal, "failed to prune audit log")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindInternal, "failed to read prune count")
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (*models.AuditEntry, error) {
	var (
		entry       models.AuditEntry
		eventType   string
		outcome     string
		eventData   sql.NullString
		beforeState sql.NullString
		afterState  sql.NullString
	)
	err := rows.Scan(&entry.ID, &entry.Timestamp, &eventType, &entry.Action, &entry.Actor,
		&entry.OrganizationID, &entry.CloudAccountID, &entry.ControlID, &entry.ResourceID,
		&entry.FindingID, &eventData, &beforeState, &afterState,
		&entry.IPAddress, &entry.UserAgent, &outcome, &entry.ErrorMessage,
		&entry.PrevHash, &entry.Hash)
	if err != nil {
		return nil, err
	}
	entry.EventType = models.EventType(eventType)
	entry.Outcome = models.Outcome(outcome)
	entry.Timestamp = entry.Timestamp.UTC()
	for _, pair := range []struct {
		col sql.NullString
		dst *map[string]interface{}
	}{
		{eventData, &entry.EventData},
		{beforeState, &entry.BeforeState},
		{afterState, &entry.AfterState},
	} {
		if !pair.col.Valid || pair.col.String == "" {
			continue
		}
		m := make(map[string]interface{})
		if err := json.Unmarshal([]byte(pair.col.String), &m); err != nil {
			return nil, err
		}
		*pair.dst = m
	}
	return &entry, nil
}
