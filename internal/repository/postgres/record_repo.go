package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/signaldesk/backend/internal/errs"
	"github.com/signaldesk/backend/internal/model"
)

// RecordRepo implements repository.RecordRepository using PostgreSQL.
// Accounts live in a regular table; the audit log is stored as a single
// JSONB document because its contract is load/replace-whole.
type RecordRepo struct{ db *DB }

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo { return &RecordRepo{db: db} }

const accountColumns = `username, credential, display_name, email, plan, expires_on,
max_sessions, active_sessions, active, email_verified,
verified_at, verified_by, verify_notes, created_at, last_login_at, login_count`

// LoadAllAccounts selects every account row into a map keyed by username.
func (r *RecordRepo) LoadAllAccounts(ctx context.Context) (map[string]*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*model.Account)
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(
			&a.Username, &a.Credential, &a.DisplayName, &a.Email, &a.Plan, &a.ExpiresOn,
			&a.MaxSessions, &a.ActiveSessions, &a.Active, &a.EmailVerified,
			&a.VerifiedAt, &a.VerifiedBy, &a.VerifyNotes, &a.CreatedAt, &a.LastLoginAt, &a.LoginCount,
		); err != nil {
			return nil, err
		}
		out[a.Username] = &a
	}
	return out, rows.Err()
}

const upsertAccountQ = `
INSERT INTO accounts (` + accountColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (username) DO UPDATE SET
credential = EXCLUDED.credential,
display_name = EXCLUDED.display_name,
email = EXCLUDED.email,
plan = EXCLUDED.plan,
expires_on = EXCLUDED.expires_on,
max_sessions = EXCLUDED.max_sessions,
active_sessions = EXCLUDED.active_sessions,
active = EXCLUDED.active,
email_verified = EXCLUDED.email_verified,
verified_at = EXCLUDED.verified_at,
verified_by = EXCLUDED.verified_by,
verify_notes = EXCLUDED.verify_notes,
created_at = EXCLUDED.created_at,
last_login_at = EXCLUDED.last_login_at,
login_count = EXCLUDED.login_count`

// UpsertAccounts writes every given account, replacing existing rows.
func (r *RecordRepo) UpsertAccounts(ctx context.Context, accounts map[string]*model.Account) error {
	for _, a := range accounts {
		_, err := r.db.Pool.Exec(ctx, upsertAccountQ,
			a.Username, a.Credential, a.DisplayName, a.Email, a.Plan, a.ExpiresOn,
			a.MaxSessions, a.ActiveSessions, a.Active, a.EmailVerified,
			a.VerifiedAt, a.VerifiedBy, a.VerifyNotes, a.CreatedAt, a.LastLoginAt, a.LoginCount,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteAccount removes one account row.
func (r *RecordRepo) DeleteAccount(ctx context.Context, username string) error {
	const q = `DELETE FROM accounts WHERE username = $1`
	tag, err := r.db.Pool.Exec(ctx, q, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// LoadAuditLog reads the audit document.
func (r *RecordRepo) LoadAuditLog(ctx context.Context) (*model.AuditLog, error) {
	const q = `SELECT payload FROM audit_log WHERE id = 1`
	var payload []byte
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&payload); err != nil {
		// Only a missing row means "never written"; anything else must
		// surface so the caller does not re-initialize over real data.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	var log model.AuditLog
	if err := json.Unmarshal(payload, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

// UpsertAuditLog replaces the audit document.
func (r *RecordRepo) UpsertAuditLog(ctx context.Context, log *model.AuditLog) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO audit_log (id, payload) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`
	_, err = r.db.Pool.Exec(ctx, q, payload)
	return err
}
