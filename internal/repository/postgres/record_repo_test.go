package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/signaldesk/backend/internal/errs"
	"github.com/signaldesk/backend/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var accountCols = []string{
	"username", "credential", "display_name", "email", "plan", "expires_on",
	"max_sessions", "active_sessions", "active", "email_verified",
	"verified_at", "verified_by", "verify_notes", "created_at", "last_login_at", "login_count",
}

func TestRecordRepo_LoadAllAccounts(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT username, credential`).
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow("alice", "$argon2id$x", "Alice", "alice@example.com", model.PlanTrial, now.AddDate(0, 0, 7),
				1, 0, true, false,
				nil, "", "", now, nil, 0).
			AddRow("bob", "$argon2id$y", "Bob", "bob@example.com", model.PlanPremium, now.AddDate(0, 0, 30),
				2, 1, true, true,
				&now, "admin", "checked", now, &now, 3))

	accounts, err := r.LoadAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, model.PlanTrial, accounts["alice"].Plan)
	require.Equal(t, 3, accounts["bob"].LoginCount)
	require.NotNil(t, accounts["bob"].VerifiedAt)
	require.Nil(t, accounts["alice"].LastLoginAt)
}

func TestRecordRepo_UpsertAccounts(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	a := &model.Account{
		Username:    "alice",
		Credential:  "$argon2id$x",
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Plan:        model.PlanTrial,
		ExpiresOn:   now.AddDate(0, 0, 7),
		MaxSessions: 1,
		Active:      true,
		CreatedAt:   now,
	}

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(a.Username, a.Credential, a.DisplayName, a.Email, a.Plan, a.ExpiresOn,
			a.MaxSessions, a.ActiveSessions, a.Active, a.EmailVerified,
			a.VerifiedAt, a.VerifiedBy, a.VerifyNotes, a.CreatedAt, a.LastLoginAt, a.LoginCount).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.UpsertAccounts(ctx, map[string]*model.Account{"alice": a}))
}

func TestRecordRepo_DeleteAccount(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM accounts WHERE username = \$1`).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.DeleteAccount(ctx, "alice"))

	mock.ExpectExec(`DELETE FROM accounts WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.DeleteAccount(ctx, "ghost"), errs.ErrNotFound)
}

func TestRecordRepo_AuditLogRoundTrip(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	ctx := context.Background()

	log := model.NewAuditLog()
	log.Registrations = append(log.Registrations, model.AuditEntry{
		ID: "e1", Username: "alice", At: time.Now().UTC(), Detail: "plan=trial",
	})
	payload, err := json.Marshal(log)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.UpsertAuditLog(ctx, log))

	mock.ExpectQuery(`SELECT payload FROM audit_log WHERE id = 1`).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))
	got, err := r.LoadAuditLog(ctx)
	require.NoError(t, err)
	require.Len(t, got.Registrations, 1)
	require.Equal(t, "alice", got.Registrations[0].Username)

	mock.ExpectQuery(`SELECT payload FROM audit_log WHERE id = 1`).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.LoadAuditLog(ctx)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

// A transient backend failure must not read as "never written": the caller
// re-initializes the audit document on ErrNotFound, which would overwrite
// the real log.
func TestRecordRepo_LoadAuditLogBackendError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	reset := errors.New("connection reset by peer")
	mock.ExpectQuery(`SELECT payload FROM audit_log WHERE id = 1`).
		WillReturnError(reset)
	_, err := r.LoadAuditLog(context.Background())
	require.ErrorIs(t, err, reset)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}
