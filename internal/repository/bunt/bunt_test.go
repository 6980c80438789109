package bunt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/signaldesk/backend/internal/errs"
	"github.com/signaldesk/backend/internal/model"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepo_AccountsRoundTrip(t *testing.T) {
	t.Parallel()
	r := openTestRepo(t)
	ctx := context.Background()

	accounts, err := r.LoadAllAccounts(ctx)
	if err != nil {
		t.Fatalf("LoadAllAccounts on empty store: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("want empty store, got %d accounts", len(accounts))
	}

	now := time.Now().UTC().Truncate(time.Second)
	in := map[string]*model.Account{
		"alice": {
			Username:    "alice",
			Credential:  "$argon2id$x",
			DisplayName: "Alice",
			Email:       "alice@example.com",
			Plan:        model.PlanTrial,
			ExpiresOn:   now.AddDate(0, 0, 7),
			MaxSessions: 1,
			Active:      true,
			CreatedAt:   now,
		},
		"bob": {
			Username:   "bob",
			Credential: "$argon2id$y",
			Plan:       model.PlanPremium,
			ExpiresOn:  now.AddDate(0, 0, 30),
			Active:     true,
			CreatedAt:  now,
			LoginCount: 2,
		},
	}
	if err := r.UpsertAccounts(ctx, in); err != nil {
		t.Fatalf("UpsertAccounts: %v", err)
	}

	got, err := r.LoadAllAccounts(ctx)
	if err != nil {
		t.Fatalf("LoadAllAccounts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 accounts, got %d", len(got))
	}
	if got["alice"].Email != "alice@example.com" || !got["alice"].ExpiresOn.Equal(in["alice"].ExpiresOn) {
		t.Fatalf("alice record mangled: %+v", got["alice"])
	}
	if got["bob"].LoginCount != 2 {
		t.Fatalf("bob record mangled: %+v", got["bob"])
	}

	// Upsert replaces.
	in["bob"].LoginCount = 3
	if err := r.UpsertAccounts(ctx, map[string]*model.Account{"bob": in["bob"]}); err != nil {
		t.Fatalf("UpsertAccounts: %v", err)
	}
	got, _ = r.LoadAllAccounts(ctx)
	if got["bob"].LoginCount != 3 {
		t.Fatalf("upsert did not replace: %+v", got["bob"])
	}
}

func TestRepo_DeleteAccount(t *testing.T) {
	t.Parallel()
	r := openTestRepo(t)
	ctx := context.Background()

	if err := r.UpsertAccounts(ctx, map[string]*model.Account{
		"alice": {Username: "alice", Plan: model.PlanTrial},
	}); err != nil {
		t.Fatalf("UpsertAccounts: %v", err)
	}
	if err := r.DeleteAccount(ctx, "alice"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := r.DeleteAccount(ctx, "alice"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound on second delete, got %v", err)
	}
	got, err := r.LoadAllAccounts(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("account survived delete: %v %v", got, err)
	}
}

func TestRepo_AuditLogRoundTrip(t *testing.T) {
	t.Parallel()
	r := openTestRepo(t)
	ctx := context.Background()

	if _, err := r.LoadAuditLog(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound before first write, got %v", err)
	}

	log := model.NewAuditLog()
	log.Logins = append(log.Logins, model.AuditEntry{
		ID: "e1", Username: "alice", At: time.Now().UTC(), Success: true,
	})
	if err := r.UpsertAuditLog(ctx, log); err != nil {
		t.Fatalf("UpsertAuditLog: %v", err)
	}

	got, err := r.LoadAuditLog(ctx)
	if err != nil {
		t.Fatalf("LoadAuditLog: %v", err)
	}
	if len(got.Logins) != 1 || !got.Logins[0].Success {
		t.Fatalf("audit log mangled: %+v", got)
	}
	if got.Registrations == nil {
		t.Fatalf("empty collections should round-trip as empty, not nil")
	}
}

func TestRepo_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "signaldesk.db")
	ctx := context.Background()

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.UpsertAccounts(ctx, map[string]*model.Account{
		"alice": {Username: "alice", Plan: model.PlanTrial},
	}); err != nil {
		t.Fatalf("UpsertAccounts: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()
	got, err := r2.LoadAllAccounts(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("records lost across reopen: %v %v", got, err)
	}
}
