// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/signaldesk/backend/internal/model"
)

// RecordRepository is the durable key-value collaborator behind the account
// store: a table of account records keyed by username plus one audit-log
// document. The store treats it as replace-whole storage and never assumes
// anything about the backend.
type RecordRepository interface {
	// LoadAllAccounts returns every stored account keyed by username.
	LoadAllAccounts(ctx context.Context) (map[string]*model.Account, error)
	// UpsertAccounts writes the given accounts, replacing existing records.
	UpsertAccounts(ctx context.Context, accounts map[string]*model.Account) error
	// DeleteAccount removes one account; errs.ErrNotFound if absent.
	DeleteAccount(ctx context.Context, username string) error
	// LoadAuditLog returns the audit document; errs.ErrNotFound if never written.
	LoadAuditLog(ctx context.Context) (*model.AuditLog, error)
	// UpsertAuditLog replaces the audit document.
	UpsertAuditLog(ctx context.Context, log *model.AuditLog) error
}
