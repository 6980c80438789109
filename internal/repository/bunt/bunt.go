// Package bunt implements the record repository over a single-file BuntDB
// store. It is the default backend for small single-host deployments and
// the zero-setup backend for tests.
package bunt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/buntdb"

	"github.com/signaldesk/backend/internal/errs"
	"github.com/signaldesk/backend/internal/model"
	"github.com/signaldesk/backend/internal/repository"
)

const (
	accountPrefix = "account:"
	auditKey      = "audit:log"
)

// Repo stores JSON-marshalled records under "account:<username>" keys plus
// one "audit:log" document.
type Repo struct {
	db *buntdb.DB
}

var _ repository.RecordRepository = (*Repo)(nil)

// Open opens (or creates) the store at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Repo, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases the underlying file.
func (r *Repo) Close() error { return r.db.Close() }

// LoadAllAccounts reads every account record.
func (r *Repo) LoadAllAccounts(_ context.Context) (map[string]*model.Account, error) {
	out := make(map[string]*model.Account)
	err := r.db.View(func(tx *buntdb.Tx) error {
		var inner error
		iter := tx.Ascend("", func(key, value string) bool {
			if !strings.HasPrefix(key, accountPrefix) {
				return true
			}
			var a model.Account
			if err := json.Unmarshal([]byte(value), &a); err != nil {
				inner = err
				return false
			}
			out[a.Username] = &a
			return true
		})
		if iter != nil {
			return iter
		}
		return inner
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertAccounts writes every given account record.
func (r *Repo) UpsertAccounts(_ context.Context, accounts map[string]*model.Account) error {
	return r.db.Update(func(tx *buntdb.Tx) error {
		for username, a := range accounts {
			bs, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set(accountPrefix+username, string(bs), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAccount removes one account record.
func (r *Repo) DeleteAccount(_ context.Context, username string) error {
	err := r.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(accountPrefix + username)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return errs.ErrNotFound
	}
	return err
}

// LoadAuditLog reads the audit document.
func (r *Repo) LoadAuditLog(_ context.Context) (*model.AuditLog, error) {
	var log model.AuditLog
	err := r.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(auditKey)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(v), &log)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// UpsertAuditLog replaces the audit document.
func (r *Repo) UpsertAuditLog(_ context.Context, log *model.AuditLog) error {
	bs, err := json.Marshal(log)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(auditKey, string(bs), nil)
		return err
	})
}
