// Package store contains the account store: the single authority for account
// existence, credential verification, plan state, and the audit trail.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/signaldesk/backend/internal/crypto"
	"github.com/signaldesk/backend/internal/errs"
	"github.com/signaldesk/backend/internal/model"
	"github.com/signaldesk/backend/internal/repository"
)

// AdminUsername names the single protected administrative account.
const AdminUsername = "admin"

// DefaultAdminPassword is the bootstrap credential for a fresh deployment.
// Change it right after the first login.
const DefaultAdminPassword = "signaldesk!admin"

const (
	minPasswordLen  = 8
	maxAuditEntries = 1000
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[A-Za-z]{2,}$`)
)

// AccountStore owns the in-memory account table and audit log for the life
// of the process; the record repository is the durable owner across
// restarts. Every successful mutation is persisted before it is reported,
// and rolled back in memory when persistence fails. One mutex serializes
// operations; the model is a single logical writer.
type AccountStore struct {
	mu       sync.Mutex
	repo     repository.RecordRepository
	log      *zap.Logger
	accounts map[string]*model.Account
	audit    *model.AuditLog
}

// New loads accounts and the audit log from the repository. A failed load
// degrades to an empty in-memory table rather than an error; a missing
// admin account is recreated with the default credential either way.
func New(ctx context.Context, repo repository.RecordRepository, logger *zap.Logger) *AccountStore {
	s := &AccountStore{
		repo:     repo,
		log:      logger,
		accounts: make(map[string]*model.Account),
		audit:    model.NewAuditLog(),
	}

	accounts, err := repo.LoadAllAccounts(ctx)
	if err != nil {
		logger.Warn("loading accounts failed, starting with an empty table", zap.Error(err))
	} else if accounts != nil {
		s.accounts = accounts
	}

	if _, ok := s.accounts[AdminUsername]; !ok {
		s.bootstrapAdmin(ctx)
	}

	audit, err := repo.LoadAuditLog(ctx)
	switch {
	case err == nil:
		s.audit = audit
	case errors.Is(err, errs.ErrNotFound):
		if perr := s.persistAudit(ctx); perr != nil {
			logger.Warn("could not initialize audit log", zap.Error(perr))
		}
	default:
		logger.Warn("loading audit log failed, starting empty", zap.Error(err))
	}

	return s
}

func (s *AccountStore) bootstrapAdmin(ctx context.Context) {
	cred, err := crypto.HashPassword(DefaultAdminPassword)
	if err != nil {
		s.log.Error("hashing default admin credential failed", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	s.accounts[AdminUsername] = &model.Account{
		Username:      AdminUsername,
		Credential:    cred,
		DisplayName:   "Administrator",
		Email:         "admin@signaldesk.local",
		Plan:          model.PlanAdmin,
		ExpiresOn:     model.PlanAdmin.ExpiryFrom(now),
		MaxSessions:   model.AdminMaxSessions,
		Active:        true,
		EmailVerified: true,
		CreatedAt:     now,
	}
	s.log.Warn("created default admin account, change its password",
		zap.String("username", AdminUsername))
	if err := s.persistAccounts(ctx); err != nil {
		s.log.Warn("could not persist default admin account", zap.Error(err))
	}
}

// Register creates one account on the named plan.
func (s *AccountStore) Register(ctx context.Context, username, password, displayName, email string, plan model.Plan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !usernameRe.MatchString(username) {
		return "", fmt.Errorf("%w: username must be 3-20 letters, digits or underscores", errs.ErrValidation)
	}
	if _, exists := s.accounts[username]; exists {
		return "", fmt.Errorf("%w: username %q is already taken", errs.ErrConflict, username)
	}
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", errs.ErrValidation, minPasswordLen)
	}
	if !emailRe.MatchString(email) {
		return "", fmt.Errorf("%w: malformed email address", errs.ErrValidation)
	}
	if plan == model.PlanAdmin || !plan.Valid() {
		return "", fmt.Errorf("%w: unknown plan %q", errs.ErrValidation, plan)
	}

	cred, err := crypto.HashPassword(password)
	if err != nil {
		s.log.Error("hashing credential failed", zap.Error(err))
		return "", errs.ErrPersistence
	}

	now := time.Now().UTC()
	spec, _ := plan.Spec()
	s.accounts[username] = &model.Account{
		Username:    username,
		Credential:  cred,
		DisplayName: displayName,
		Email:       email,
		Plan:        plan,
		ExpiresOn:   plan.ExpiryFrom(now),
		MaxSessions: spec.MaxSessions,
		Active:      true,
		CreatedAt:   now,
	}
	s.audit.Registrations = appendEntry(s.audit.Registrations, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		At:       now,
		Detail:   fmt.Sprintf("plan=%s", plan),
	})

	if err := s.persistAccounts(ctx); err != nil {
		delete(s.accounts, username)
		s.audit.Registrations = s.audit.Registrations[:len(s.audit.Registrations)-1]
		return "", err
	}
	s.persistAuditBestEffort(ctx)

	return fmt.Sprintf("account %q registered on the %s plan", username, plan), nil
}

// Authenticate validates credentials and plan validity. Every attempt leaves
// a persisted login entry, failed by default and flipped only on full
// success. Unknown usernames and wrong passwords report identically.
func (s *AccountStore) Authenticate(ctx context.Context, username, password string) (*model.Account, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.audit.Logins = appendEntry(s.audit.Logins, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		At:       now,
	})
	entry := &s.audit.Logins[len(s.audit.Logins)-1]
	defer s.persistAuditBestEffort(ctx)

	acc, ok := s.accounts[username]
	if !ok {
		entry.Detail = "unknown username"
		return nil, "", errs.ErrInvalidCredentials
	}
	if !acc.Active {
		entry.Detail = "account disabled"
		return nil, "", errs.ErrAccountDisabled
	}

	prevCred := acc.Credential
	valid := crypto.VerifyPassword(password, acc.Credential)
	if !valid && crypto.LooksLegacy(acc.Credential) && crypto.VerifyLegacy(password, acc.Credential) {
		// One-time transparent migration off the legacy scheme.
		if upgraded, err := crypto.HashPassword(password); err == nil {
			acc.Credential = upgraded
			entry.Detail = "legacy credential upgraded"
		}
		valid = true
	}
	if !valid {
		entry.Detail = "wrong password"
		return nil, "", errs.ErrInvalidCredentials
	}

	// Expiry is checked only after the credential succeeded, so a wrong
	// password never learns the subscription state.
	if acc.Expired(now) {
		// The attempt fails here, so an in-place legacy upgrade must not
		// stick: the table would diverge from the repository.
		acc.Credential = prevCred
		entry.Detail = "subscription expired"
		return nil, "", errs.ErrSubscriptionExpired
	}

	prevLastLogin := acc.LastLoginAt
	acc.LoginCount++
	acc.ActiveSessions++
	acc.LastLoginAt = &now
	entry.Success = true

	if err := s.persistAccounts(ctx); err != nil {
		acc.LoginCount--
		acc.ActiveSessions--
		acc.LastLoginAt = prevLastLogin
		acc.Credential = prevCred
		entry.Success = false
		entry.Detail = "persistence failure"
		return nil, "", err
	}

	return acc.Clone(), fmt.Sprintf("welcome back, %s", acc.DisplayName), nil
}

// ChangePlan moves an account to newPlan, recomputing its expiry date and
// session cap. The admin account is protected.
func (s *AccountStore) ChangePlan(ctx context.Context, username string, newPlan model.Plan, actor string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == AdminUsername {
		return "", errs.ErrProtectedAccount
	}
	acc, ok := s.accounts[username]
	if !ok {
		return "", errs.ErrNotFound
	}
	if !newPlan.Valid() {
		return "", fmt.Errorf("%w: unknown plan %q", errs.ErrValidation, newPlan)
	}

	now := time.Now().UTC()
	prevPlan, prevExpiry, prevMax := acc.Plan, acc.ExpiresOn, acc.MaxSessions
	spec, _ := newPlan.Spec()
	acc.Plan = newPlan
	acc.ExpiresOn = newPlan.ExpiryFrom(now)
	acc.MaxSessions = spec.MaxSessions

	s.audit.PlanChanges = appendEntry(s.audit.PlanChanges, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		Actor:    actor,
		At:       now,
		Detail:   fmt.Sprintf("%s -> %s", prevPlan, newPlan),
	})

	if err := s.persistAccounts(ctx); err != nil {
		acc.Plan, acc.ExpiresOn, acc.MaxSessions = prevPlan, prevExpiry, prevMax
		s.audit.PlanChanges = s.audit.PlanChanges[:len(s.audit.PlanChanges)-1]
		return "", err
	}
	s.persistAuditBestEffort(ctx)

	return fmt.Sprintf("account %q moved to the %s plan", username, newPlan), nil
}

// ChangePassword rehashes the credential. A new password equal to the
// current one is rejected; the audit entry records whether the change was
// self-service or an admin reset.
func (s *AccountStore) ChangePassword(ctx context.Context, username, newPassword, actor string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[username]
	if !ok {
		return "", errs.ErrNotFound
	}
	if len(newPassword) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", errs.ErrValidation, minPasswordLen)
	}
	if crypto.VerifyPassword(newPassword, acc.Credential) ||
		(crypto.LooksLegacy(acc.Credential) && crypto.VerifyLegacy(newPassword, acc.Credential)) {
		return "", fmt.Errorf("%w: new password must differ from the current one", errs.ErrConflict)
	}

	cred, err := crypto.HashPassword(newPassword)
	if err != nil {
		s.log.Error("hashing credential failed", zap.Error(err))
		return "", errs.ErrPersistence
	}

	detail := "self-service"
	if actor != username {
		detail = "reset by " + actor
	}
	now := time.Now().UTC()
	prevCred := acc.Credential
	acc.Credential = cred
	s.audit.PasswordChanges = appendEntry(s.audit.PasswordChanges, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		Actor:    actor,
		At:       now,
		Detail:   detail,
	})

	if err := s.persistAccounts(ctx); err != nil {
		acc.Credential = prevCred
		s.audit.PasswordChanges = s.audit.PasswordChanges[:len(s.audit.PasswordChanges)-1]
		return "", err
	}
	s.persistAuditBestEffort(ctx)

	return fmt.Sprintf("password for %q changed", username), nil
}

// VerifyEmail marks an account's email as verified. Verifying an
// already-verified account fails rather than silently succeeding.
func (s *AccountStore) VerifyEmail(ctx context.Context, username, actor, notes string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == AdminUsername {
		return "", errs.ErrProtectedAccount
	}
	acc, ok := s.accounts[username]
	if !ok {
		return "", errs.ErrNotFound
	}
	if acc.EmailVerified {
		return "", fmt.Errorf("%w: email is already verified", errs.ErrConflict)
	}

	now := time.Now().UTC()
	acc.EmailVerified = true
	acc.VerifiedAt = &now
	acc.VerifiedBy = actor
	acc.VerifyNotes = notes
	s.audit.Verifications = appendEntry(s.audit.Verifications, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		Actor:    actor,
		At:       now,
		Detail:   "verified",
	})

	if err := s.persistAccounts(ctx); err != nil {
		acc.EmailVerified = false
		acc.VerifiedAt = nil
		acc.VerifiedBy = ""
		acc.VerifyNotes = ""
		s.audit.Verifications = s.audit.Verifications[:len(s.audit.Verifications)-1]
		return "", err
	}
	s.persistAuditBestEffort(ctx)

	return fmt.Sprintf("email for %q verified", username), nil
}

// RevokeEmailVerification reverts an account to unverified. Revoking an
// unverified account fails.
func (s *AccountStore) RevokeEmailVerification(ctx context.Context, username, actor, notes string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == AdminUsername {
		return "", errs.ErrProtectedAccount
	}
	acc, ok := s.accounts[username]
	if !ok {
		return "", errs.ErrNotFound
	}
	if !acc.EmailVerified {
		return "", fmt.Errorf("%w: email is not verified", errs.ErrConflict)
	}

	now := time.Now().UTC()
	prevAt, prevBy, prevNotes := acc.VerifiedAt, acc.VerifiedBy, acc.VerifyNotes
	acc.EmailVerified = false
	acc.VerifiedAt = nil
	acc.VerifiedBy = ""
	acc.VerifyNotes = ""
	s.audit.Verifications = appendEntry(s.audit.Verifications, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		Actor:    actor,
		At:       now,
		Detail:   "revoked: " + notes,
	})

	if err := s.persistAccounts(ctx); err != nil {
		acc.EmailVerified = true
		acc.VerifiedAt, acc.VerifiedBy, acc.VerifyNotes = prevAt, prevBy, prevNotes
		s.audit.Verifications = s.audit.Verifications[:len(s.audit.Verifications)-1]
		return "", err
	}
	s.persistAuditBestEffort(ctx)

	return fmt.Sprintf("email verification for %q revoked", username), nil
}

// SetActive toggles an account between active and disabled. A disabled
// account cannot authenticate regardless of credentials.
func (s *AccountStore) SetActive(ctx context.Context, username string, active bool, actor string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == AdminUsername {
		return "", errs.ErrProtectedAccount
	}
	acc, ok := s.accounts[username]
	if !ok {
		return "", errs.ErrNotFound
	}
	state := "disabled"
	if active {
		state = "active"
	}
	if acc.Active == active {
		return "", fmt.Errorf("%w: account is already %s", errs.ErrConflict, state)
	}

	now := time.Now().UTC()
	acc.Active = active
	s.audit.StatusChanges = appendEntry(s.audit.StatusChanges, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		Actor:    actor,
		At:       now,
		Detail:   state,
	})

	if err := s.persistAccounts(ctx); err != nil {
		acc.Active = !active
		s.audit.StatusChanges = s.audit.StatusChanges[:len(s.audit.StatusChanges)-1]
		return "", err
	}
	s.persistAuditBestEffort(ctx)

	return fmt.Sprintf("account %q is now %s", username, state), nil
}

// Delete removes an account from the table and the repository. Both the
// repository deletion and the table persistence must succeed before success
// is reported. The admin account cannot be deleted.
func (s *AccountStore) Delete(ctx context.Context, username, actor string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, username, actor)
}

func (s *AccountStore) deleteLocked(ctx context.Context, username, actor string) (string, error) {
	if username == AdminUsername {
		return "", errs.ErrProtectedAccount
	}
	acc, ok := s.accounts[username]
	if !ok {
		return "", errs.ErrNotFound
	}

	delete(s.accounts, username)
	if err := s.repo.DeleteAccount(ctx, username); err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.accounts[username] = acc
		s.log.Error("repository delete failed", zap.String("username", username), zap.Error(err))
		return "", errs.ErrPersistence
	}
	if err := s.persistAccounts(ctx); err != nil {
		s.accounts[username] = acc
		return "", err
	}

	// The entry records the removed account's plan and age, never its credential.
	s.audit.Deletions = appendEntry(s.audit.Deletions, model.AuditEntry{
		ID:       newEntryID(),
		Username: username,
		Actor:    actor,
		At:       time.Now().UTC(),
		Detail:   fmt.Sprintf("plan=%s created=%s", acc.Plan, acc.CreatedAt.Format("2006-01-02")),
	})
	s.persistAuditBestEffort(ctx)

	return fmt.Sprintf("account %q deleted", username), nil
}

// DeleteResult is the per-item outcome of a bulk deletion.
type DeleteResult struct {
	Username string `json:"username"`
	Deleted  bool   `json:"deleted"`
	Message  string `json:"message"`
}

// BulkDeleteInactive deletes the given accounts one by one, accumulating
// per-item outcomes. The admin account in the input list is reported as a
// per-item error, never a fatal abort.
func (s *AccountStore) BulkDeleteInactive(ctx context.Context, usernames []string, actor string) []DeleteResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]DeleteResult, 0, len(usernames))
	for _, username := range usernames {
		msg, err := s.deleteLocked(ctx, username, actor)
		if err != nil {
			results = append(results, DeleteResult{Username: username, Message: err.Error()})
			continue
		}
		results = append(results, DeleteResult{Username: username, Deleted: true, Message: msg})
	}
	return results
}

// Logout decrements the session counter with a floor of zero. Logging out
// an unknown or already-at-zero account is a silent no-op; the operation
// never fails loudly.
func (s *AccountStore) Logout(ctx context.Context, username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[username]
	if ok && acc.ActiveSessions > 0 {
		acc.ActiveSessions--
		if err := s.persistAccounts(ctx); err != nil {
			s.log.Warn("persisting logout failed", zap.String("username", username), zap.Error(err))
		}
	}
	return "logged out"
}

// SessionMaintenanceSweep resets every account's session counter to zero.
// It is a blunt, manually-triggered correction for sessions that were never
// cleanly logged out; there is no authoritative live-connection tracking.
func (s *AccountStore) SessionMaintenanceSweep(ctx context.Context, actor string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, acc := range s.accounts {
		if acc.ActiveSessions != 0 {
			acc.ActiveSessions = 0
			reset++
		}
	}
	if reset == 0 {
		return "no active sessions to reset", nil
	}
	if err := s.persistAccounts(ctx); err != nil {
		return "", err
	}
	s.log.Info("session maintenance sweep",
		zap.String("actor", actor), zap.Int("reset", reset))
	return fmt.Sprintf("reset active sessions on %d accounts", reset), nil
}

// Get returns a copy of one account.
func (s *AccountStore) Get(username string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return acc.Clone(), nil
}

// List returns copies of all accounts ordered by username.
func (s *AccountStore) List() []*model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Audit returns a detached copy of the audit log.
func (s *AccountStore) Audit() *model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.Clone()
}

func (s *AccountStore) persistAccounts(ctx context.Context) error {
	if err := s.repo.UpsertAccounts(ctx, s.accounts); err != nil {
		s.log.Error("persisting accounts failed", zap.Error(err))
		return errs.ErrPersistence
	}
	return nil
}

func (s *AccountStore) persistAudit(ctx context.Context) error {
	if err := s.repo.UpsertAuditLog(ctx, s.audit); err != nil {
		s.log.Error("persisting audit log failed", zap.Error(err))
		return errs.ErrPersistence
	}
	return nil
}

// persistAuditBestEffort is used after the account table was already saved:
// a failed audit write is logged, not surfaced.
func (s *AccountStore) persistAuditBestEffort(ctx context.Context) {
	_ = s.persistAudit(ctx)
}

func appendEntry(entries []model.AuditEntry, e model.AuditEntry) []model.AuditEntry {
	entries = append(entries, e)
	if len(entries) > maxAuditEntries {
		entries = append([]model.AuditEntry(nil), entries[len(entries)-maxAuditEntries:]...)
	}
	return entries
}

func newEntryID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}
