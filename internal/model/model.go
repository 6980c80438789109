// Package model defines domain entities used by the account store and repositories.
package model

import "time"

// Plan is a named subscription tier.
type Plan string

// Known plans. PlanAdmin is a sentinel for the single administrative account.
const (
	PlanTrial          Plan = "trial"
	PlanPremium        Plan = "premium"
	PlanPremium3Month  Plan = "premium_3month"
	PlanPremium6Month  Plan = "premium_6month"
	PlanPremium12Month Plan = "premium_12month"
	PlanAdmin          Plan = "admin"
)

// PlanSpec bundles the entitlements of one plan.
type PlanSpec struct {
	DurationDays  int `json:"duration_days"`
	MaxSessions   int `json:"max_sessions"`
	MaxStrategies int `json:"max_strategies"`
}

// AdminMaxSessions is the session cap applied to the admin sentinel plan.
const AdminMaxSessions = 10

// adminExpiry is the far-future expiry date used by the admin plan.
var adminExpiry = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)

var planSpecs = map[Plan]PlanSpec{
	PlanTrial:          {DurationDays: 7, MaxSessions: 1, MaxStrategies: 1},
	PlanPremium:        {DurationDays: 30, MaxSessions: 2, MaxStrategies: 3},
	PlanPremium3Month:  {DurationDays: 90, MaxSessions: 2, MaxStrategies: 3},
	PlanPremium6Month:  {DurationDays: 180, MaxSessions: 3, MaxStrategies: 5},
	PlanPremium12Month: {DurationDays: 365, MaxSessions: 3, MaxStrategies: 5},
}

// PlanNames lists the subscriber-facing plans in display order.
func PlanNames() []Plan {
	return []Plan{PlanTrial, PlanPremium, PlanPremium3Month, PlanPremium6Month, PlanPremium12Month}
}

// Valid reports whether p is a known plan or the admin sentinel.
func (p Plan) Valid() bool {
	if p == PlanAdmin {
		return true
	}
	_, ok := planSpecs[p]
	return ok
}

// Spec returns the entitlements for p. The admin sentinel carries no
// duration; its spec holds only the fixed session cap.
func (p Plan) Spec() (PlanSpec, bool) {
	if p == PlanAdmin {
		return PlanSpec{MaxSessions: AdminMaxSessions}, true
	}
	s, ok := planSpecs[p]
	return s, ok
}

// ExpiryFrom computes the expiry date for an account placed on p at now.
func (p Plan) ExpiryFrom(now time.Time) time.Time {
	if p == PlanAdmin {
		return adminExpiry
	}
	s := planSpecs[p]
	return now.AddDate(0, 0, s.DurationDays)
}

// Account is one registered dashboard user.
type Account struct {
	Username       string     `json:"username"`
	Credential     string     `json:"credential"` // argon2id encoded, or legacy hex digest pending migration
	DisplayName    string     `json:"display_name"`
	Email          string     `json:"email"`
	Plan           Plan       `json:"plan"`
	ExpiresOn      time.Time  `json:"expires_on"`
	MaxSessions    int        `json:"max_sessions"`
	ActiveSessions int        `json:"active_sessions"`
	Active         bool       `json:"active"`
	EmailVerified  bool       `json:"email_verified"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	VerifiedBy     string     `json:"verified_by,omitempty"`
	VerifyNotes    string     `json:"verify_notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	LoginCount     int        `json:"login_count"`
}

// Expired reports whether the subscription ran out before now.
func (a *Account) Expired(now time.Time) bool {
	return a.ExpiresOn.Before(now)
}

// Clone returns a copy safe to hand outside the store.
func (a *Account) Clone() *Account {
	c := *a
	if a.VerifiedAt != nil {
		t := *a.VerifiedAt
		c.VerifiedAt = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// AuditEntry is an immutable record of one mutating event. Success is
// meaningful only for login entries.
type AuditEntry struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`
	Detail   string    `json:"detail,omitempty"`
	Success  bool      `json:"success,omitempty"`
}

// AuditLog groups audit entries by event kind. It is persisted as one
// document after every append.
type AuditLog struct {
	Registrations   []AuditEntry `json:"registrations"`
	Logins          []AuditEntry `json:"logins"`
	PlanChanges     []AuditEntry `json:"plan_changes"`
	PasswordChanges []AuditEntry `json:"password_changes"`
	Verifications   []AuditEntry `json:"verifications"`
	StatusChanges   []AuditEntry `json:"status_changes"`
	Deletions       []AuditEntry `json:"deletions"`
}

// NewAuditLog returns an audit log with empty named collections.
func NewAuditLog() *AuditLog {
	return &AuditLog{
		Registrations:   []AuditEntry{},
		Logins:          []AuditEntry{},
		PlanChanges:     []AuditEntry{},
		PasswordChanges: []AuditEntry{},
		Verifications:   []AuditEntry{},
		StatusChanges:   []AuditEntry{},
		Deletions:       []AuditEntry{},
	}
}

// Clone returns a copy whose slices are detached from the original.
func (l *AuditLog) Clone() *AuditLog {
	cp := func(in []AuditEntry) []AuditEntry {
		out := make([]AuditEntry, len(in))
		copy(out, in)
		return out
	}
	return &AuditLog{
		Registrations:   cp(l.Registrations),
		Logins:          cp(l.Logins),
		PlanChanges:     cp(l.PlanChanges),
		PasswordChanges: cp(l.PasswordChanges),
		Verifications:   cp(l.Verifications),
		StatusChanges:   cp(l.StatusChanges),
		Deletions:       cp(l.Deletions),
	}
}
