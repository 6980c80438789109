package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signaldesk/backend/internal/errs"
	"github.com/signaldesk/backend/internal/model"
)

// accountResponse is the account view handed to the dashboard. It never
// carries the credential.
type accountResponse struct {
	Username       string     `json:"username"`
	DisplayName    string     `json:"display_name"`
	Email          string     `json:"email"`
	Plan           model.Plan `json:"plan"`
	ExpiresOn      time.Time  `json:"expires_on"`
	MaxSessions    int        `json:"max_sessions"`
	ActiveSessions int        `json:"active_sessions"`
	Active         bool       `json:"active"`
	EmailVerified  bool       `json:"email_verified"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	VerifiedBy     string     `json:"verified_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	LoginCount     int        `json:"login_count"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		Username:       a.Username,
		DisplayName:    a.DisplayName,
		Email:          a.Email,
		Plan:           a.Plan,
		ExpiresOn:      a.ExpiresOn,
		MaxSessions:    a.MaxSessions,
		ActiveSessions: a.ActiveSessions,
		Active:         a.Active,
		EmailVerified:  a.EmailVerified,
		VerifiedAt:     a.VerifiedAt,
		VerifiedBy:     a.VerifiedBy,
		CreatedAt:      a.CreatedAt,
		LastLoginAt:    a.LastLoginAt,
		LoginCount:     a.LoginCount,
	}
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type adminCreateRequest struct {
	registerRequest
	Plan model.Plan `json:"plan"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Message   string          `json:"message"`
	Account   accountResponse `json:"account"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) listPlans(w http.ResponseWriter, _ *http.Request) {
	type planView struct {
		Name model.Plan     `json:"name"`
		Spec model.PlanSpec `json:"spec"`
	}
	var out []planView
	for _, p := range model.PlanNames() {
		spec, _ := p.Spec()
		out = append(out, planView{Name: p, Spec: spec})
	}
	writeJSON(w, http.StatusOK, out)
}

// register is the public self-signup endpoint; it always opens a trial.
// Paid plans are assigned by an admin afterwards.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.store.Register(r.Context(), req.Username, req.Password, req.DisplayName, req.Email, model.PlanTrial)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acc, msg, err := s.store.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		authFailures.WithLabelValues("web").Inc()
		s.writeError(w, err)
		return
	}
	authSuccesses.WithLabelValues("web").Inc()

	token, exp, err := issueToken(s.signKey, acc.Username, acc.Plan, s.tokenTTL)
	if err != nil {
		s.log.Error("issuing session token failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: exp,
		Message:   msg,
		Account:   toAccountResponse(acc),
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	msg := s.store.Logout(r.Context(), sess.Username)
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) ownAccount(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	acc, err := s.store.Get(sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

type passwordRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) changeOwnPassword(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.store.ChangePassword(r.Context(), sess.Username, req.NewPassword, sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// --- Admin ---

func (s *Server) adminListAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.store.List()
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) adminCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req adminCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.store.Register(r.Context(), req.Username, req.Password, req.DisplayName, req.Email, req.Plan)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

type planChangeRequest struct {
	Plan model.Plan `json:"plan"`
}

func (s *Server) adminChangePlan(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	var req planChangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.store.ChangePlan(r.Context(), r.PathValue("username"), req.Plan, sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) adminResetPassword(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.store.ChangePassword(r.Context(), r.PathValue("username"), req.NewPassword, sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (s *Server) adminSetActive(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	var req activeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.store.SetActive(r.Context(), r.PathValue("username"), req.Active, sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) adminVerifyEmail(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	var req notesRequest
	if !decodeOptionalBody(r, &req) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	msg, err := s.store.VerifyEmail(r.Context(), r.PathValue("username"), sess.Username, req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) adminRevokeVerification(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	var req notesRequest
	if !decodeOptionalBody(r, &req) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	msg, err := s.store.RevokeEmailVerification(r.Context(), r.PathValue("username"), sess.Username, req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) adminDeleteAccount(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	msg, err := s.store.Delete(r.Context(), r.PathValue("username"), sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

type purgeRequest struct {
	Usernames []string `json:"usernames"`
}

func (s *Server) adminBulkDelete(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	var req purgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	results := s.store.BulkDeleteInactive(r.Context(), req.Usernames, sess.Username)
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) adminSessionSweep(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	msg, err := s.store.SessionMaintenanceSweep(r.Context(), sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) adminAudit(w http.ResponseWriter, _ *http.Request) {
	log := s.store.Audit()
	// Newest first for the dashboard.
	for _, entries := range [][]model.AuditEntry{
		log.Registrations, log.Logins, log.PlanChanges,
		log.PasswordChanges, log.Verifications, log.StatusChanges, log.Deletions,
	} {
		reverse(entries)
	}
	writeJSON(w, http.StatusOK, log)
}

// --- helpers ---

func reverse(entries []model.AuditEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

func bearerSession(signKey []byte, r *http.Request) (username, plan string, err error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", "", errors.New("no bearer token")
	}
	return parseToken(signKey, strings.TrimSpace(v[7:]))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return false
	}
	return true
}

// decodeOptionalBody tolerates an empty body but rejects malformed JSON.
func decodeOptionalBody(r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	return err == nil || errors.Is(err, io.EOF)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrSubscriptionExpired):
		return http.StatusPaymentRequired
	case errors.Is(err, errs.ErrAccountDisabled), errors.Is(err, errs.ErrProtectedAccount):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
