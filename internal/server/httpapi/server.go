// Package httpapi exposes the dashboard JSON API over the account store.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/signaldesk/backend/internal/model"
	"github.com/signaldesk/backend/internal/store"
)

// Server wires the account store into HTTP handlers.
type Server struct {
	store    *store.AccountStore
	log      *zap.Logger
	signKey  []byte
	tokenTTL time.Duration
}

// New constructs a server with injected dependencies.
func New(st *store.AccountStore, log *zap.Logger, signKey []byte, tokenTTL time.Duration) *Server {
	return &Server{store: st, log: log, signKey: signKey, tokenTTL: tokenTTL}
}

// Routes returns the API mux. CORS and the logging/recover middleware are
// layered on by the caller.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/plans", s.listPlans)
	mux.HandleFunc("POST /api/register", s.register)
	mux.HandleFunc("POST /api/login", s.login)
	mux.Handle("POST /api/logout", s.withUser(s.logout))
	mux.Handle("GET /api/account", s.withUser(s.ownAccount))
	mux.Handle("PUT /api/account/password", s.withUser(s.changeOwnPassword))

	mux.Handle("GET /api/admin/accounts", s.withAdmin(s.adminListAccounts))
	mux.Handle("POST /api/admin/accounts", s.withAdmin(s.adminCreateAccount))
	mux.Handle("PUT /api/admin/accounts/{username}/plan", s.withAdmin(s.adminChangePlan))
	mux.Handle("PUT /api/admin/accounts/{username}/password", s.withAdmin(s.adminResetPassword))
	mux.Handle("PUT /api/admin/accounts/{username}/active", s.withAdmin(s.adminSetActive))
	mux.Handle("POST /api/admin/accounts/{username}/verify", s.withAdmin(s.adminVerifyEmail))
	mux.Handle("DELETE /api/admin/accounts/{username}/verify", s.withAdmin(s.adminRevokeVerification))
	mux.Handle("DELETE /api/admin/accounts/{username}", s.withAdmin(s.adminDeleteAccount))
	mux.Handle("POST /api/admin/accounts/purge", s.withAdmin(s.adminBulkDelete))
	mux.Handle("POST /api/admin/maintenance/session-sweep", s.withAdmin(s.adminSessionSweep))
	mux.Handle("GET /api/admin/audit", s.withAdmin(s.adminAudit))

	return mux
}

type ctxKey string

const sessionKey ctxKey = "signaldesk.session"

type session struct {
	Username string
	Plan     string
}

func sessionFrom(ctx context.Context) (session, bool) {
	v, ok := ctx.Value(sessionKey).(session)
	return v, ok
}

// withUser requires a valid bearer token and stores the session in context.
func (s *Server) withUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, plan, err := bearerSession(s.signKey, r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("authentication required"))
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, session{Username: username, Plan: plan})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withAdmin additionally requires the admin plan claim.
func (s *Server) withAdmin(next http.HandlerFunc) http.Handler {
	return s.withUser(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := sessionFrom(r.Context())
		if sess.Plan != string(model.PlanAdmin) {
			writeJSON(w, http.StatusForbidden, errorBody("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
