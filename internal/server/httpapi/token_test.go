package httpapi

import (
	"testing"
	"time"

	"github.com/signaldesk/backend/internal/model"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	key := []byte("k1")

	tok, exp, err := issueToken(key, "alice", model.PlanPremium, time.Hour)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry in the past: %v", exp)
	}

	username, plan, err := parseToken(key, tok)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if username != "alice" || plan != string(model.PlanPremium) {
		t.Fatalf("bad session: %s %s", username, plan)
	}
}

func TestTokenWrongKey(t *testing.T) {
	t.Parallel()

	tok, _, err := issueToken([]byte("k1"), "alice", model.PlanTrial, time.Hour)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, _, err := parseToken([]byte("k2"), tok); err == nil {
		t.Fatal("token verified under the wrong key")
	}
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()
	key := []byte("k1")

	// The validator allows a short leeway, so back-date well past it.
	tok, _, err := issueToken(key, "alice", model.PlanTrial, -5*time.Minute)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, _, err := parseToken(key, tok); err == nil {
		t.Fatal("expired token accepted")
	}
}
