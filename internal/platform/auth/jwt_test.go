package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseActor(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")

	claims := jwt.MapClaims{
		"sub":  "5b1f4c2e-0000-4000-8000-000000000001",
		"role": RoleCustomer,
		"exp":  time.Now().Add(time.Hour).Unix(),
		"iat":  time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	actor, err := verifier.ParseActor(signed)
	if err != nil {
		t.Fatalf("parse actor: %v", err)
	}
	if actor.ID != "5b1f4c2e-0000-4000-8000-000000000001" || actor.Role != RoleCustomer {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseActorRejectsBadTokens(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	sign := func(secret string, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()
	cases := map[string]string{
		"wrong secret":  sign("other", jwt.MapClaims{"sub": "u", "role": RoleTeller, "exp": exp}),
		"expired":       sign("test-secret", jwt.MapClaims{"sub": "u", "role": RoleTeller, "exp": time.Now().Add(-time.Hour).Unix()}),
		"no expiry":     sign("test-secret", jwt.MapClaims{"sub": "u", "role": RoleTeller}),
		"missing role":  sign("test-secret", jwt.MapClaims{"sub": "u", "exp": exp}),
		"garbage token": "abc.def.ghi",
	}
	for name, tok := range cases {
		if _, err := verifier.ParseActor(tok); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

func TestParseActorWithKeyRotation(t *testing.T) {
	keyset, err := ParseHMACKeyset("", "old:old-secret,new:new-secret", "new")
	if err != nil {
		t.Fatalf("parse keyset: %v", err)
	}
	signerOld := NewJWTSignerWithKeyset(HMACKeyset{ActiveKID: "old", Keys: keyset.Keys})
	signerNew := NewJWTSignerWithKeyset(HMACKeyset{ActiveKID: "new", Keys: keyset.Keys})
	verifier := NewJWTVerifierWithKeyset(keyset)

	now := time.Now().UTC()
	oldToken, _, err := signerOld.SignActor(Actor{ID: "user-1", Role: RoleCustomer}, now, time.Hour)
	if err != nil {
		t.Fatalf("sign old token: %v", err)
	}
	newToken, _, err := signerNew.SignActor(Actor{ID: "user-2", Role: RoleTeller}, now, time.Hour)
	if err != nil {
		t.Fatalf("sign new token: %v", err)
	}

	oldActor, err := verifier.ParseActor(oldToken)
	if err != nil {
		t.Fatalf("verify old token: %v", err)
	}
	newActor, err := verifier.ParseActor(newToken)
	if err != nil {
		t.Fatalf("verify new token: %v", err)
	}
	if oldActor.ID != "user-1" || newActor.Role != RoleTeller {
		t.Fatalf("unexpected actors after rotation: old=%+v new=%+v", oldActor, newActor)
	}

	retired, _ := ParseHMACKeyset("", "new:new-secret", "new")
	if _, err := NewJWTVerifierWithKeyset(retired).ParseActor(oldToken); err == nil {
		t.Fatalf("token signed with a retired kid must be rejected")
	}
}

func TestParseHMACKeysetErrors(t *testing.T) {
	if _, err := ParseHMACKeyset("", "", ""); err == nil {
		t.Fatalf("expected error for empty keyset")
	}
	if _, err := ParseHMACKeyset("", "broken", ""); err == nil {
		t.Fatalf("expected error for malformed entry")
	}
	if _, err := ParseHMACKeyset("s", "", "missing"); err == nil {
		t.Fatalf("expected error for unknown active kid")
	}
	ks, err := ParseHMACKeyset("legacy", "", "")
	if err != nil || ks.ActiveKID != "default" {
		t.Fatalf("legacy secret should become the default kid, got %+v err=%v", ks, err)
	}
}

func TestHTTPMiddlewareAndRoles(t *testing.T) {
	keyset, _ := ParseHMACKeyset("secret", "", "")
	signer := NewJWTSignerWithKeyset(keyset)
	verifier := NewJWTVerifierWithKeyset(keyset)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := HTTPJWTMiddlewareWithSkips(verifier, RequireRole(ok, RoleTeller, RoleAdmin), []string{"/healthz"})

	teller, _, _ := signer.SignActor(Actor{ID: "t-1", Role: RoleTeller}, time.Now(), time.Hour)
	customer, _, _ := signer.SignActor(Actor{ID: "c-1", Role: RoleCustomer}, time.Now(), time.Hour)
	cases := []struct {
		name, path, token string
		want              int
	}{
		{"no token", "/v1/withdrawals", "", http.StatusUnauthorized},
		{"bad token", "/v1/withdrawals", "nope", http.StatusUnauthorized},
		{"wrong role", "/v1/withdrawals", customer, http.StatusForbidden},
		{"allowed role", "/v1/withdrawals", teller, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestHTTPMiddlewareSkipsHealthPaths(t *testing.T) {
	verifier := NewJWTVerifier("secret")
	h := HTTPJWTMiddlewareWithSkips(verifier, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"/healthz"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("skip path should bypass auth, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/extra", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("skips match exact paths only, got %d", rec.Code)
	}
}
