package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorContextKey contextKey = "actor"

const (
	RoleCustomer = "customer"
	RoleTeller   = "teller"
	RoleAdmin    = "admin"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingClaims = errors.New("missing actor claims")
)

// Actor is the authenticated caller. ID is the user UUID for customers and
// tellers.
type Actor struct {
	ID   string
	Role string
}

// HMACKeyset holds HS256 secrets by kid. New tokens are signed with
// ActiveKID; every key in the set still verifies, so keys rotate without
// invalidating live tokens.
type HMACKeyset struct {
	ActiveKID string
	Keys      map[string][]byte
}

// ParseHMACKeyset builds a keyset from a single legacy secret and/or a
// "kid:secret,kid:secret" list.
func ParseHMACKeyset(secret, keys, activeKID string) (HMACKeyset, error) {
	out := HMACKeyset{ActiveKID: strings.TrimSpace(activeKID), Keys: map[string][]byte{}}
	if s := strings.TrimSpace(secret); s != "" {
		out.Keys["default"] = []byte(s)
	}
	for _, pair := range strings.Split(keys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, sec, ok := strings.Cut(pair, ":")
		kid, sec = strings.TrimSpace(kid), strings.TrimSpace(sec)
		if !ok || kid == "" || sec == "" {
			return HMACKeyset{}, fmt.Errorf("malformed jwt key entry %q", pair)
		}
		out.Keys[kid] = []byte(sec)
	}
	if len(out.Keys) == 0 {
		return HMACKeyset{}, errors.New("no jwt signing keys configured")
	}
	if out.ActiveKID == "" {
		if _, ok := out.Keys["default"]; ok {
			out.ActiveKID = "default"
		} else {
			kids := make([]string, 0, len(out.Keys))
			for kid := range out.Keys {
				kids = append(kids, kid)
			}
			sort.Strings(kids)
			out.ActiveKID = kids[len(kids)-1]
		}
	}
	if _, ok := out.Keys[out.ActiveKID]; !ok {
		return HMACKeyset{}, fmt.Errorf("active kid %q not found in keyset", out.ActiveKID)
	}
	return out, nil
}

type JWTSigner struct {
	keyset HMACKeyset
	issuer string
}

func NewJWTSignerWithKeyset(keyset HMACKeyset) *JWTSigner {
	return &JWTSigner{keyset: keyset, issuer: "open-ledger"}
}

// SignActor returns a token for actor valid for ttl from now and its expiry.
func (s *JWTSigner) SignActor(actor Actor, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if actor.ID == "" || actor.Role == "" {
		return "", time.Time{}, ErrMissingClaims
	}
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": actor.Role,
		"iss":  s.issuer,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = s.keyset.ActiveKID
	signed, err := tok.SignedString(s.keyset.Keys[s.keyset.ActiveKID])
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

type JWTVerifier struct {
	keyset HMACKeyset
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{keyset: HMACKeyset{ActiveKID: "default", Keys: map[string][]byte{"default": []byte(secret)}}}
}

func NewJWTVerifierWithKeyset(keyset HMACKeyset) *JWTVerifier {
	return &JWTVerifier{keyset: keyset}
}

func (v *JWTVerifier) ParseActor(tokenString string) (Actor, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = v.keyset.ActiveKID
		}
		key, ok := v.keyset.Keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Actor{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return Actor{}, ErrMissingClaims
	}
	return Actor{ID: sub, Role: role}, nil
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorContextKey).(Actor)
	return v, ok
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}

func HTTPJWTMiddleware(verifier *JWTVerifier, next http.Handler) http.Handler {
	return HTTPJWTMiddlewareWithSkips(verifier, next, nil)
}

// HTTPJWTMiddlewareWithSkips authenticates every request except exact
// matches in skipPaths.
func HTTPJWTMiddlewareWithSkips(verifier *JWTVerifier, next http.Handler, skipPaths []string) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		actor, err := verifier.ParseActor(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireRole rejects actors whose role is not listed. It must run behind
// the JWT middleware.
func RequireRole(next http.Handler, roles ...string) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor")
			return
		}
		if _, ok := allowed[actor.Role]; !ok {
			writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "role "+actor.Role+" may not call this endpoint")
			return
		}
		next.ServeHTTP(w, r)
	})
}
