// Package auth implements the request-boundary authentication surface of
// spec.md §4.10/§6/§7: a signed bearer token or an X-API-Key header, either
// of which resolves to an Identity the request handlers attach to context.
// Token/key *issuance* is an external collaborator (spec.md §1) — this
// package only validates what arrives on the wire, in the same spirit as
// the teacher's middleware/apikey_auth.go, which hashes and looks up a
// presented key rather than minting one.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inaiurai/orchestrator/internal/store"
)

// ErrMissingCredential, ErrInvalidCredential are the two auth failure kinds;
// both map to 401 at the request boundary (spec.md §7).
var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// apiKeyPrefix and the total length an X-API-Key value must exceed for the
// core to even attempt a lookup (spec.md §6).
const (
	apiKeyPrefix    = "sk_swarm_"
	apiKeyMinLength = 20
)

// defaultScopes is what an X-API-Key credential is treated as bearing when
// the looked-up record carries none of its own (spec.md §6: "the core
// validates format and treats it as bearing the default scope set").
var defaultScopes = []string{"tasks:read", "tasks:write", "agents:read", "budget:read"}

// Identity is what a validated credential resolves to; handlers read it
// back out of the request context via FromContext.
type Identity struct {
	Subject string
	Scopes  []string
	Device  string
	Via     string // "bearer" or "api-key"
}

// HasScope reports whether id carries scope, or carries no scopes at all
// (an unscoped identity is treated as unrestricted, matching a bearer
// token minted before scopes existed).
func (id Identity) HasScope(scope string) bool {
	if len(id.Scopes) == 0 {
		return true
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// claims is the three-segment bearer token payload (spec.md §6).
type claims struct {
	jwt.RegisteredClaims
	Scope  []string `json:"scope,omitempty"`
	Device string   `json:"device,omitempty"`
}

// KeyLookup resolves a hashed API key to its record. Narrow on purpose, the
// same way the teacher's middleware depends on APIKeyRepo rather than the
// full repository surface.
type KeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKeyRecord, error)
}

// APIKeyRecord is the subset of a stored API key auth needs to authorize a
// request; store.Store adapts models.APIKey to this shape.
type APIKeyRecord struct {
	Subject  string
	Scopes   []string
	IsActive bool
}

// StoreKeyLookup adapts a store.Store to KeyLookup, treating the key's ID
// as its bearer-identity subject since the core has no separate account
// concept (spec.md's task/agent model has no notion of accounts).
type StoreKeyLookup struct {
	Store store.Store
}

var _ KeyLookup = StoreKeyLookup{}

func (l StoreKeyLookup) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKeyRecord, error) {
	rec, err := l.Store.GetAPIKeyByHash(ctx, hash)
	if err != nil || rec == nil {
		return nil, err
	}
	return &APIKeyRecord{Subject: rec.ID.String(), Scopes: rec.Scopes, IsActive: rec.IsActive}, nil
}

// Validator checks bearer tokens and API keys against a process-wide secret
// and a key lookup, respectively.
type Validator struct {
	secret []byte
	keys   KeyLookup
}

// New constructs a Validator. secret must be non-empty; a missing JWT
// secret at startup is a fatal error per spec.md §7, not something this
// package silently defaults away.
func New(secret []byte, keys KeyLookup) *Validator {
	return &Validator{secret: secret, keys: keys}
}

// Authenticate resolves whichever credential the request carries. Bearer
// tokens are tried first; if absent, X-API-Key is tried; if neither is
// present, ErrMissingCredential is returned.
func (v *Validator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	if raw := extractBearer(r); raw != "" {
		return v.validateBearer(raw)
	}
	if raw := r.Header.Get("X-API-Key"); raw != "" {
		return v.validateAPIKey(ctx, raw)
	}
	return Identity{}, ErrMissingCredential
}

func (v *Validator) validateBearer(raw string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return Identity{}, ErrInvalidCredential
	}
	c, ok := tok.Claims.(*claims)
	if !ok || c.Subject == "" {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{
		Subject: c.Subject,
		Scopes:  c.Scope,
		Device:  c.Device,
		Via:     "bearer",
	}, nil
}

func (v *Validator) validateAPIKey(ctx context.Context, raw string) (Identity, error) {
	if !strings.HasPrefix(raw, apiKeyPrefix) || len(raw) <= apiKeyMinLength {
		return Identity{}, ErrInvalidCredential
	}
	if v.keys == nil {
		return Identity{}, ErrInvalidCredential
	}
	rec, err := v.keys.GetAPIKeyByHash(ctx, hashKey(raw))
	if err != nil || rec == nil || !rec.IsActive {
		return Identity{}, ErrInvalidCredential
	}
	scopes := rec.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return Identity{Subject: rec.Subject, Scopes: scopes, Via: "api-key"}, nil
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type contextKey string

const identityKey contextKey = "auth.identity"

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the authenticated identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Middleware wraps next, rejecting requests whose credential does not
// validate with 401 (spec.md §7), and otherwise attaching the resolved
// Identity to the request context.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.Authenticate(r.Context(), r)
		if err != nil {
			http.Error(w, `{"error":"missing or invalid credential"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// IssueBearer mints a bearer token for test/dev callers that need to drive
// an authenticated request without a separate issuance service (spec.md §1
// excludes issuance from the core's production surface, but the core's own
// tests still need a credential to present). ttl is measured from now.
func IssueBearer(secret []byte, subject string, scope []string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(secret)
}
