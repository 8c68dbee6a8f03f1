package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store/memory"
)

var testSecret = []byte("test-secret")

func TestAuthenticate_ValidBearerTokenResolvesIdentity(t *testing.T) {
	v := New(testSecret, nil)
	tok, err := IssueBearer(testSecret, "agent-1", []string{"tasks:write"}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	id, err := v.Authenticate(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "agent-1", id.Subject)
	require.Equal(t, "bearer", id.Via)
	require.True(t, id.HasScope("tasks:write"))
	require.False(t, id.HasScope("budget:read"))
}

func TestAuthenticate_ExpiredBearerTokenRejected(t *testing.T) {
	v := New(testSecret, nil)
	tok, err := IssueBearer(testSecret, "agent-1", nil, -time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	_, err = v.Authenticate(context.Background(), r)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthenticate_WrongSecretRejected(t *testing.T) {
	v := New(testSecret, nil)
	tok, err := IssueBearer([]byte("some-other-secret"), "agent-1", nil, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	_, err = v.Authenticate(context.Background(), r)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthenticate_MalformedBearerTokenRejected(t *testing.T) {
	v := New(testSecret, nil)
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("Authorization", "Bearer not.a.validtoken")

	_, err := v.Authenticate(context.Background(), r)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthenticate_NoCredentialReturnsMissing(t *testing.T) {
	v := New(testSecret, nil)
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)

	_, err := v.Authenticate(context.Background(), r)
	require.ErrorIs(t, err, ErrMissingCredential)
}

func seedAPIKey(t *testing.T, s *memory.Store, raw string, active bool, scopes []string) uuid.UUID {
	t.Helper()
	sum := sha256.Sum256([]byte(raw))
	hash := hex.EncodeToString(sum[:])
	id := uuid.New()
	s.SetAPIKey(hash, &models.APIKey{
		ID:        id,
		KeyHash:   hash,
		KeyPrefix: raw[:len(apiKeyPrefix)+4],
		Scopes:    scopes,
		IsActive:  active,
		CreatedAt: time.Now(),
	})
	return id
}

func TestAuthenticate_ValidAPIKeyResolvesIdentityWithDefaultScopes(t *testing.T) {
	s := memory.New()
	raw := apiKeyPrefix + "abcdefghijklmnopqrstuvwxyz"
	id := seedAPIKey(t, s, raw, true, nil)

	v := New(testSecret, StoreKeyLookup{Store: s})
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("X-API-Key", raw)

	got, err := v.Authenticate(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, id.String(), got.Subject)
	require.Equal(t, "api-key", got.Via)
	require.Equal(t, defaultScopes, got.Scopes)
}

func TestAuthenticate_InactiveAPIKeyRejected(t *testing.T) {
	s := memory.New()
	raw := apiKeyPrefix + "abcdefghijklmnopqrstuvwxyz"
	seedAPIKey(t, s, raw, false, nil)

	v := New(testSecret, StoreKeyLookup{Store: s})
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("X-API-Key", raw)

	_, err := v.Authenticate(context.Background(), r)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthenticate_MalformedAPIKeyRejectedByFormatAlone(t *testing.T) {
	v := New(testSecret, nil)

	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("X-API-Key", "sk_swarm_tooshort")

	_, err := v.Authenticate(context.Background(), r)
	require.ErrorIs(t, err, ErrInvalidCredential)

	r2 := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r2.Header.Set("X-API-Key", "wrong_prefix_but_long_enough_1234567890")
	_, err = v.Authenticate(context.Background(), r2)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestMiddleware_RejectsMissingCredentialWith401(t *testing.T) {
	v := New(testSecret, nil)
	called := false
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_AttachesIdentityOnSuccess(t *testing.T) {
	v := New(testSecret, nil)
	tok, err := IssueBearer(testSecret, "agent-1", nil, time.Hour)
	require.NoError(t, err)

	var seen Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "agent-1", seen.Subject)
}
