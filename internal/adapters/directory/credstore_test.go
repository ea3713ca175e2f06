package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echobridge/meet/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "alice",
	})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestTokenReturnedWhileFresh(t *testing.T) {
	access := signedToken(t, time.Now().Add(time.Hour))
	s := NewCredStore("", access, "refresh-token")

	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
}

func TestTokenRefreshedNearExpiry(t *testing.T) {
	var body map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]string{"access": "fresh-access"})
	}))
	defer ts.Close()

	stale := signedToken(t, time.Now().Add(5*time.Second))
	s := NewCredStore(ts.URL, stale, "refresh-token")

	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", got)
	assert.Equal(t, "refresh-token", body["refresh"])

	// The refreshed token is stored.
	got, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", got)
}

func TestOpaqueTokenNeverProactivelyRefreshed(t *testing.T) {
	s := NewCredStore("", "opaque-token", "refresh-token")
	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", got)
}

func TestRefreshRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	s := NewCredStore(ts.URL, "stale", "refresh-token")
	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
}

func TestEmptyCredentials(t *testing.T) {
	s := NewCredStore("", "", "")
	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthExpired)

	_, err = s.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
}
