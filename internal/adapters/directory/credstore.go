package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/echobridge/meet/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// expirySlack refreshes proactively instead of racing the deadline.
const expirySlack = 30 * time.Second

// CredStore keeps the current access token and exchanges the refresh token
// when it expires. It never validates signatures; the exp claim is read
// unverified just to know when a refresh is due.
type CredStore struct {
	refreshURL string
	http       *http.Client

	mu      sync.Mutex
	access  string
	refresh string
}

func NewCredStore(refreshURL, accessToken, refreshToken string) *CredStore {
	return &CredStore{
		refreshURL: refreshURL,
		http:       &http.Client{Timeout: 5 * time.Second},
		access:     accessToken,
		refresh:    refreshToken,
	}
}

func (s *CredStore) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	access := s.access
	s.mu.Unlock()
	if access == "" {
		return "", domain.ErrAuthExpired
	}
	if expiringSoon(access) {
		return s.Refresh(ctx)
	}
	return access, nil
}

func (s *CredStore) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	refresh := s.refresh
	s.mu.Unlock()
	if refresh == "" || s.refreshURL == "" {
		return "", domain.ErrAuthExpired
	}

	body, _ := json.Marshal(map[string]string{"refresh": refresh})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", domain.ErrAuthExpired
	}

	var out struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Access == "" {
		return "", domain.ErrAuthExpired
	}

	s.mu.Lock()
	s.access = out.Access
	s.mu.Unlock()
	log.Info().Str("module", "directory").Msg("access token refreshed")
	return out.Access, nil
}

func expiringSoon(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens carry no deadline we can read; let the server decide.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < expirySlack
}
