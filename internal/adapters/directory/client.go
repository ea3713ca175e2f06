// Package directory holds the HTTP collaborators consumed at their
// interface boundary: the session directory, the user directory and the
// credential store.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, Timeout: 5 * time.Second}
}

// Client implements core.SessionDirectory and core.UserDirectory against
// the REST directory. A 401 triggers one silent token refresh and retry;
// a second 401 surfaces as ErrAuthExpired.
type Client struct {
	cfg   Config
	http  *http.Client
	creds core.CredentialStore
}

func NewClient(cfg Config, creds core.CredentialStore) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		creds: creds,
	}
}

type meetParticipant struct {
	ID       string  `json:"id"`
	User     string  `json:"user"`
	Role     string  `json:"role"`
	JoinedAt string  `json:"joined_at"`
	LeftAt   *string `json:"left_at"`
}

type meetingResponse struct {
	ID               string            `json:"id"`
	ShortCode        string            `json:"short_code"`
	Title            string            `json:"title"`
	Host             string            `json:"host"`
	Status           string            `json:"status"`
	MeetParticipants []meetParticipant `json:"meet_participants"`
}

func (c *Client) FetchMeeting(ctx context.Context, code string) (*domain.Meeting, error) {
	var resp meetingResponse
	path := fmt.Sprintf("/api/v1/meet/meets/%s/", code)
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, fmt.Errorf("fetch meeting %s: %w", code, err)
	}

	m := &domain.Meeting{
		ID:        resp.ID,
		ShortCode: resp.ShortCode,
		Title:     resp.Title,
		Host:      domain.ParticipantID(resp.Host),
		Status:    resp.Status,
	}
	for _, mp := range resp.MeetParticipants {
		p := &domain.Participant{
			ID:          domain.ParticipantID(mp.User),
			DisplayName: domain.UnknownDisplayName,
			Role:        domain.Role(mp.Role),
		}
		if t, err := time.Parse(time.RFC3339, mp.JoinedAt); err == nil {
			p.JoinedAt = t
		}
		if mp.LeftAt != nil {
			if t, err := time.Parse(time.RFC3339, *mp.LeftAt); err == nil {
				p.LeftAt = &t
			}
		}
		m.Participants = append(m.Participants, p)
	}
	return m, nil
}

func (c *Client) MarkLeft(ctx context.Context, code string) error {
	path := fmt.Sprintf("/api/v1/meet/meets/%s/leave/", code)
	return c.do(ctx, http.MethodPost, path, nil)
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (c *Client) DisplayName(ctx context.Context, id domain.ParticipantID) (string, error) {
	var resp userResponse
	path := fmt.Sprintf("/api/v1/users/user/%s", id)
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return "", err
	}
	return resp.Username, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return err
	}
	status, err := c.once(ctx, method, path, token, out)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		log.Info().Str("module", "directory").Str("path", path).Msg("token rejected, refreshing")
		token, err = c.creds.Refresh(ctx)
		if err != nil {
			return domain.ErrAuthExpired
		}
		status, err = c.once(ctx, method, path, token, out)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return domain.ErrAuthExpired
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("directory %s %s: status %d", method, path, status)
	}
	return nil
}

func (c *Client) once(ctx context.Context, method, path, token string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
