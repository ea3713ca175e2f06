package core

import (
	"context"

	"github.com/echobridge/meet/internal/domain"
)

// SessionDirectory is the external meeting registry. Only the calls the
// orchestrator needs are modeled here.
type SessionDirectory interface {
	FetchMeeting(ctx context.Context, code string) (*domain.Meeting, error)
	MarkLeft(ctx context.Context, code string) error
}

// UserDirectory resolves display names. Lookups are best-effort; callers
// fall back to a placeholder on error.
type UserDirectory interface {
	DisplayName(ctx context.Context, id domain.ParticipantID) (string, error)
}

// CredentialStore hands out the current access token and performs the one
// silent refresh allowed on mid-session expiry.
type CredentialStore interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}
