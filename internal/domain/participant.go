// Package domain contains entity without logic, just meta-data
package domain

import "time"

const MaxDisplayNameLen = 36

// UnknownDisplayName is the placeholder used when the user directory
// cannot resolve a participant.
const UnknownDisplayName = "Unknown"

type (
	// ParticipantID is stable for the lifetime of a room.
	ParticipantID string
	// ConnectionID identifies one transport connection; it changes on
	// every reconnect and is never shown to the user.
	ConnectionID string
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
	Role        Role          `json:"role"`
	JoinedAt    time.Time     `json:"joined_at"`
	LeftAt      *time.Time    `json:"left_at,omitempty"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id ParticipantID, role Role) *Participant {
	return &Participant{ID: id, DisplayName: UnknownDisplayName, Role: role, JoinedAt: time.Now()}
}
