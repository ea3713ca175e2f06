package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaAcquisition is fatal to starting a session: without local
	// media there is nothing to join with.
	ErrMediaAcquisition = errors.New("camera/microphone unavailable")

	// ErrSignalingDown is reported after the reconnect budget is spent.
	ErrSignalingDown = errors.New("signaling channel permanently down")

	// ErrScreenShareConflict rejects a start while someone else owns the share.
	ErrScreenShareConflict = errors.New("screen share already owned by another participant")

	// ErrTranslationSocket is non-fatal; the stream reconnects on its own.
	ErrTranslationSocket = errors.New("translation stream unavailable")

	// ErrAuthExpired is surfaced after one silent refresh-and-retry failed.
	ErrAuthExpired = errors.New("access token expired")

	ErrNotInSession = errors.New("not in a session")
)

// PeerNegotiationError scopes a failure to a single peer record; it never
// affects the session or other peers.
type PeerNegotiationError struct {
	Remote ParticipantID
	Class  string
	Err    error
}

func (e *PeerNegotiationError) Error() string {
	return fmt.Sprintf("peer negotiation with %s (%s): %v", e.Remote, e.Class, e.Err)
}

func (e *PeerNegotiationError) Unwrap() error { return e.Err }
