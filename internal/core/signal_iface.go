package core

import (
	"context"
	"encoding/json"

	"github.com/echobridge/meet/internal/domain"
)

// ParticipantLink pairs a transient transport connection with a stable
// participant identity, as reported by the signaling server.
type ParticipantLink struct {
	ConnectionID  domain.ConnectionID  `json:"connectionId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
}

// SignalEvent is the closed set of inbound signaling messages. Everything
// arriving on the wire is decoded and validated into one of these before
// any component acts on it.
type SignalEvent interface{ isSignalEvent() }

type (
	// EvParticipants is the authoritative roster reply.
	EvParticipants struct{ Participants []ParticipantLink }

	EvUserConnected struct{ Link ParticipantLink }

	EvUserDisconnected struct{ ParticipantID domain.ParticipantID }

	// EvSignal carries an opaque negotiation payload. It is routed by
	// (sender, class) and never parsed above the rtc adapter.
	EvSignal struct {
		From    domain.ParticipantID
		Class   MediaClass
		Payload json.RawMessage
	}

	EvScreenShareStart struct{ ParticipantID domain.ParticipantID }
	EvScreenShareStop  struct{ ParticipantID domain.ParticipantID }

	// EvNewUserForShare tells the active sharer to fan out to a late joiner.
	EvNewUserForShare struct{ Link ParticipantLink }

	// EvChannelUp fires on (re)connect. Resumed means presence must be
	// re-announced and peers rebuilt from a fresh roster.
	EvChannelUp struct{ Resumed bool }

	// EvChannelDown fires on connection loss. Permanent means the
	// reconnect budget is spent and the session should surface the error.
	EvChannelDown struct{ Permanent bool }
)

func (EvParticipants) isSignalEvent()     {}
func (EvUserConnected) isSignalEvent()    {}
func (EvUserDisconnected) isSignalEvent() {}
func (EvSignal) isSignalEvent()           {}
func (EvScreenShareStart) isSignalEvent() {}
func (EvScreenShareStop) isSignalEvent()  {}
func (EvNewUserForShare) isSignalEvent()  {}
func (EvChannelUp) isSignalEvent()        {}
func (EvChannelDown) isSignalEvent()      {}

// SignalChannel is the room-scoped control transport.
// Connection loss is non-fatal: the channel retries on its own within a
// bounded budget and reports EvChannelDown{Permanent: true} afterwards.
type SignalChannel interface {
	Connect(ctx context.Context, room domain.RoomID, local domain.ParticipantID, authToken string) error
	// Events delivers decoded inbound messages until Disconnect.
	// Per-sender ordering follows the wire; there is no cross-sender order.
	Events() <-chan SignalEvent
	AnnounceJoin() error
	// RequestParticipants asks for the roster and waits for the reply.
	RequestParticipants(ctx context.Context) ([]ParticipantLink, error)
	EmitSignal(to domain.ParticipantID, class MediaClass, payload []byte) error
	EmitShareStart() error
	EmitShareStop() error
	Disconnect() error
}
