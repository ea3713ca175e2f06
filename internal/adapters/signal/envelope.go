package signal

import (
	"encoding/json"
	"fmt"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
)

// envelope is the single wire shape of the signaling channel. Inbound
// frames decode into exactly one core.SignalEvent or are rejected here;
// nothing downstream sees a partially valid message.
type envelope struct {
	Type             string                 `json:"type"`
	RoomID           string                 `json:"roomId,omitempty"`
	ParticipantID    string                 `json:"participantId,omitempty"`
	ConnectionID     string                 `json:"connectionId,omitempty"`
	AuthToken        string                 `json:"authToken,omitempty"`
	Signal           json.RawMessage        `json:"signal,omitempty"`
	MediaClass       string                 `json:"mediaClass,omitempty"`
	Participants     []core.ParticipantLink `json:"participants,omitempty"`
	NewParticipantID string                 `json:"newParticipantId,omitempty"`
	NewConnectionID  string                 `json:"newConnectionId,omitempty"`
}

const (
	typeJoinRoom         = "join-room"
	typeGetParticipants  = "get-participants"
	typeParticipants     = "participants"
	typeUserConnected    = "user-connected"
	typeUserDisconnected = "user-disconnected"
	typeSignal           = "signal"
	typeShareStart       = "screen-share-start"
	typeShareStop        = "screen-share-stop"
	typeNewUserForShare  = "new-user-joined-for-screen-share"
)

func decodeEvent(data []byte) (core.SignalEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bad envelope: %w", err)
	}

	switch env.Type {
	case typeParticipants:
		return core.EvParticipants{Participants: env.Participants}, nil

	case typeUserConnected:
		if env.ParticipantID == "" || env.ConnectionID == "" {
			return nil, fmt.Errorf("user-connected without identity")
		}
		return core.EvUserConnected{Link: core.ParticipantLink{
			ConnectionID:  domain.ConnectionID(env.ConnectionID),
			ParticipantID: domain.ParticipantID(env.ParticipantID),
		}}, nil

	case typeUserDisconnected:
		if env.ParticipantID == "" {
			return nil, fmt.Errorf("user-disconnected without participant")
		}
		return core.EvUserDisconnected{ParticipantID: domain.ParticipantID(env.ParticipantID)}, nil

	case typeSignal:
		class := core.MediaClass(env.MediaClass)
		if !class.Valid() {
			return nil, fmt.Errorf("signal with media class %q", env.MediaClass)
		}
		if env.ParticipantID == "" || len(env.Signal) == 0 {
			return nil, fmt.Errorf("signal without sender or payload")
		}
		return core.EvSignal{
			From:    domain.ParticipantID(env.ParticipantID),
			Class:   class,
			Payload: env.Signal,
		}, nil

	case typeShareStart:
		if env.ParticipantID == "" {
			return nil, fmt.Errorf("screen-share-start without participant")
		}
		return core.EvScreenShareStart{ParticipantID: domain.ParticipantID(env.ParticipantID)}, nil

	case typeShareStop:
		if env.ParticipantID == "" {
			return nil, fmt.Errorf("screen-share-stop without participant")
		}
		return core.EvScreenShareStop{ParticipantID: domain.ParticipantID(env.ParticipantID)}, nil

	case typeNewUserForShare:
		if env.NewParticipantID == "" || env.NewConnectionID == "" {
			return nil, fmt.Errorf("new-user-joined-for-screen-share without identity")
		}
		return core.EvNewUserForShare{Link: core.ParticipantLink{
			ConnectionID:  domain.ConnectionID(env.NewConnectionID),
			ParticipantID: domain.ParticipantID(env.NewParticipantID),
		}}, nil

	default:
		return nil, fmt.Errorf("unknown signal type %q", env.Type)
	}
}
