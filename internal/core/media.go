package core

// MediaClass is the purpose of a peer connection. Camera media forms a full
// mesh; screen-share forms a star around the single sharer. The string
// values are the wire names used inside signal envelopes.
type MediaClass string

const (
	ClassCamera      MediaClass = "video"
	ClassScreenShare MediaClass = "screen-share"
)

func (c MediaClass) Valid() bool {
	return c == ClassCamera || c == ClassScreenShare
}

type PeerState string

const (
	PeerConnecting PeerState = "connecting"
	PeerConnected  PeerState = "connected"
	PeerFailed     PeerState = "failed"
	PeerClosed     PeerState = "closed"
)
