package core

import (
	"context"

	"github.com/echobridge/meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is one negotiated transport to a single remote for a
// single media class. The negotiation blobs passed through Signal/OnSignal
// are opaque to every caller; only the rtc adapter reads them.
type MediaConnection interface {
	// Start installs callbacks and, for the initiating side, kicks off the
	// offer. The connection lifetime is bound to ctx.
	Start(ctx context.Context) error
	Close()
	IsClosed() bool
	// Signal applies a remote negotiation payload.
	Signal(payload []byte) error
	// OnSignal sets the callback for locally produced negotiation payloads.
	OnSignal(func(payload []byte))
	// OnTrack fires when a remote media track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnConnected fires once the transport reaches the connected state.
	OnConnected(func())
	// OnClosed fires on failure or close, for cleanup.
	OnClosed(func())
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
}

// MediaDialer builds a MediaConnection for one negotiation role.
type MediaDialer func(initiator bool) (MediaConnection, error)

// LocalTrack is a sendable track plus its mute switch.
type LocalTrack interface {
	Track() webrtc.TrackLocal
	Kind() webrtc.RTPCodecType
	SetEnabled(bool)
	Enabled() bool
	Stop()
}

// LocalMedia is an acquired capture source: its tracks feed peer
// connections, its PCM frames feed the voice-activity sampler.
type LocalMedia interface {
	Tracks() []LocalTrack
	// ReadAudioFrame returns the next PCM frame (16-bit LE mono) or io.EOF.
	ReadAudioFrame() ([]byte, error)
	// OnEnded fires when the capture ends on its own, e.g. the user closes
	// the shared window from the OS picker.
	OnEnded(func())
	Close()
}

// MediaAcquirer stands in for getUserMedia/getDisplayMedia.
type MediaAcquirer interface {
	AcquireUserMedia(ctx context.Context) (LocalMedia, error)
	AcquireDisplayMedia(ctx context.Context) (LocalMedia, error)
}

// Playback is the audio output boundary. The pipeline decides per speaker
// whether their live track is audible or a translated substitute plays.
type Playback interface {
	SetLiveEnabled(speaker domain.ParticipantID, enabled bool)
	LiveEnabled(speaker domain.ParticipantID) bool
	PlayTranslated(speaker domain.ParticipantID, segment []byte) error
	Stop()
}
