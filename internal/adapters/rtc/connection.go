package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/echobridge/meet/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// negotiation is the wire form of the opaque payloads the mesh routes.
// Only this package reads or writes it.
type negotiation struct {
	Type      string                   `json:"type"` // offer | answer | candidate
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
	}
}

// Connection wraps one pion PeerConnection for either negotiation role.
// Trickle ICE: candidates flow through OnSignal as they are gathered.
type Connection struct {
	pc        *webrtc.PeerConnection
	initiator bool

	mu          sync.Mutex
	closed      bool
	remoteSet   bool
	pendingCand []webrtc.ICECandidateInit

	onSignal    func([]byte)
	onTrack     func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onConnected func()
	onClosed    func()
	cancel      context.CancelFunc
}

func NewConnection(cfg webrtc.Configuration, initiator bool) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Connection{pc: pc, initiator: initiator}, nil
}

// Dialer builds a core.MediaDialer over the given configuration.
func Dialer(cfg webrtc.Configuration) core.MediaDialer {
	return func(initiator bool) (core.MediaConnection, error) {
		return NewConnection(cfg, initiator)
	}
}

func (c *Connection) OnSignal(fn func([]byte)) { c.onSignal = fn }
func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}
func (c *Connection) OnConnected(fn func()) { c.onConnected = fn }
func (c *Connection) OnClosed(fn func())    { c.onClosed = fn }

func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		c.emit(negotiation{Type: "candidate", Candidate: &ci})
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.onConnected != nil {
				c.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.Close()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(ctx, track, receiver)
		}
	})

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	if c.initiator {
		return c.sendOffer()
	}
	return nil
}

func (c *Connection) sendOffer() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	c.emit(negotiation{Type: "offer", SDP: offer.SDP})
	return nil
}

// Signal applies one remote negotiation payload. Candidates arriving ahead
// of the remote description are buffered until it lands.
func (c *Connection) Signal(payload []byte) error {
	var n negotiation
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("bad negotiation payload: %w", err)
	}

	switch n.Type {
	case "offer":
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: n.SDP}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		c.flushCandidates()
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		c.emit(negotiation{Type: "answer", SDP: answer.SDP})
		return nil

	case "answer":
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: n.SDP}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		c.flushCandidates()
		return nil

	case "candidate":
		if n.Candidate == nil {
			return fmt.Errorf("candidate payload without candidate")
		}
		c.mu.Lock()
		if !c.remoteSet {
			c.pendingCand = append(c.pendingCand, *n.Candidate)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return c.pc.AddICECandidate(*n.Candidate)

	default:
		return fmt.Errorf("unknown negotiation type %q", n.Type)
	}
}

func (c *Connection) flushCandidates() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingCand
	c.pendingCand = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("buffered candidate")
		}
	}
}

func (c *Connection) emit(n negotiation) {
	if c.onSignal == nil {
		return
	}
	b, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("marshal negotiation")
		return
	}
	c.onSignal(b)
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
	}
	if c.onClosed != nil {
		c.onClosed()
	}
}
