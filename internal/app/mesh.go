package app

import (
	"context"
	"sync"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/leandro-lugaresi/hub"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type peerKey struct {
	remote domain.ParticipantID
	class  core.MediaClass
}

// PeerRecord tracks one negotiated connection to one remote for one class.
// At most one non-closed record exists per (remote, class) pair.
type PeerRecord struct {
	Remote domain.ParticipantID
	Class  core.MediaClass
	Conn   core.MediaConnection

	mu    sync.Mutex
	state core.PeerState
}

func (p *PeerRecord) State() core.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PeerRecord) setState(s core.PeerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// SignalSender is the mesh's outbound edge: opaque payloads addressed to one
// remote participant.
type SignalSender interface {
	EmitSignal(to domain.ParticipantID, class core.MediaClass, payload []byte) error
}

// PeerMesh owns every peer connection of the session, both classes. It
// routes negotiation payloads without reading them and publishes remote
// media arrivals/removals on the event hub.
type PeerMesh struct {
	local   domain.ParticipantID
	dial    core.MediaDialer
	signals SignalSender
	events  *hub.Hub

	mu    sync.RWMutex
	ctx   context.Context
	peers map[peerKey]*PeerRecord
}

func NewPeerMesh(local domain.ParticipantID, dial core.MediaDialer, signals SignalSender, events *hub.Hub) *PeerMesh {
	return &PeerMesh{
		local:   local,
		dial:    dial,
		signals: signals,
		events:  events,
		ctx:     context.Background(),
		peers:   make(map[peerKey]*PeerRecord),
	}
}

// BindContext scopes every subsequently created connection to ctx.
func (m *PeerMesh) BindContext(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

// initiatorFor breaks the glare race: for camera peers the smaller id
// offers; for screen-share the sharer always offers, so reaching this call
// as the sharer means initiating.
func (m *PeerMesh) initiatorFor(remote domain.ParticipantID, class core.MediaClass) bool {
	if class == core.ClassScreenShare {
		return true
	}
	return string(m.local) < string(remote)
}

// EnsurePeer is idempotent: an existing non-closed record is returned as-is.
func (m *PeerMesh) EnsurePeer(remote domain.ParticipantID, class core.MediaClass, tracks []core.LocalTrack) (*PeerRecord, error) {
	return m.ensure(remote, class, tracks, m.initiatorFor(remote, class))
}

// HandleSignal routes an inbound payload, creating the record lazily as
// non-initiator. This covers the signal-before-user-connected ordering.
func (m *PeerMesh) HandleSignal(remote domain.ParticipantID, class core.MediaClass, payload []byte) error {
	rec, err := m.ensure(remote, class, nil, false)
	if err != nil {
		return err
	}
	if err := rec.Conn.Signal(payload); err != nil {
		log.Error().Err(err).Str("module", "app.mesh").Str("remote", string(remote)).Str("class", string(class)).Msg("apply signal")
		m.dropPeer(rec, core.PeerFailed)
		return &domain.PeerNegotiationError{Remote: remote, Class: string(class), Err: err}
	}
	return nil
}

func (m *PeerMesh) ensure(remote domain.ParticipantID, class core.MediaClass, tracks []core.LocalTrack, initiator bool) (*PeerRecord, error) {
	key := peerKey{remote, class}

	m.mu.Lock()
	if rec, ok := m.peers[key]; ok && rec.State() != core.PeerClosed {
		m.mu.Unlock()
		return rec, nil
	}
	ctx := m.ctx

	conn, err := m.dial(initiator)
	if err != nil {
		m.mu.Unlock()
		return nil, &domain.PeerNegotiationError{Remote: remote, Class: string(class), Err: err}
	}
	rec := &PeerRecord{Remote: remote, Class: class, Conn: conn, state: core.PeerConnecting}
	m.peers[key] = rec
	m.mu.Unlock()

	conn.OnSignal(func(payload []byte) {
		if err := m.signals.EmitSignal(remote, class, payload); err != nil {
			log.Error().Err(err).Str("module", "app.mesh").Str("remote", string(remote)).Msg("emit signal")
		}
	})
	conn.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "app.mesh").Str("remote", string(remote)).Str("class", string(class)).
			Str("kind", track.Kind().String()).Msg("remote track")
		m.events.Publish(hub.Message{
			Name: core.TopicRemoteMediaAvailable,
			Fields: hub.Fields{
				"participant_id": remote,
				"class":          class,
				"track":          track,
			},
		})
	})
	conn.OnConnected(func() {
		rec.setState(core.PeerConnected)
		log.Info().Str("module", "app.mesh").Str("remote", string(remote)).Str("class", string(class)).Msg("peer connected")
	})
	conn.OnClosed(func() {
		m.dropPeer(rec, core.PeerClosed)
	})

	for _, t := range tracks {
		if _, err := conn.AddLocalTrack(t.Track()); err != nil {
			m.dropPeer(rec, core.PeerFailed)
			return nil, &domain.PeerNegotiationError{Remote: remote, Class: string(class), Err: err}
		}
	}

	if err := conn.Start(ctx); err != nil {
		m.dropPeer(rec, core.PeerFailed)
		return nil, &domain.PeerNegotiationError{Remote: remote, Class: string(class), Err: err}
	}
	log.Info().Str("module", "app.mesh").Str("remote", string(remote)).Str("class", string(class)).
		Bool("initiator", initiator).Msg("peer created")
	return rec, nil
}

// dropPeer destroys exactly one record. Other peers and the session itself
// are untouched.
func (m *PeerMesh) dropPeer(rec *PeerRecord, final core.PeerState) {
	key := peerKey{rec.Remote, rec.Class}

	m.mu.Lock()
	cur, ok := m.peers[key]
	if !ok || cur != rec {
		m.mu.Unlock()
		return
	}
	delete(m.peers, key)
	m.mu.Unlock()

	was := rec.State()
	rec.setState(final)
	if was != core.PeerClosed {
		rec.Conn.Close()
	}
	m.events.Publish(hub.Message{
		Name: core.TopicRemoteMediaRemoved,
		Fields: hub.Fields{
			"participant_id": rec.Remote,
			"class":          rec.Class,
		},
	})
	log.Info().Str("module", "app.mesh").Str("remote", string(rec.Remote)).Str("class", string(rec.Class)).Msg("peer dropped")
}

func (m *PeerMesh) Peer(remote domain.ParticipantID, class core.MediaClass) (*PeerRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.peers[peerKey{remote, class}]
	return rec, ok
}

// TeardownPeer closes records for one remote: one class, or both when class
// is empty.
func (m *PeerMesh) TeardownPeer(remote domain.ParticipantID, class core.MediaClass) {
	for _, rec := range m.snapshot() {
		if rec.Remote != remote {
			continue
		}
		if class != "" && rec.Class != class {
			continue
		}
		m.dropPeer(rec, core.PeerClosed)
	}
}

// TeardownClass closes every record of one media class.
func (m *PeerMesh) TeardownClass(class core.MediaClass) {
	for _, rec := range m.snapshot() {
		if rec.Class == class {
			m.dropPeer(rec, core.PeerClosed)
		}
	}
}

func (m *PeerMesh) TeardownAll() {
	for _, rec := range m.snapshot() {
		m.dropPeer(rec, core.PeerClosed)
	}
}

// Records returns a point-in-time view of the non-closed records.
func (m *PeerMesh) Records() []*PeerRecord {
	return m.snapshot()
}

func (m *PeerMesh) snapshot() []*PeerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PeerRecord, 0, len(m.peers))
	for _, rec := range m.peers {
		out = append(out, rec)
	}
	return out
}
