package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/leandro-lugaresi/hub"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Deps are the collaborators a session controller wires together. Nothing
// here is a singleton: several controllers (e.g. in tests) can coexist.
type Deps struct {
	Events    *hub.Hub
	Signals   core.SignalChannel
	Translate core.TranslateChannel
	Directory core.SessionDirectory
	Users     core.UserDirectory
	Creds     core.CredentialStore
	Media     core.MediaAcquirer
	Playback  core.Playback
	Dial      core.MediaDialer
}

// SessionController owns the join/leave lifecycle and the RoomSession, and
// is the single source of truth for "am I in a session".
type SessionController struct {
	deps     Deps
	local    domain.ParticipantID
	prefs    domain.TranslationPreferences
	pipeCfg  PipelineConfig
	rosterTO time.Duration

	mu        sync.Mutex
	sess      *domain.RoomSession
	identity  *IdentityResolver
	mesh      *PeerMesh
	arbiter   *ScreenShareArbiter
	pipeline  *TranslationPipeline
	userMedia core.LocalMedia
	cancel    context.CancelFunc
	mediaSub  hub.Subscription
	wg        sync.WaitGroup
}

func NewSessionController(deps Deps, local domain.ParticipantID, prefs domain.TranslationPreferences, pipeCfg PipelineConfig) *SessionController {
	return &SessionController{
		deps:     deps,
		local:    local,
		prefs:    prefs,
		pipeCfg:  pipeCfg,
		rosterTO: 5 * time.Second,
	}
}

func (c *SessionController) InSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Join acquires local media, connects signaling, announces presence, builds
// the camera mesh from the roster and starts the translation pipeline.
func (c *SessionController) Join(ctx context.Context, roomCode string) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return errors.New("already in a session")
	}
	c.mu.Unlock()

	token, err := c.deps.Creds.Token(ctx)
	if err != nil {
		return err
	}

	media, err := c.deps.Media.AcquireUserMedia(ctx)
	if err != nil {
		// Without local media there is no session to start.
		return errors.Join(domain.ErrMediaAcquisition, err)
	}

	meeting, err := c.deps.Directory.FetchMeeting(ctx, roomCode)
	if err != nil {
		media.Close()
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())

	identity := NewIdentityResolver(c.deps.Users)
	mesh := NewPeerMesh(c.local, c.deps.Dial, c.deps.Signals, c.deps.Events)
	mesh.BindContext(sessCtx)
	arbiter := NewScreenShareArbiter(c.local, mesh, c.deps.Signals, func() []domain.ParticipantID {
		return lo.Without(identity.Bound(), c.local)
	}, c.deps.Events)
	pipeline := NewTranslationPipeline(c.pipeCfg, c.deps.Translate, c.deps.Playback, c.prefs)

	if err := c.deps.Signals.Connect(ctx, domain.RoomID(roomCode), c.local, token); err != nil {
		cancel()
		media.Close()
		return errors.Join(domain.ErrSignalingDown, err)
	}
	if err := c.deps.Signals.AnnounceJoin(); err != nil {
		cancel()
		media.Close()
		_ = c.deps.Signals.Disconnect()
		return err
	}

	c.mu.Lock()
	c.sess = domain.NewRoomSession(domain.RoomID(roomCode), c.local)
	c.identity = identity
	c.mesh = mesh
	c.arbiter = arbiter
	c.pipeline = pipeline
	c.userMedia = media
	c.cancel = cancel
	c.mu.Unlock()

	identity.OnChange(func() { go c.refreshRoster(sessCtx, roomCode) })
	c.applyMeeting(meeting)

	links, err := c.fetchLinks(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("roster fetch failed, relying on user-connected events")
	}
	for _, l := range links {
		identity.Bind(l.ConnectionID, l.ParticipantID)
	}
	for _, l := range links {
		c.ensureCameraPeer(l.ParticipantID)
	}

	if err := pipeline.Start(sessCtx, media); err != nil {
		// Translation is a parallel feature; the meeting works without it.
		log.Error().Err(err).Str("module", "app.session").Msg("translation pipeline unavailable")
	}

	c.watchRemoteMedia()
	c.wg.Add(1)
	go c.eventLoop(sessCtx)

	log.Info().Str("module", "app.session").Str("room", roomCode).Str("participant", string(c.local)).Msg("joined")
	return nil
}

// fetchLinks asks for the authoritative roster with a timeout and exactly
// one bounded retry. No other call site retries this.
func (c *SessionController) fetchLinks(ctx context.Context) ([]core.ParticipantLink, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.rosterTO)
		links, err := c.deps.Signals.RequestParticipants(reqCtx)
		cancel()
		if err == nil {
			return links, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *SessionController) eventLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.deps.Signals.Events():
			if !ok {
				return
			}
			c.handleSignalEvent(ctx, ev)
		}
	}
}

func (c *SessionController) handleSignalEvent(ctx context.Context, ev core.SignalEvent) {
	c.mu.Lock()
	sess, identity, mesh, arbiter, pipeline := c.sess, c.identity, c.mesh, c.arbiter, c.pipeline
	c.mu.Unlock()
	if sess == nil {
		return
	}

	switch e := ev.(type) {
	case core.EvParticipants:
		for _, l := range e.Participants {
			identity.Bind(l.ConnectionID, l.ParticipantID)
		}
		for _, l := range e.Participants {
			c.ensureCameraPeer(l.ParticipantID)
		}

	case core.EvUserConnected:
		identity.Bind(e.Link.ConnectionID, e.Link.ParticipantID)
		c.ensureCameraPeer(e.Link.ParticipantID)
		arbiter.HandleUserJoined(e.Link.ParticipantID)
		if err := pipeline.RefreshLanguages(); err != nil {
			log.Debug().Err(err).Str("module", "app.session").Msg("language refresh")
		}

	case core.EvNewUserForShare:
		identity.Bind(e.Link.ConnectionID, e.Link.ParticipantID)
		arbiter.HandleUserJoined(e.Link.ParticipantID)

	case core.EvSignal:
		// Failures here are scoped to one peer record and absorbed.
		if err := mesh.HandleSignal(e.From, e.Class, e.Payload); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("peer negotiation failed")
		}

	case core.EvUserDisconnected:
		mesh.TeardownPeer(e.ParticipantID, "")
		arbiter.HandleParticipantGone(e.ParticipantID)
		pipeline.DropRemote(e.ParticipantID)
		identity.UnbindParticipant(e.ParticipantID)
		c.markLeft(e.ParticipantID)

	case core.EvScreenShareStart:
		arbiter.HandleRemoteStart(e.ParticipantID)

	case core.EvScreenShareStop:
		arbiter.HandleRemoteStop(e.ParticipantID)

	case core.EvChannelUp:
		if !e.Resumed {
			return
		}
		// Mid-negotiation peers did not survive the outage: re-announce
		// presence and rebuild from a fresh roster.
		log.Info().Str("module", "app.session").Msg("signaling resumed, re-announcing")
		if err := c.deps.Signals.AnnounceJoin(); err != nil {
			log.Error().Err(err).Str("module", "app.session").Msg("re-announce")
			return
		}
		links, err := c.fetchLinks(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "app.session").Msg("roster refetch")
			return
		}
		identity.Reset()
		for _, l := range links {
			identity.Bind(l.ConnectionID, l.ParticipantID)
		}
		for _, l := range links {
			c.ensureCameraPeer(l.ParticipantID)
		}

	case core.EvChannelDown:
		if e.Permanent {
			// Local media keeps running; the boundary decides what to do.
			c.deps.Events.Publish(hub.Message{
				Name:   core.TopicSessionError,
				Fields: hub.Fields{"error": domain.ErrSignalingDown},
			})
		}
	}
}

func (c *SessionController) ensureCameraPeer(pid domain.ParticipantID) {
	if pid == c.local {
		return
	}
	c.mu.Lock()
	mesh, media := c.mesh, c.userMedia
	c.mu.Unlock()
	if mesh == nil || media == nil {
		return
	}
	if _, err := mesh.EnsurePeer(pid, core.ClassCamera, media.Tracks()); err != nil {
		log.Error().Err(err).Str("module", "app.session").Str("remote", string(pid)).Msg("camera peer")
	}
}

// watchRemoteMedia feeds camera-class remote audio into the muting policy
// and mirrors arbiter owner changes into the RoomSession. The arbiter
// publishes every transition — including a capture ending on its own — so
// this is the one place the mirror is written.
func (c *SessionController) watchRemoteMedia() {
	sub := c.deps.Events.Subscribe(16,
		core.TopicRemoteMediaAvailable, core.TopicRemoteMediaRemoved, core.TopicScreenShareOwner)
	c.mu.Lock()
	c.mediaSub = sub
	pipeline := c.pipeline
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range sub.Receiver {
			pid, _ := msg.Fields["participant_id"].(domain.ParticipantID)
			if msg.Name == core.TopicScreenShareOwner {
				c.setOwner(pid)
				continue
			}
			class, _ := msg.Fields["class"].(core.MediaClass)
			if class != core.ClassCamera || pid == "" {
				continue
			}
			switch msg.Name {
			case core.TopicRemoteMediaAvailable:
				pipeline.TrackRemote(pid)
			case core.TopicRemoteMediaRemoved:
				pipeline.DropRemote(pid)
			}
		}
	}()
}

// StartScreenShare acquires a capture and claims the share resource.
func (c *SessionController) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	sess, arbiter := c.sess, c.arbiter
	c.mu.Unlock()
	if sess == nil {
		return domain.ErrNotInSession
	}
	if arbiter.Owner() != "" {
		return domain.ErrScreenShareConflict
	}
	capture, err := c.deps.Media.AcquireDisplayMedia(ctx)
	if err != nil {
		return errors.Join(domain.ErrMediaAcquisition, err)
	}
	if err := arbiter.StartShare(capture); err != nil {
		capture.Close()
		return err
	}
	return nil
}

func (c *SessionController) StopScreenShare() {
	c.mu.Lock()
	arbiter := c.arbiter
	c.mu.Unlock()
	if arbiter == nil {
		return
	}
	arbiter.StopShare()
}

// SetPreferences updates the translation preferences for this process.
func (c *SessionController) SetPreferences(prefs domain.TranslationPreferences) {
	c.mu.Lock()
	c.prefs = prefs
	pipeline := c.pipeline
	c.mu.Unlock()
	if pipeline != nil {
		pipeline.SetPreferences(prefs)
	}
}

// Leave is one synchronous teardown pass. A failing step is logged and the
// sequence continues; by return there are no live peers, channels, tracks
// or timers.
func (c *SessionController) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return domain.ErrNotInSession
	}
	sess := c.sess
	identity, mesh, arbiter, pipeline := c.identity, c.mesh, c.arbiter, c.pipeline
	media, cancel, mediaSub := c.userMedia, c.cancel, c.mediaSub
	c.sess = nil
	c.identity, c.mesh, c.arbiter, c.pipeline = nil, nil, nil, nil
	c.userMedia, c.cancel, c.mediaSub = nil, nil, hub.Subscription{}
	c.mu.Unlock()

	cancel()

	pipeline.Stop()
	arbiter.StopShare()
	mesh.TeardownAll()

	if err := c.deps.Signals.Disconnect(); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("signaling disconnect")
	}

	for _, t := range media.Tracks() {
		t.Stop()
	}
	media.Close()

	leaveCtx, leaveCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := c.deps.Directory.MarkLeft(leaveCtx, string(sess.RoomID)); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("mark left")
	}
	leaveCancel()

	if mediaSub.Receiver != nil {
		c.deps.Events.Unsubscribe(mediaSub)
	}
	identity.Reset()
	c.wg.Wait()

	log.Info().Str("module", "app.session").Str("room", string(sess.RoomID)).Msg("left")
	return nil
}

// applyMeeting folds the directory view into the roster.
func (c *SessionController) applyMeeting(m *domain.Meeting) {
	c.mu.Lock()
	sess := c.sess
	if sess != nil {
		for _, p := range m.Participants {
			sess.Roster[p.ID] = p
		}
	}
	c.mu.Unlock()
	c.publishRoster()
}

// refreshRoster re-reads the directory after the bound connection set
// changed. Display names resolve best-effort through the identity cache.
func (c *SessionController) refreshRoster(ctx context.Context, roomCode string) {
	meeting, err := c.deps.Directory.FetchMeeting(ctx, roomCode)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("roster refresh")
		return
	}
	c.mu.Lock()
	sess, identity := c.sess, c.identity
	c.mu.Unlock()
	if sess == nil {
		return
	}
	for _, p := range meeting.Participants {
		p.DisplayName = identity.DisplayNameFor(ctx, p.ID)
	}
	c.applyMeeting(meeting)
}

func (c *SessionController) markLeft(pid domain.ParticipantID) {
	now := time.Now()
	c.mu.Lock()
	if c.sess != nil {
		if p, ok := c.sess.Roster[pid]; ok {
			p.LeftAt = &now
		}
	}
	c.mu.Unlock()
	c.publishRoster()
}

func (c *SessionController) setOwner(pid domain.ParticipantID) {
	c.mu.Lock()
	if c.sess != nil {
		c.sess.ScreenShareOwner = pid
	}
	c.mu.Unlock()
}

func (c *SessionController) publishRoster() {
	c.mu.Lock()
	var roster []*domain.Participant
	if c.sess != nil {
		roster = lo.Values(c.sess.Roster)
	}
	c.mu.Unlock()
	if roster == nil {
		return
	}
	c.deps.Events.Publish(hub.Message{
		Name:   core.TopicRosterUpdated,
		Fields: hub.Fields{"roster": roster},
	})
}

// StatusView is a read-only snapshot for the control API.
type StatusView struct {
	RoomID           domain.RoomID         `json:"room_id"`
	LocalID          domain.ParticipantID  `json:"local_id"`
	ScreenShareOwner domain.ParticipantID  `json:"screen_share_owner,omitempty"`
	Roster           []*domain.Participant `json:"roster"`
	Peers            []PeerStatus          `json:"peers"`
}

type PeerStatus struct {
	Remote domain.ParticipantID `json:"remote"`
	Class  core.MediaClass      `json:"class"`
	State  core.PeerState       `json:"state"`
}

func (c *SessionController) Status() (*StatusView, error) {
	c.mu.Lock()
	sess, mesh, arbiter := c.sess, c.mesh, c.arbiter
	c.mu.Unlock()
	if sess == nil {
		return nil, domain.ErrNotInSession
	}
	view := &StatusView{
		RoomID:           sess.RoomID,
		LocalID:          sess.LocalID,
		ScreenShareOwner: arbiter.Owner(),
	}
	c.mu.Lock()
	view.Roster = lo.Values(sess.Roster)
	c.mu.Unlock()
	for _, rec := range mesh.Records() {
		view.Peers = append(view.Peers, PeerStatus{Remote: rec.Remote, Class: rec.Class, State: rec.State()})
	}
	return view, nil
}
