package app

import (
	"sync"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/leandro-lugaresi/hub"
	"github.com/rs/zerolog/log"
)

// ShareSignals is the arbiter's outbound edge.
type ShareSignals interface {
	EmitShareStart() error
	EmitShareStop() error
}

// ScreenShareArbiter enforces single-owner exclusivity over the screen-share
// resource and drives the sharer→viewers star. It is the only writer of the
// owner field; a conflicting start is rejected, never overridden.
type ScreenShareArbiter struct {
	local   domain.ParticipantID
	mesh    *PeerMesh
	signals ShareSignals
	events  *hub.Hub
	// roster lists every other current room member.
	roster func() []domain.ParticipantID

	mu      sync.Mutex
	owner   domain.ParticipantID
	capture core.LocalMedia
}

func NewScreenShareArbiter(local domain.ParticipantID, mesh *PeerMesh, signals ShareSignals, roster func() []domain.ParticipantID, events *hub.Hub) *ScreenShareArbiter {
	return &ScreenShareArbiter{
		local:   local,
		mesh:    mesh,
		signals: signals,
		roster:  roster,
		events:  events,
	}
}

func (a *ScreenShareArbiter) Owner() domain.ParticipantID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// StartShare claims the resource, announces it and fans a screen-share peer
// out to every other roster member. The local side always initiates.
// A start while anyone owns the share — including this participant — is
// rejected: overwriting the live capture would leave the old one running
// with its ended-hook armed against the new share.
func (a *ScreenShareArbiter) StartShare(capture core.LocalMedia) error {
	a.mu.Lock()
	if a.owner != "" {
		a.mu.Unlock()
		return domain.ErrScreenShareConflict
	}
	a.owner = a.local
	a.capture = capture
	a.mu.Unlock()

	// The capture ending on its own (user closes the shared window through
	// the OS picker) releases the resource exactly like an explicit stop.
	capture.OnEnded(func() { a.StopShare() })

	if err := a.signals.EmitShareStart(); err != nil {
		log.Error().Err(err).Str("module", "app.share").Msg("announce start")
	}
	a.publishOwner(a.local)

	for _, pid := range a.roster() {
		if pid == a.local {
			continue
		}
		if _, err := a.mesh.EnsurePeer(pid, core.ClassScreenShare, capture.Tracks()); err != nil {
			log.Error().Err(err).Str("module", "app.share").Str("viewer", string(pid)).Msg("fan-out failed")
		}
	}
	log.Info().Str("module", "app.share").Msg("screen share started")
	return nil
}

// StopShare releases a locally owned share. Calling it while not sharing is
// a no-op so the capture-ended callback and explicit stop can race freely.
func (a *ScreenShareArbiter) StopShare() {
	a.mu.Lock()
	if a.owner != a.local {
		a.mu.Unlock()
		return
	}
	capture := a.capture
	a.owner = ""
	a.capture = nil
	a.mu.Unlock()

	a.mesh.TeardownClass(core.ClassScreenShare)
	if capture != nil {
		capture.Close()
	}
	if err := a.signals.EmitShareStop(); err != nil {
		log.Error().Err(err).Str("module", "app.share").Msg("announce stop")
	}
	a.publishOwner("")
	log.Info().Str("module", "app.share").Msg("screen share stopped")
}

// HandleRemoteStart records the announced owner. The viewer side stays
// passive: the sharer's inbound signal creates the peer record lazily.
func (a *ScreenShareArbiter) HandleRemoteStart(pid domain.ParticipantID) {
	if pid == a.local {
		return
	}
	a.mu.Lock()
	a.owner = pid
	a.mu.Unlock()
	a.publishOwner(pid)
	log.Info().Str("module", "app.share").Str("owner", string(pid)).Msg("remote screen share started")
}

// HandleRemoteStop releases the resource when the announced owner stops.
func (a *ScreenShareArbiter) HandleRemoteStop(pid domain.ParticipantID) {
	a.mu.Lock()
	if a.owner != pid {
		a.mu.Unlock()
		return
	}
	a.owner = ""
	a.mu.Unlock()

	a.mesh.TeardownClass(core.ClassScreenShare)
	a.publishOwner("")
	log.Info().Str("module", "app.share").Str("owner", string(pid)).Msg("remote screen share stopped")
}

// HandleParticipantGone releases the share if its owner disconnected.
func (a *ScreenShareArbiter) HandleParticipantGone(pid domain.ParticipantID) {
	a.HandleRemoteStop(pid)
}

// HandleUserJoined fans the active local share out to a late joiner.
func (a *ScreenShareArbiter) HandleUserJoined(pid domain.ParticipantID) {
	a.mu.Lock()
	sharing := a.owner == a.local && a.capture != nil
	capture := a.capture
	a.mu.Unlock()
	if !sharing || pid == a.local {
		return
	}
	if _, err := a.mesh.EnsurePeer(pid, core.ClassScreenShare, capture.Tracks()); err != nil {
		log.Error().Err(err).Str("module", "app.share").Str("viewer", string(pid)).Msg("late fan-out failed")
	}
}

func (a *ScreenShareArbiter) publishOwner(pid domain.ParticipantID) {
	a.events.Publish(hub.Message{
		Name:   core.TopicScreenShareOwner,
		Fields: hub.Fields{"participant_id": pid},
	})
}
