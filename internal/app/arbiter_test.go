package app

import (
	"testing"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/leandro-lugaresi/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArbiter(local domain.ParticipantID, roster ...domain.ParticipantID) (*ScreenShareArbiter, *PeerMesh, *fakeDialer, *fakeSignals, *hub.Hub) {
	dialer := &fakeDialer{}
	signals := newFakeSignals()
	events := hub.New()
	mesh := NewPeerMesh(local, dialer.dial, signals, events)
	arbiter := NewScreenShareArbiter(local, mesh, signals, func() []domain.ParticipantID {
		return roster
	}, events)
	return arbiter, mesh, dialer, signals, events
}

func TestStartShareFansOutToRoster(t *testing.T) {
	arbiter, mesh, dialer, signals, _ := newTestArbiter("alice", "bob", "carol")

	capture := newFakeMedia()
	require.NoError(t, arbiter.StartShare(capture))

	assert.Equal(t, domain.ParticipantID("alice"), arbiter.Owner())
	assert.Equal(t, 1, signals.shareStart)
	assert.Len(t, mesh.Records(), 2)
	for _, conn := range dialer.conns {
		assert.True(t, conn.initiator, "the sharer always offers")
	}
}

func TestStartShareConflictRejected(t *testing.T) {
	arbiter, _, _, signals, _ := newTestArbiter("alice", "bob")

	arbiter.HandleRemoteStart("bob")
	err := arbiter.StartShare(newFakeMedia())
	assert.ErrorIs(t, err, domain.ErrScreenShareConflict)
	assert.Equal(t, domain.ParticipantID("bob"), arbiter.Owner())
	assert.Zero(t, signals.shareStart)
}

func TestStartShareReentryRejected(t *testing.T) {
	arbiter, mesh, _, signals, _ := newTestArbiter("alice", "bob")

	first := newFakeMedia()
	require.NoError(t, arbiter.StartShare(first))

	// Starting again while already sharing must not replace the live
	// capture; the running share stays untouched.
	second := newFakeMedia()
	assert.ErrorIs(t, arbiter.StartShare(second), domain.ErrScreenShareConflict)
	assert.Equal(t, domain.ParticipantID("alice"), arbiter.Owner())
	assert.False(t, first.isClosed())
	assert.Len(t, mesh.Records(), 1)
	assert.Equal(t, 1, signals.shareStart)

	// The original capture ending still releases the share cleanly.
	first.Close()
	assert.Empty(t, arbiter.Owner())
	assert.Equal(t, 1, signals.shareStop)
}

func TestStopShareReleasesResource(t *testing.T) {
	arbiter, mesh, _, signals, _ := newTestArbiter("alice", "bob")

	capture := newFakeMedia()
	require.NoError(t, arbiter.StartShare(capture))
	arbiter.StopShare()

	assert.Empty(t, arbiter.Owner())
	assert.True(t, capture.isClosed())
	assert.Empty(t, mesh.Records())
	assert.Equal(t, 1, signals.shareStop)

	// Releasing an already released resource changes nothing.
	arbiter.StopShare()
	assert.Equal(t, 1, signals.shareStop)
}

func TestCaptureEndingReleasesShare(t *testing.T) {
	arbiter, mesh, _, signals, _ := newTestArbiter("alice", "bob")

	capture := newFakeMedia()
	require.NoError(t, arbiter.StartShare(capture))

	// The user closed the shared window through the OS picker.
	capture.Close()

	assert.Empty(t, arbiter.Owner())
	assert.Empty(t, mesh.Records())
	assert.Equal(t, 1, signals.shareStop)
}

func TestShareHandoffAfterRelease(t *testing.T) {
	arbiter, _, _, _, _ := newTestArbiter("alice", "bob")

	arbiter.HandleRemoteStart("bob")
	assert.ErrorIs(t, arbiter.StartShare(newFakeMedia()), domain.ErrScreenShareConflict)

	arbiter.HandleRemoteStop("bob")
	assert.Empty(t, arbiter.Owner())

	require.NoError(t, arbiter.StartShare(newFakeMedia()))
	assert.Equal(t, domain.ParticipantID("alice"), arbiter.Owner())
}

func TestHandleRemoteStopIgnoresNonOwner(t *testing.T) {
	arbiter, _, _, _, _ := newTestArbiter("alice")

	arbiter.HandleRemoteStart("bob")
	arbiter.HandleRemoteStop("carol")
	assert.Equal(t, domain.ParticipantID("bob"), arbiter.Owner())
}

func TestOwnerDisconnectReleasesShare(t *testing.T) {
	arbiter, _, _, _, _ := newTestArbiter("alice")

	arbiter.HandleRemoteStart("bob")
	arbiter.HandleParticipantGone("bob")
	assert.Empty(t, arbiter.Owner())
}

func TestLateJoinerGetsShare(t *testing.T) {
	arbiter, mesh, _, _, _ := newTestArbiter("alice", "bob")

	require.NoError(t, arbiter.StartShare(newFakeMedia()))
	require.Len(t, mesh.Records(), 1)

	arbiter.HandleUserJoined("dave")
	assert.Len(t, mesh.Records(), 2)
	_, ok := mesh.Peer("dave", core.ClassScreenShare)
	assert.True(t, ok)
}

func TestLateJoinerIgnoredWhenNotSharing(t *testing.T) {
	arbiter, mesh, _, _, _ := newTestArbiter("alice", "bob")

	arbiter.HandleUserJoined("dave")
	assert.Empty(t, mesh.Records())
}

func TestOwnerChangePublished(t *testing.T) {
	arbiter, _, _, _, events := newTestArbiter("alice", "bob")

	sub := events.Subscribe(8, core.TopicScreenShareOwner)
	defer events.Unsubscribe(sub)

	require.NoError(t, arbiter.StartShare(newFakeMedia()))
	msg := <-sub.Receiver
	assert.Equal(t, domain.ParticipantID("alice"), msg.Fields["participant_id"])

	arbiter.StopShare()
	msg = <-sub.Receiver
	assert.Equal(t, domain.ParticipantID(""), msg.Fields["participant_id"])
}
