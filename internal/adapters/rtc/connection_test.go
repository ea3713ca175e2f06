package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localConfig keeps negotiation on host candidates only; no STUN round
// trips in tests.
func localConfig() webrtc.Configuration { return webrtc.Configuration{} }

type payloadLog struct {
	mu    sync.Mutex
	types []string
}

func (l *payloadLog) record(payload []byte) {
	var n negotiation
	if json.Unmarshal(payload, &n) != nil {
		return
	}
	l.mu.Lock()
	l.types = append(l.types, n.Type)
	l.mu.Unlock()
}

func (l *payloadLog) has(kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.types {
		if t == kind {
			return true
		}
	}
	return false
}

func TestOfferAnswerExchange(t *testing.T) {
	offerer, err := NewConnection(localConfig(), true)
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := NewConnection(localConfig(), false)
	require.NoError(t, err)
	defer answerer.Close()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU}, "audio", "test")
	require.NoError(t, err)
	_, err = offerer.AddLocalTrack(track)
	require.NoError(t, err)

	fromOfferer, fromAnswerer := &payloadLog{}, &payloadLog{}
	offerer.OnSignal(func(payload []byte) {
		fromOfferer.record(payload)
		_ = answerer.Signal(payload)
	})
	answerer.OnSignal(func(payload []byte) {
		fromAnswerer.record(payload)
		_ = offerer.Signal(payload)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, answerer.Start(ctx))
	require.NoError(t, offerer.Start(ctx))

	assert.True(t, fromOfferer.has("offer"), "initiator sends the offer on start")
	assert.Eventually(t, func() bool {
		return fromAnswerer.has("answer")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCandidateBufferedBeforeRemote(t *testing.T) {
	conn, err := NewConnection(localConfig(), false)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, conn.Start(ctx))

	// A candidate ahead of the offer must not error; it waits for the
	// remote description.
	payload, err := json.Marshal(negotiation{Type: "candidate", Candidate: &webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
	}})
	require.NoError(t, err)
	assert.NoError(t, conn.Signal(payload))
}

func TestSignalRejectsGarbage(t *testing.T) {
	conn, err := NewConnection(localConfig(), false)
	require.NoError(t, err)
	defer conn.Close()

	assert.Error(t, conn.Signal([]byte("not json")))
	assert.Error(t, conn.Signal([]byte(`{"type":"teleport"}`)))
	assert.Error(t, conn.Signal([]byte(`{"type":"candidate"}`)))
}

func TestContextCancelCloses(t *testing.T) {
	conn, err := NewConnection(localConfig(), false)
	require.NoError(t, err)

	var closed sync.WaitGroup
	closed.Add(1)
	var once sync.Once
	conn.OnClosed(func() { once.Do(closed.Done) })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, conn.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() { closed.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed on context cancel")
	}
	assert.True(t, conn.IsClosed())
}
