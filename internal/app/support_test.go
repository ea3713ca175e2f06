package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

// fakeConn is a scripted core.MediaConnection.
type fakeConn struct {
	mu        sync.Mutex
	initiator bool
	started   bool
	closed    bool
	startErr  error
	signalErr error
	signals   [][]byte
	tracks    int

	onSignal    func([]byte)
	onTrack     func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	onConnected func()
	onClosed    func()
}

func (c *fakeConn) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Signal(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signalErr != nil {
		return c.signalErr
	}
	c.signals = append(c.signals, payload)
	return nil
}

func (c *fakeConn) OnSignal(fn func([]byte))    { c.onSignal = fn }
func (c *fakeConn) OnConnected(fn func())       { c.onConnected = fn }
func (c *fakeConn) OnClosed(fn func())          { c.onClosed = fn }
func (c *fakeConn) OnTrack(fn func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

func (c *fakeConn) AddLocalTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nil, nil
}

// fakeDialer records every dialed connection and its negotiation role.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) dial(initiator bool) (core.MediaConnection, error) {
	c := &fakeConn{initiator: initiator}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// fakeSignals implements the full signaling surface with recorded calls.
type fakeSignals struct {
	mu         sync.Mutex
	joined     int
	shareStart int
	shareStop  int
	sent       []sentSignal
	links      []core.ParticipantLink
	events     chan core.SignalEvent
	connected  bool
}

type sentSignal struct {
	to      domain.ParticipantID
	class   core.MediaClass
	payload []byte
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{events: make(chan core.SignalEvent, 16)}
}

func (s *fakeSignals) Connect(context.Context, domain.RoomID, domain.ParticipantID, string) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSignals) Events() <-chan core.SignalEvent { return s.events }

func (s *fakeSignals) AnnounceJoin() error {
	s.mu.Lock()
	s.joined++
	s.mu.Unlock()
	return nil
}

func (s *fakeSignals) RequestParticipants(context.Context) ([]core.ParticipantLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links, nil
}

func (s *fakeSignals) EmitSignal(to domain.ParticipantID, class core.MediaClass, payload []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentSignal{to, class, payload})
	s.mu.Unlock()
	return nil
}

func (s *fakeSignals) EmitShareStart() error {
	s.mu.Lock()
	s.shareStart++
	s.mu.Unlock()
	return nil
}

func (s *fakeSignals) EmitShareStop() error {
	s.mu.Lock()
	s.shareStop++
	s.mu.Unlock()
	return nil
}

func (s *fakeSignals) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// fakeTrack is a local track stub; the fake connection never reads it.
type fakeTrack struct {
	mu      sync.Mutex
	enabled bool
}

func newFakeTrack() *fakeTrack { return &fakeTrack{enabled: true} }

func (t *fakeTrack) Track() webrtc.TrackLocal  { return nil }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}
func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *fakeTrack) Stop() { t.SetEnabled(false) }

// fakeMedia is a scripted capture source.
type fakeMedia struct {
	mu      sync.Mutex
	tracks  []core.LocalTrack
	frames  [][]byte
	pos     int
	closed  bool
	onEnded func()
}

func newFakeMedia(frames ...[]byte) *fakeMedia {
	return &fakeMedia{tracks: []core.LocalTrack{newFakeTrack()}, frames: frames}
}

func (m *fakeMedia) Tracks() []core.LocalTrack { return m.tracks }

func (m *fakeMedia) ReadAudioFrame() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.pos >= len(m.frames) {
		return nil, io.EOF
	}
	f := m.frames[m.pos]
	m.pos++
	return f, nil
}

func (m *fakeMedia) OnEnded(fn func()) {
	m.mu.Lock()
	m.onEnded = fn
	m.mu.Unlock()
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	fn := m.onEnded
	m.onEnded = nil
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeAcquirer struct {
	userErr error
	dispErr error

	mu       sync.Mutex
	user     *fakeMedia
	displays []*fakeMedia
}

func (a *fakeAcquirer) AcquireUserMedia(context.Context) (core.LocalMedia, error) {
	if a.userErr != nil {
		return nil, a.userErr
	}
	m := newFakeMedia()
	a.mu.Lock()
	a.user = m
	a.mu.Unlock()
	return m, nil
}

func (a *fakeAcquirer) AcquireDisplayMedia(context.Context) (core.LocalMedia, error) {
	if a.dispErr != nil {
		return nil, a.dispErr
	}
	m := newFakeMedia()
	a.mu.Lock()
	a.displays = append(a.displays, m)
	a.mu.Unlock()
	return m, nil
}

// fakePlayback records gate changes and translated segments.
type fakePlayback struct {
	mu       sync.Mutex
	gates    map[domain.ParticipantID]bool
	setCalls int
	played   map[domain.ParticipantID][][]byte
	stopped  bool
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{
		gates:  make(map[domain.ParticipantID]bool),
		played: make(map[domain.ParticipantID][][]byte),
	}
}

func (p *fakePlayback) SetLiveEnabled(id domain.ParticipantID, enabled bool) {
	p.mu.Lock()
	p.gates[id] = enabled
	p.setCalls++
	p.mu.Unlock()
}

func (p *fakePlayback) LiveEnabled(id domain.ParticipantID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	enabled, known := p.gates[id]
	return !known || enabled
}

func (p *fakePlayback) PlayTranslated(id domain.ParticipantID, segment []byte) error {
	p.mu.Lock()
	p.played[id] = append(p.played[id], segment)
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *fakePlayback) playedCount(id domain.ParticipantID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played[id])
}

// fakeTranslate is a scripted core.TranslateChannel.
type fakeTranslate struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	prefs      []domain.TranslationPreferences
	langReqs   int
	utterances [][]byte
	events     chan core.TranslateEvent
}

func newFakeTranslate() *fakeTranslate {
	return &fakeTranslate{events: make(chan core.TranslateEvent, 16)}
}

func (t *fakeTranslate) Connect(context.Context) error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTranslate) Events() <-chan core.TranslateEvent { return t.events }

func (t *fakeTranslate) AnnouncePrefs(p domain.TranslationPreferences) error {
	t.mu.Lock()
	t.prefs = append(t.prefs, p)
	t.mu.Unlock()
	return nil
}

func (t *fakeTranslate) RequestLanguages() error {
	t.mu.Lock()
	t.langReqs++
	t.mu.Unlock()
	return nil
}

func (t *fakeTranslate) SendUtterance(audio []byte) error {
	t.mu.Lock()
	t.utterances = append(t.utterances, audio)
	t.mu.Unlock()
	return nil
}

func (t *fakeTranslate) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTranslate) utteranceCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.utterances)
}

// fakeDirectory serves a fixed meeting and user set.
type fakeDirectory struct {
	mu       sync.Mutex
	meeting  *domain.Meeting
	fetchErr error
	left     []string
	names    map[domain.ParticipantID]string
}

func (d *fakeDirectory) FetchMeeting(_ context.Context, code string) (*domain.Meeting, error) {
	if d.fetchErr != nil {
		return nil, d.fetchErr
	}
	if d.meeting != nil {
		return d.meeting, nil
	}
	return &domain.Meeting{ShortCode: code}, nil
}

func (d *fakeDirectory) MarkLeft(_ context.Context, code string) error {
	d.mu.Lock()
	d.left = append(d.left, code)
	d.mu.Unlock()
	return nil
}

func (d *fakeDirectory) DisplayName(_ context.Context, id domain.ParticipantID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name, ok := d.names[id]; ok {
		return name, nil
	}
	return "", errors.New("unknown user")
}

type fakeCreds struct{ token string }

func (c *fakeCreds) Token(context.Context) (string, error)   { return c.token, nil }
func (c *fakeCreds) Refresh(context.Context) (string, error) { return c.token, nil }
