// Package media provides the capture and playback endpoints of the
// headless client: microphone input comes from a WAV file, translated
// segments are decoded and written out as WAV.
package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/go-audio/wav"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// sampleTrack pairs a pion local track with its mute switch. Disabling
// keeps the track attached; senders simply stop feeding it.
type sampleTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
}

func newSampleTrack(capability webrtc.RTPCodecCapability, id, stream string, kind webrtc.RTPCodecType) (*sampleTrack, error) {
	t, err := webrtc.NewTrackLocalStaticSample(capability, id, stream)
	if err != nil {
		return nil, err
	}
	return &sampleTrack{track: t, kind: kind, enabled: true}, nil
}

func (t *sampleTrack) Track() webrtc.TrackLocal  { return t.track }
func (t *sampleTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *sampleTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}
func (t *sampleTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *sampleTrack) Stop() { t.SetEnabled(false) }

// Source is an acquired capture: pre-chunked PCM frames plus the local
// tracks peers send from.
type Source struct {
	tracks []core.LocalTrack

	mu      sync.Mutex
	frames  [][]byte
	pos     int
	closed  bool
	onEnded func()
}

// NewWavMicrophone reads the whole file up front and serves fixed-duration
// PCM frames from memory, which keeps the sampler cadence exact.
func NewWavMicrophone(path string, frame time.Duration) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open microphone fixture: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 {
		return nil, errors.New("microphone fixture must be mono")
	}

	pcm := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(s)))
	}
	samplesPerFrame := int(float64(buf.Format.SampleRate) * frame.Seconds())
	bytesPerFrame := 2 * samplesPerFrame
	var frames [][]byte
	for off := 0; off < len(pcm); off += bytesPerFrame {
		end := off + bytesPerFrame
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[off:end])
	}

	audioTrack, err := newSampleTrack(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU},
		"audio", "echobridge-mic", webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, err
	}
	videoTrack, err := newSampleTrack(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "echobridge-cam", webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "media").Str("path", path).Int("frames", len(frames)).Msg("microphone source ready")
	return &Source{
		tracks: []core.LocalTrack{audioTrack, videoTrack},
		frames: frames,
	}, nil
}

// NewDisplayCapture is the getDisplayMedia stand-in: one video track and no
// microphone frames.
func NewDisplayCapture() (*Source, error) {
	videoTrack, err := newSampleTrack(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen", "echobridge-screen", webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, err
	}
	return &Source{tracks: []core.LocalTrack{videoTrack}}, nil
}

func (s *Source) Tracks() []core.LocalTrack { return s.tracks }

func (s *Source) ReadAudioFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	frame := s.frames[s.pos]
	s.pos++
	return frame, nil
}

func (s *Source) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// Close stops the tracks and fires the ended callback, mirroring a capture
// that the user terminated through the OS.
func (s *Source) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fn := s.onEnded
	s.onEnded = nil
	s.mu.Unlock()

	for _, t := range s.tracks {
		t.Stop()
	}
	if fn != nil {
		fn()
	}
}

// Acquirer implements core.MediaAcquirer over file-backed sources.
type Acquirer struct {
	MicPath       string
	FrameDuration time.Duration
}

func (a *Acquirer) AcquireUserMedia(_ context.Context) (core.LocalMedia, error) {
	src, err := NewWavMicrophone(a.MicPath, a.FrameDuration)
	if err != nil {
		return nil, errors.Join(domain.ErrMediaAcquisition, err)
	}
	return src, nil
}

func (a *Acquirer) AcquireDisplayMedia(_ context.Context) (core.LocalMedia, error) {
	src, err := NewDisplayCapture()
	if err != nil {
		return nil, errors.Join(domain.ErrMediaAcquisition, err)
	}
	return src, nil
}
