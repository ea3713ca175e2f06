package app

import (
	"encoding/binary"
	"math"
	"time"
)

// SegmenterConfig tunes the energy-gated utterance detector.
type SegmenterConfig struct {
	// Threshold is normalized RMS (0..1); frames above it count as speech.
	Threshold float64
	// Hangover is the silence length that ends an open utterance. Gaps
	// shorter than this merge into the surrounding burst.
	Hangover time.Duration
	// MinUtteranceBytes discards flushed segments too short to be speech.
	MinUtteranceBytes int
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Threshold:         0.02,
		Hangover:          180 * time.Millisecond,
		MinUtteranceBytes: 3200, // 100ms of 16kHz 16-bit mono
	}
}

// Segmenter turns a stream of PCM frames into utterances. It is purely
// deterministic: callers feed frames with their observation time, so tests
// drive it with a synthetic clock.
type Segmenter struct {
	cfg   SegmenterConfig
	flush func(audio []byte)

	open        bool
	inSilence   bool
	silentSince time.Time
	buf         []byte
}

func NewSegmenter(cfg SegmenterConfig, flush func(audio []byte)) *Segmenter {
	return &Segmenter{cfg: cfg, flush: flush}
}

// Feed processes one 16-bit LE mono frame observed at now.
func (s *Segmenter) Feed(frame []byte, now time.Time) {
	if len(frame) == 0 {
		return
	}
	if FrameEnergy(frame) > s.cfg.Threshold {
		if !s.open {
			s.open = true
			s.buf = s.buf[:0]
		}
		// Energy rose again: the pending silence never reached the
		// hangover, so the pause stays inside this utterance.
		s.inSilence = false
		s.buf = append(s.buf, frame...)
		return
	}

	if !s.open {
		return
	}
	if !s.inSilence {
		s.inSilence = true
		s.silentSince = now
	}
	s.buf = append(s.buf, frame...)
	if now.Sub(s.silentSince) >= s.cfg.Hangover {
		s.close()
	}
}

// Reset drops any open utterance without flushing it. Teardown calls this
// so a half-captured segment is never sent after leave.
func (s *Segmenter) Reset() {
	s.open = false
	s.inSilence = false
	s.buf = s.buf[:0]
}

func (s *Segmenter) close() {
	audio := s.buf
	s.open = false
	s.inSilence = false
	s.buf = nil
	if len(audio) < s.cfg.MinUtteranceBytes {
		return // noise, not speech
	}
	s.flush(audio)
}

// FrameEnergy is the normalized RMS of a 16-bit LE mono frame.
func FrameEnergy(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(frame[2*i:]))
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum/float64(n)) / 32768
}
