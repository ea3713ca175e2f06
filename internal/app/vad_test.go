package app

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcmFrame builds a 16-bit LE mono frame with a constant amplitude.
func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, 2*samples)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[2*i:], uint16(amplitude))
	}
	return frame
}

func TestFrameEnergy(t *testing.T) {
	assert.Zero(t, FrameEnergy(nil))
	assert.Zero(t, FrameEnergy(pcmFrame(0, 320)))
	assert.InDelta(t, 0.5, FrameEnergy(pcmFrame(16384, 320)), 0.001)
	assert.Greater(t, FrameEnergy(pcmFrame(8000, 320)), 0.02)
}

// segmenterRun feeds 20ms frames (320 samples at 16kHz) on a synthetic
// clock: loud where pattern is true, silent otherwise.
func segmenterRun(seg *Segmenter, pattern []bool) {
	now := time.Unix(0, 0)
	for _, loud := range pattern {
		amp := int16(0)
		if loud {
			amp = 8000
		}
		seg.Feed(pcmFrame(amp, 320), now)
		now = now.Add(20 * time.Millisecond)
	}
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSegmenterMergesShortPause(t *testing.T) {
	var flushed [][]byte
	seg := NewSegmenter(DefaultSegmenterConfig(), func(audio []byte) {
		flushed = append(flushed, audio)
	})

	// 300ms speech, 100ms pause, 200ms speech, then 200ms of silence to
	// pass the 180ms hangover. The pause stays inside one utterance.
	var pattern []bool
	pattern = append(pattern, repeat(true, 15)...)
	pattern = append(pattern, repeat(false, 5)...)
	pattern = append(pattern, repeat(true, 10)...)
	pattern = append(pattern, repeat(false, 10)...)
	segmenterRun(seg, pattern)

	require.Len(t, flushed, 1)
	// Everything from the first loud frame through the closing silence.
	assert.Equal(t, 40*640, len(flushed[0]))
}

func TestSegmenterSplitsOnHangover(t *testing.T) {
	var flushed [][]byte
	seg := NewSegmenter(DefaultSegmenterConfig(), func(audio []byte) {
		flushed = append(flushed, audio)
	})

	var pattern []bool
	pattern = append(pattern, repeat(true, 10)...)
	pattern = append(pattern, repeat(false, 12)...)
	pattern = append(pattern, repeat(true, 10)...)
	pattern = append(pattern, repeat(false, 12)...)
	segmenterRun(seg, pattern)

	assert.Len(t, flushed, 2)
}

func TestSegmenterDiscardsShortBurst(t *testing.T) {
	cfg := SegmenterConfig{Threshold: 0.02, Hangover: 60 * time.Millisecond, MinUtteranceBytes: 5000}
	var flushed int
	seg := NewSegmenter(cfg, func([]byte) { flushed++ })

	// 40ms of noise plus the closing silence is under the minimum.
	var pattern []bool
	pattern = append(pattern, repeat(true, 2)...)
	pattern = append(pattern, repeat(false, 5)...)
	segmenterRun(seg, pattern)

	assert.Zero(t, flushed)
}

func TestSegmenterSilenceOnlyNeverFlushes(t *testing.T) {
	var flushed int
	seg := NewSegmenter(DefaultSegmenterConfig(), func([]byte) { flushed++ })
	segmenterRun(seg, repeat(false, 50))
	assert.Zero(t, flushed)
}

func TestSegmenterResetDropsOpenUtterance(t *testing.T) {
	var flushed int
	seg := NewSegmenter(DefaultSegmenterConfig(), func([]byte) { flushed++ })

	segmenterRun(seg, repeat(true, 20))
	seg.Reset()
	segmenterRun(seg, repeat(false, 20))

	assert.Zero(t, flushed)
}
