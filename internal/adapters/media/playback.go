package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/echobridge/meet/internal/domain"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog/log"
)

// Recorder implements core.Playback. Live audio is a per-participant gate
// consulted by the render boundary; translated mp3 segments are decoded and
// appended to one WAV file per speaker under OutDir.
type Recorder struct {
	outDir string

	mu    sync.Mutex
	gates map[domain.ParticipantID]bool
	sinks map[domain.ParticipantID]*speakerSink
}

type speakerSink struct {
	file *os.File
	enc  *wav.Encoder
}

func NewRecorder(outDir string) *Recorder {
	return &Recorder{
		outDir: outDir,
		gates:  make(map[domain.ParticipantID]bool),
		sinks:  make(map[domain.ParticipantID]*speakerSink),
	}
}

func (r *Recorder) SetLiveEnabled(id domain.ParticipantID, enabled bool) {
	r.mu.Lock()
	r.gates[id] = enabled
	r.mu.Unlock()
	log.Debug().Str("module", "playback").Str("participant", string(id)).Bool("enabled", enabled).Msg("live audio gate")
}

func (r *Recorder) LiveEnabled(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	enabled, known := r.gates[id]
	// Unlisted participants stay audible.
	return !known || enabled
}

// PlayTranslated decodes one mp3 segment and appends it to the speaker's
// WAV file. Decode failures drop the segment; the stream continues.
func (r *Recorder) PlayTranslated(speaker domain.ParticipantID, segment []byte) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(segment))
	if err != nil {
		return fmt.Errorf("decode segment from %s: %w", speaker, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("read segment from %s: %w", speaker, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sink, ok := r.sinks[speaker]
	if !ok {
		sink, err = r.openSink(speaker, dec.SampleRate())
		if err != nil {
			return err
		}
		r.sinks[speaker] = sink
	}

	// go-mp3 always yields 16-bit little-endian stereo.
	ints := make([]int, len(pcm)/2)
	for i := range ints {
		ints[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: dec.SampleRate()},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := sink.enc.Write(buf); err != nil {
		return fmt.Errorf("write segment from %s: %w", speaker, err)
	}
	log.Debug().Str("module", "playback").Str("speaker", string(speaker)).Int("bytes", len(segment)).Msg("translated segment played")
	return nil
}

func (r *Recorder) openSink(speaker domain.ParticipantID, sampleRate int) (*speakerSink, error) {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(r.outDir, string(speaker)+".wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open playback sink: %w", err)
	}
	return &speakerSink{
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, 16, 2, 1),
	}, nil
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[domain.ParticipantID]*speakerSink)
	r.gates = make(map[domain.ParticipantID]bool)
	r.mu.Unlock()

	for speaker, sink := range sinks {
		if err := sink.enc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "playback").Str("speaker", string(speaker)).Msg("finalize sink")
		}
		_ = sink.file.Close()
	}
}
