package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// PipelineConfig tunes the microphone sampler and segmenter.
type PipelineConfig struct {
	SampleEvery time.Duration
	Segmenter   SegmenterConfig
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SampleEvery: 20 * time.Millisecond,
		Segmenter:   DefaultSegmenterConfig(),
	}
}

// TranslationPipeline runs independently of the camera/screen-share mesh:
// it segments the local microphone into utterances for the translation
// backend and decides, per remote speaker, whether their live audio plays
// or a translated substitute does.
type TranslationPipeline struct {
	cfg      PipelineConfig
	ch       core.TranslateChannel
	playback core.Playback

	mu      sync.Mutex
	prefs   domain.TranslationPreferences
	langs   map[domain.ParticipantID]string
	live    map[domain.ParticipantID]bool
	tracked map[domain.ParticipantID]bool

	seg    *Segmenter
	cancel context.CancelFunc
	ticker *time.Ticker
	wg     sync.WaitGroup
}

func NewTranslationPipeline(cfg PipelineConfig, ch core.TranslateChannel, playback core.Playback, prefs domain.TranslationPreferences) *TranslationPipeline {
	p := &TranslationPipeline{
		cfg:      cfg,
		ch:       ch,
		playback: playback,
		prefs:    prefs,
		langs:    make(map[domain.ParticipantID]string),
		live:     make(map[domain.ParticipantID]bool),
		tracked:  make(map[domain.ParticipantID]bool),
	}
	p.seg = NewSegmenter(cfg.Segmenter, p.sendUtterance)
	return p
}

// Start connects the stream, announces preferences and begins sampling the
// microphone. Capturing continues regardless of translation responses.
func (p *TranslationPipeline) Start(ctx context.Context, mic core.LocalMedia) error {
	if err := p.ch.Connect(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	prefs := p.prefs
	p.mu.Unlock()
	if err := p.ch.AnnouncePrefs(prefs); err != nil {
		log.Error().Err(err).Str("module", "app.pipeline").Msg("announce prefs")
	}
	if err := p.ch.RequestLanguages(); err != nil {
		log.Error().Err(err).Str("module", "app.pipeline").Msg("request languages")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.ticker = time.NewTicker(p.cfg.SampleEvery)

	p.wg.Add(2)
	go p.sampleLoop(ctx, mic)
	go p.eventLoop(ctx)
	return nil
}

// Stop cancels the sampler ticker, drops any open utterance and closes the
// stream. Safe to call more than once.
func (p *TranslationPipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.ticker.Stop()
	p.wg.Wait()
	p.seg.Reset()
	if err := p.ch.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.pipeline").Msg("close translate channel")
	}
	p.playback.Stop()
	p.cancel = nil
}

// sampleLoop polls the microphone on a fixed cadence. The ticker is owned
// here and stopped only by Stop — never left running after teardown.
func (p *TranslationPipeline) sampleLoop(ctx context.Context, mic core.LocalMedia) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ticker.C:
			frame, err := mic.ReadAudioFrame()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Warn().Err(err).Str("module", "app.pipeline").Msg("mic read")
				}
				return
			}
			p.seg.Feed(frame, time.Now())
		}
	}
}

func (p *TranslationPipeline) eventLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.ch.Events():
			if !ok {
				return
			}
			p.handleEvent(ev)
		}
	}
}

func (p *TranslationPipeline) handleEvent(ev core.TranslateEvent) {
	switch e := ev.(type) {
	case core.EvLanguages:
		p.mu.Lock()
		for pid, lang := range e.Languages {
			p.langs[pid] = lang
		}
		p.applyPolicyLocked()
		p.mu.Unlock()
		log.Debug().Str("module", "app.pipeline").Int("entries", len(e.Languages)).Msg("language map refreshed")
	case core.EvTranslatedAudio:
		p.mu.Lock()
		lang, known := p.langs[e.Speaker]
		local := p.prefs.Language
		p.mu.Unlock()
		// Same-language speakers are heard live; their pushes are ignored.
		if known && lang == local {
			return
		}
		if err := p.playback.PlayTranslated(e.Speaker, e.Audio); err != nil {
			log.Warn().Err(err).Str("module", "app.pipeline").Str("speaker", string(e.Speaker)).Msg("play translated")
		}
	case core.EvTranslateUp:
		if e.Resumed {
			log.Info().Str("module", "app.pipeline").Msg("translate stream resumed")
		}
	}
}

// TrackRemote registers an inbound remote audio source and applies the
// playback policy to it.
func (p *TranslationPipeline) TrackRemote(pid domain.ParticipantID) {
	p.mu.Lock()
	p.tracked[pid] = true
	p.applyPolicyLocked()
	p.mu.Unlock()
}

func (p *TranslationPipeline) DropRemote(pid domain.ParticipantID) {
	p.mu.Lock()
	delete(p.tracked, pid)
	delete(p.live, pid)
	p.mu.Unlock()
}

// SetPreferences re-announces and re-evaluates the muting policy.
func (p *TranslationPipeline) SetPreferences(prefs domain.TranslationPreferences) {
	p.mu.Lock()
	p.prefs = prefs
	p.applyPolicyLocked()
	p.mu.Unlock()
	if err := p.ch.AnnouncePrefs(prefs); err != nil {
		log.Error().Err(err).Str("module", "app.pipeline").Msg("announce prefs")
	}
}

// RefreshLanguages asks the backend for the current declared-language map.
func (p *TranslationPipeline) RefreshLanguages() error {
	return p.ch.RequestLanguages()
}

// applyPolicyLocked enforces: live audio for P is enabled iff P declared the
// local language. Speakers the map does not know yet stay audible. The
// check against the last applied state keeps this idempotent.
func (p *TranslationPipeline) applyPolicyLocked() {
	for pid := range p.tracked {
		lang, known := p.langs[pid]
		want := !known || lang == p.prefs.Language
		if last, ok := p.live[pid]; ok && last == want {
			continue
		}
		p.playback.SetLiveEnabled(pid, want)
		p.live[pid] = want
	}
}

func (p *TranslationPipeline) sendUtterance(audio []byte) {
	if err := p.ch.SendUtterance(audio); err != nil {
		log.Warn().Err(err).Str("module", "app.pipeline").Int("bytes", len(audio)).Msg("send utterance")
	}
}
