package core

import (
	"context"

	"github.com/echobridge/meet/internal/domain"
)

// TranslateEvent is the closed set of inbound translation-stream messages.
type TranslateEvent interface{ isTranslateEvent() }

type (
	// EvLanguages is the declared-language map for the room.
	EvLanguages struct {
		Languages map[domain.ParticipantID]string
	}

	// EvTranslatedAudio is one synthesized segment, already base64-decoded.
	EvTranslatedAudio struct {
		Speaker domain.ParticipantID
		Audio   []byte
	}

	// EvTranslateUp fires on (re)connect, after preferences were
	// re-announced and the language map re-requested.
	EvTranslateUp struct{ Resumed bool }
)

func (EvLanguages) isTranslateEvent()       {}
func (EvTranslatedAudio) isTranslateEvent() {}
func (EvTranslateUp) isTranslateEvent()     {}

// TranslateChannel streams control JSON and binary audio to the translation
// backend. It reconnects after a fixed delay on unexpected close unless the
// session is intentionally ending.
type TranslateChannel interface {
	Connect(ctx context.Context) error
	Events() <-chan TranslateEvent
	AnnouncePrefs(prefs domain.TranslationPreferences) error
	RequestLanguages() error
	// SendUtterance ships one detected utterance as a binary frame.
	// The call never waits for a translation response.
	SendUtterance(audio []byte) error
	Close() error
}
