package domain

// TranslationPreferences lives for the whole process; persistence across
// runs belongs to the environment, not to this package.
type TranslationPreferences struct {
	Language    string `json:"user_language"`
	VoiceGender string `json:"voice_gender"`
	GestureMode bool   `json:"gesture_mode"`
}

// Utterance is one contiguous segment of detected speech. It exists only
// between the segmenter flush and the transport send.
type Utterance struct {
	Speaker ParticipantID
	Audio   []byte
}
