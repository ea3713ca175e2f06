package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiveGateDefaultsAudible(t *testing.T) {
	r := NewRecorder(t.TempDir())
	defer r.Stop()

	assert.True(t, r.LiveEnabled("bob"), "unlisted participants stay audible")

	r.SetLiveEnabled("bob", false)
	assert.False(t, r.LiveEnabled("bob"))

	r.SetLiveEnabled("bob", true)
	assert.True(t, r.LiveEnabled("bob"))
}

func TestStopResetsGates(t *testing.T) {
	r := NewRecorder(t.TempDir())

	r.SetLiveEnabled("bob", false)
	r.Stop()
	assert.True(t, r.LiveEnabled("bob"), "gates reset to audible on stop")
}

func TestPlayTranslatedRejectsGarbage(t *testing.T) {
	r := NewRecorder(t.TempDir())
	defer r.Stop()

	err := r.PlayTranslated("bob", []byte("definitely not an mp3"))
	assert.Error(t, err)
}
