// Package announce guarantees that no failure is ever silent. Failures are
// spoken through the local engine — never through the networked backend that
// just failed — with an alert tone as last resort.
package announce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ityeti/herald/internal/synth"
)

// TonePlayer renders a raw alert tone on the audio device. *audio.Player
// satisfies it.
type TonePlayer interface {
	PlayTone(freq float64, d time.Duration) error
}

const (
	toneFreq     = 880.0
	toneDuration = 300 * time.Millisecond
)

// Announcer speaks short diagnostic phrases on failure paths.
type Announcer struct {
	speaker synth.Speaker
	tone    TonePlayer
	logger  *log.Logger
}

// New builds an announcer over the local engine, with tone as the fallback
// output. tone may be nil, leaving only the terminal bell as last resort.
func New(speaker synth.Speaker, tone TonePlayer) *Announcer {
	return &Announcer{
		speaker: speaker,
		tone:    tone,
		logger:  log.WithPrefix("announce"),
	}
}

// Announce speaks a diagnostic phrase for reason, synchronously. Cancelled
// work is expected supersession and is never announced. If the local engine
// itself fails, an alert tone plays; if the device fails too, the terminal
// bell fires. This path never returns an error because there is nothing
// above it to handle one.
func (a *Announcer) Announce(ctx context.Context, reason error) {
	if reason == nil || synth.IsCancelled(reason) {
		return
	}
	phrase := Phrase(reason)
	a.logger.Warn("announcing failure", "reason", reason, "phrase", phrase)

	if a.speaker != nil {
		if err := a.speaker.Speak(ctx, phrase); err == nil {
			return
		} else if synth.IsCancelled(err) {
			return
		} else {
			a.logger.Error("local engine failed during announcement", "err", err)
		}
	}

	if a.tone != nil {
		if err := a.tone.PlayTone(toneFreq, toneDuration); err == nil {
			return
		} else {
			a.logger.Error("alert tone failed", "err", err)
		}
	}

	// Nothing left but the bell.
	fmt.Fprint(os.Stderr, "\a")
}

// Phrase maps a failure onto the short diagnostic it should speak.
func Phrase(reason error) string {
	switch {
	case errors.Is(reason, synth.ErrEmptyAsset):
		return "Speech service returned no audio."
	case errors.Is(reason, synth.ErrNetwork):
		return "Speech service unavailable."
	case errors.Is(reason, synth.ErrDevice):
		return "Audio device error."
	case errors.Is(reason, synth.ErrEngine):
		return "Speech engine error."
	default:
		return "Read aloud failed."
	}
}
