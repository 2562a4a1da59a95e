// Package synth defines the synthesis backend contracts shared by the
// playback pipeline: a networked engine that produces playable assets and a
// local engine that synthesizes and plays in one step.
package synth

import "context"

// Synthesizer is the networked backend. Synthesize converts one line of text
// into a playable asset or fails. Implementations must size-validate their
// output: a zero-byte or unreadable result is a failure (ErrEmptyAsset), not
// a success. The call honors ctx cancellation and must release any partial
// output when cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Asset, error)
	Name() string
	Voice() string
}

// Speaker is the local backend. Speak synthesizes and plays synchronously,
// occupying the caller until audio finishes or ctx is cancelled. There is no
// durable asset and no true pause. Stop interrupts any in-flight utterance.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
	Name() string
	Voice() string
}
