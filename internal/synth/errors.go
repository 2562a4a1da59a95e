package synth

import (
	"context"
	"errors"
)

// Failure taxonomy for synthesis and playback. ErrCancelled is the only
// expected member: it marks intentional supersession and is swallowed at the
// point of cancellation, never announced or logged as a failure.
var (
	// ErrNetwork indicates a transport or service failure from the
	// networked backend.
	ErrNetwork = errors.New("synthesis service unreachable")

	// ErrEmptyAsset indicates the service reported success but produced a
	// zero-byte or unreadable payload. Treated identically to ErrNetwork.
	ErrEmptyAsset = errors.New("synthesis produced an empty asset")

	// ErrEngine indicates the local synthesis engine failed.
	ErrEngine = errors.New("local speech engine failed")

	// ErrDevice indicates the audio output device failed to start or
	// continue playback.
	ErrDevice = errors.New("audio device failure")

	// ErrCancelled marks work discarded by intentional supersession.
	ErrCancelled = errors.New("synthesis cancelled")

	// ErrPauseUnsupported is returned by backends that cannot suspend
	// playback mid-utterance; the local engine is one.
	ErrPauseUnsupported = errors.New("backend cannot pause")
)

// IsCancelled reports whether err stems from intentional supersession,
// including plain context cancellation surfaced by an underlying call.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
