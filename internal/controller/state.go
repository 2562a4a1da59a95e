package controller

// State is the playback controller's externally visible state. Exactly one
// controller exists per process and its state transitions are the only shared
// mutable state in the core.
type State int

const (
	// StateIdle means nothing is queued or playing.
	StateIdle State = iota
	// StateGenerating means synthesis is in flight for the current line.
	StateGenerating
	// StateSpeaking means the audio device is rendering the current line.
	StateSpeaking
	// StatePaused means speaking is suspended and resumable.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Event is the state-change notification handed to external consumers (tray,
// UI). LineIndex is -1 when no queue is active.
type Event struct {
	State      State
	Voice      string
	Backend    string
	LineIndex  int
	TotalLines int
}

// Listener receives events on the controller goroutine; implementations must
// return quickly and not call back into the controller synchronously.
type Listener func(Event)
