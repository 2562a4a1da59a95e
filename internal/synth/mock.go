package synth

import (
	"context"
	"os"
	"sync"
)

// MockSynthesizer is a scriptable networked backend for tests. Each call
// pops the next result from Script; an empty script synthesizes a small
// valid asset.
type MockSynthesizer struct {
	mu     sync.Mutex
	Script []func(ctx context.Context, text string) (*Asset, error)
	Calls  []string
	VoiceN string
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (*Asset, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, text)
	var fn func(context.Context, string) (*Asset, error)
	if len(m.Script) > 0 {
		fn = m.Script[0]
		m.Script = m.Script[1:]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return TempAsset(text)
}

func (m *MockSynthesizer) Name() string { return "mock-neural" }

func (m *MockSynthesizer) Voice() string {
	if m.VoiceN != "" {
		return m.VoiceN
	}
	return "mock-voice"
}

// CallCount returns how many synthesis calls were made.
func (m *MockSynthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// TempAsset writes a small throwaway payload to disk and wraps it as a valid
// asset.
func TempAsset(text string) (*Asset, error) {
	f, err := os.CreateTemp("", "herald-test-*.mp3")
	if err != nil {
		return nil, err
	}
	f.WriteString("audio:" + text)
	f.Close()
	return NewAsset(f.Name(), "mock-neural")
}

// EmptyAsset creates a zero-byte file and returns the ErrEmptyAsset failure
// the validation contract requires, mimicking the dominant observed failure
// mode of the real service.
func EmptyAsset() (*Asset, error) {
	f, err := os.CreateTemp("", "herald-test-*.mp3")
	if err != nil {
		return nil, err
	}
	f.Close()
	return NewAsset(f.Name(), "mock-neural")
}

// MockSpeaker is a scriptable local backend for tests.
type MockSpeaker struct {
	mu      sync.Mutex
	Err     error
	Spoken  []string
	stopped bool
}

func (m *MockSpeaker) Speak(ctx context.Context, text string) error {
	m.mu.Lock()
	m.Spoken = append(m.Spoken, text)
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func (m *MockSpeaker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *MockSpeaker) Name() string  { return "mock-local" }
func (m *MockSpeaker) Voice() string { return "mock-local-voice" }

// Stopped reports whether Stop was called.
func (m *MockSpeaker) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// SpokenCount returns how many utterances were spoken.
func (m *MockSpeaker) SpokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Spoken)
}
