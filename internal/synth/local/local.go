// Package local is the offline synthesis backend. It shells out to the
// platform speech tool and plays through it directly: generation and playback
// are one synchronous step, there is no asset and no true pause.
package local

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ityeti/herald/internal/synth"
)

// command builds the argv for one utterance on the current platform.
type command func(text, voice string, rateWPM int) []string

// Platform speech tools, probed in order. The rate flag conventions differ:
// say takes words per minute directly, espeak takes its own wpm flag, and
// SAPI rates are mapped from wpm onto its -10..10 scale.
var candidates = map[string][]struct {
	bin   string
	build command
}{
	"darwin": {
		{"say", func(text, voice string, rate int) []string {
			args := []string{"-r", strconv.Itoa(rate)}
			if voice != "" {
				args = append(args, "-v", voice)
			}
			return append(args, text)
		}},
	},
	"linux": {
		{"espeak-ng", espeakArgs},
		{"espeak", espeakArgs},
	},
	"windows": {
		{"powershell", func(text, voice string, rate int) []string {
			script := "Add-Type -AssemblyName System.Speech;" +
				"$s = New-Object System.Speech.Synthesis.SpeechSynthesizer;"
			if voice != "" {
				script += fmt.Sprintf("$s.SelectVoice(%q);", voice)
			}
			script += fmt.Sprintf("$s.Rate = %d;", sapiRate(rate))
			script += "$s.Speak([Console]::In.ReadToEnd());"
			return []string{"-NoProfile", "-Command", script}
		}},
	},
}

func espeakArgs(text, voice string, rate int) []string {
	args := []string{"-s", strconv.Itoa(rate)}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	return append(args, text)
}

// sapiRate maps words per minute onto SAPI's -10..10 scale, with 180 wpm as
// the 0 midpoint.
func sapiRate(wpm int) int {
	r := (wpm - 180) / 15
	if r < -10 {
		r = -10
	}
	if r > 10 {
		r = 10
	}
	return r
}

// Backend speaks through the platform speech binary.
type Backend struct {
	bin     string
	build   command
	voice   string
	rateWPM int
	stdin   bool // feed text on stdin instead of argv (windows)

	mu     sync.Mutex
	cancel context.CancelFunc
	logger *log.Logger
}

// New probes for a usable speech binary and returns the backend, or
// ErrEngine when the platform has none.
func New(voice string, rateWPM int) (*Backend, error) {
	for _, c := range candidates[runtime.GOOS] {
		path, err := exec.LookPath(c.bin)
		if err != nil {
			continue
		}
		b := &Backend{
			bin:     path,
			build:   c.build,
			voice:   voice,
			rateWPM: rateWPM,
			stdin:   runtime.GOOS == "windows",
			logger:  log.WithPrefix("local"),
		}
		b.logger.Debug("local engine selected", "bin", path)
		return b, nil
	}
	return nil, fmt.Errorf("%w: no speech binary found for %s", synth.ErrEngine, runtime.GOOS)
}

func (b *Backend) Name() string { return "local" }

func (b *Backend) Voice() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voice
}

// SetVoice changes the voice used for subsequent utterances.
func (b *Backend) SetVoice(voice string) {
	b.mu.Lock()
	b.voice = voice
	b.mu.Unlock()
}

// SetRate updates the words-per-minute used for subsequent utterances.
func (b *Backend) SetRate(wpm int) {
	b.mu.Lock()
	b.rateWPM = wpm
	b.mu.Unlock()
}

// Speak synthesizes and plays text, blocking until the utterance finishes,
// Stop is called, or ctx is cancelled.
func (b *Backend) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel() // supersede any in-flight utterance
	}
	b.cancel = cancel
	args := b.build(text, b.voice, b.rateWPM)
	b.mu.Unlock()
	defer cancel()

	cmd := exec.CommandContext(ctx, b.bin, args...)
	if b.stdin {
		cmd.Stdin = strings.NewReader(text)
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", synth.ErrCancelled, ctx.Err())
		}
		return fmt.Errorf("%w: %s: %v", synth.ErrEngine, b.bin, err)
	}
	return nil
}

// Stop interrupts the current utterance, if any.
func (b *Backend) Stop() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.mu.Unlock()
}
