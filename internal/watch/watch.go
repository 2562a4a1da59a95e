// Package watch polls an external text source on a fixed interval and
// re-triggers reading when the on-screen text has changed enough. It runs on
// its own timer and communicates with the rest of the system only by issuing
// speak requests.
package watch

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
)

// TextSource yields the current text of the watched region. The OCR capture
// behind it is an external collaborator.
type TextSource interface {
	Text(ctx context.Context) (string, error)
}

// SpeakFunc hands changed text to the playback controller. It must not
// block: the controller accepts requests asynchronously and supersedes
// whatever is playing.
type SpeakFunc func(text string)

// Watcher drives the auto-read loop.
type Watcher struct {
	source    TextSource
	speak     SpeakFunc
	interval  time.Duration
	threshold float64

	// Metric is consulted each tick. Defaults to ChangedLineFraction.
	Metric ChangeMetric

	mu   sync.Mutex
	last string

	logger *log.Logger
}

// New builds a watcher. threshold is the minimum change fraction that
// triggers a read.
func New(source TextSource, speak SpeakFunc, interval time.Duration, threshold float64) *Watcher {
	return &Watcher{
		source:    source,
		speak:     speak,
		interval:  interval,
		threshold: threshold,
		Metric:    ChangedLineFraction,
		logger:    log.WithPrefix("watch"),
	}
}

// Run polls until ctx is cancelled. At most one speak request is issued per
// tick; a request already in flight is superseded by the controller, never
// queued behind. Source errors are logged and the loop keeps going.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("auto-read started",
		"interval", w.interval, "threshold", w.threshold)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("auto-read stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx, false)
		}
	}
}

// ReadNow forces an immediate capture and read, bypassing the threshold.
func (w *Watcher) ReadNow(ctx context.Context) {
	w.poll(ctx, true)
}

func (w *Watcher) poll(ctx context.Context, force bool) {
	text, err := w.source.Text(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("text capture failed", "err", err)
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	w.mu.Lock()
	fraction := w.Metric(w.last, text)
	trigger := force || fraction >= w.threshold
	if trigger {
		w.last = text
	}
	w.mu.Unlock()

	if !trigger {
		w.logger.Debug("below threshold", "fraction", fraction)
		return
	}
	w.logger.Info("text changed, reading", "fraction", fraction, "chars", len(text))
	w.speak(text)
}

// Snapshot returns the last text that triggered a read.
func (w *Watcher) Snapshot() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// CommandSource captures text by running an external command (typically an
// OCR helper) and reading its stdout.
type CommandSource struct {
	Argv []string
}

func (s CommandSource) Text(ctx context.Context) (string, error) {
	if len(s.Argv) == 0 {
		return "", errors.New("watch: no capture command configured")
	}
	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ClipboardSource captures the system clipboard.
type ClipboardSource struct{}

func (ClipboardSource) Text(ctx context.Context) (string, error) {
	return clipboard.ReadAll()
}
