// Package prefetch generates the next line's audio while the current line
// plays. At most one prefetch is in flight; starting another cancels it.
// Only the networked backend is prefetched — the local engine synthesizes
// and plays in one cheap synchronous step.
package prefetch

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ityeti/herald/internal/queue"
	"github.com/ityeti/herald/internal/synth"
)

// Pipeline owns the single prefetch slot.
type Pipeline struct {
	synth  synth.Synthesizer
	mu     sync.Mutex
	active *Handle
	logger *log.Logger
}

// New returns a pipeline over the given networked backend.
func New(s synth.Synthesizer) *Pipeline {
	return &Pipeline{synth: s, logger: log.WithPrefix("prefetch")}
}

// Handle tracks one prefetch. The pipeline owns the produced asset until the
// controller takes it; a cancelled or never-taken asset is released.
type Handle struct {
	Line queue.Line

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	asset     *synth.Asset
	err       error
	cancelled bool
	taken     bool
}

// Done is closed once generation finishes, successfully or not.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Take transfers asset ownership to the caller. Valid only after Done is
// closed. A cancelled handle yields ErrCancelled.
func (h *Handle) Take() (*synth.Asset, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return nil, synth.ErrCancelled
	}
	h.taken = true
	return h.asset, h.err
}

// Prefetch starts generating audio for line and returns immediately. Any
// previous prefetch is cancelled first, its asset discarded.
func (p *Pipeline) Prefetch(ctx context.Context, line queue.Line) *Handle {
	p.mu.Lock()
	prev := p.active
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{Line: line, cancel: cancel, done: make(chan struct{})}
	p.active = h
	p.mu.Unlock()

	if prev != nil {
		p.cancelHandle(prev)
	}

	go func() {
		defer close(h.done)
		asset, err := p.synth.Synthesize(ctx, line.Text)

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.cancelled {
			// Generation outran cancellation; the result must never
			// resurface. Discard it here.
			asset.Release()
			return
		}
		h.asset, h.err = asset, err
		if err != nil && !synth.IsCancelled(err) {
			p.logger.Debug("prefetch failed", "line", line.Index, "err", err)
		}
	}()
	return h
}

// Cancel aborts the prefetch behind h and discards any produced asset. Safe
// to call on a nil handle, after completion, and more than once.
func (p *Pipeline) Cancel(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if p.active == h {
		p.active = nil
	}
	p.mu.Unlock()
	p.cancelHandle(h)
}

func (p *Pipeline) cancelHandle(h *Handle) {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.taken {
		h.cancelled = true
		return
	}
	h.cancelled = true
	h.asset.Release()
	h.asset = nil
}
