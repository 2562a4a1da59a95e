// Package controller owns the playback state machine: the single point of
// truth for what is currently happening. All state writes occur on one
// goroutine; public methods marshal onto it, giving linearizable ordering of
// transitions. Async synthesis and playback results carry a generation number
// and are dropped when the queue they belong to has been superseded.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ityeti/herald/internal/config"
	"github.com/ityeti/herald/internal/prefetch"
	"github.com/ityeti/herald/internal/queue"
	"github.com/ityeti/herald/internal/synth"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("controller closed")

// Player is the controller's view of the audio output.
type Player interface {
	Start(asset *synth.Asset) (Playback, error)
}

// Playback is one in-flight rendering on the exclusive device.
type Playback interface {
	Pause() error
	Resume() error
	Stop()
	Done() <-chan struct{}
	Err() error
	Position() time.Duration
}

// Announcer voices failures. Satisfied by *announce.Announcer.
type Announcer interface {
	Announce(ctx context.Context, reason error)
}

// RateSetter is implemented by backends whose speaking rate can change
// between requests.
type RateSetter interface {
	SetRate(wpm int)
}

// VoiceSetter is implemented by backends whose voice can change between
// requests.
type VoiceSetter interface {
	SetVoice(voice string)
}

// Options wires the controller's collaborators.
type Options struct {
	Synthesizer synth.Synthesizer // networked backend; nil disables neural mode
	Speaker     synth.Speaker     // local backend
	Player      Player
	Announcer   Announcer
	Settings    config.Settings
}

// Controller drives line-by-line playback.
type Controller struct {
	opts      Options
	pipeline  *prefetch.Pipeline
	logger    *log.Logger
	lifecycle context.Context
	shutdown  context.CancelFunc
	cmds      chan command

	// Everything below is touched only on the run goroutine.
	state     State
	settings  config.Settings
	queue     *queue.Queue
	useLocal  bool
	gen       uint64
	genCancel context.CancelFunc
	playback  Playback
	asset     *synth.Asset
	pfHandle  *prefetch.Handle
	retried   bool
	listeners []Listener
}

type command struct {
	run   func()
	reply chan error
}

// New builds the controller and starts its run goroutine.
func New(opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:      opts,
		settings:  opts.Settings,
		logger:    log.WithPrefix("controller"),
		lifecycle: ctx,
		shutdown:  cancel,
		cmds:      make(chan command),
		state:     StateIdle,
	}
	if opts.Synthesizer != nil {
		c.pipeline = prefetch.New(opts.Synthesizer)
	}
	go c.run()
	return c
}

// Close stops the run goroutine. Outstanding playback and generation are
// cancelled.
func (c *Controller) Close() {
	c.do(func() error {
		c.supersede()
		c.queue = nil
		c.setState(StateIdle)
		return nil
	})
	c.shutdown()
}

// OnStateChange registers a listener for state-change events.
func (c *Controller) OnStateChange(fn Listener) {
	c.do(func() error {
		c.listeners = append(c.listeners, fn)
		return nil
	})
}

// State returns the current state.
func (c *Controller) State() State {
	s := StateIdle
	c.do(func() error {
		s = c.state
		return nil
	})
	return s
}

// Speak replaces whatever is queued or playing with a fresh queue built from
// text. An empty (or all-junk) text lands the controller in Idle.
func (c *Controller) Speak(text string, source queue.Source) error {
	return c.do(func() error { return c.handleSpeak(text, source) })
}

// Pause suspends speaking. Only the networked backend can pause; the local
// engine has no suspend, so in local mode this is rejected and state is left
// unchanged.
func (c *Controller) Pause() error {
	return c.do(func() error { return c.handlePause() })
}

// Resume continues a paused line from its suspended position.
func (c *Controller) Resume() error {
	return c.do(func() error { return c.handleResume() })
}

// SkipNext cancels the current line and moves to the next, or Idle at the
// end of the queue.
func (c *Controller) SkipNext() error {
	return c.do(func() error { return c.handleSkip(true) })
}

// SkipPrevious cancels the current line and moves back one, or Idle when
// already at the first line.
func (c *Controller) SkipPrevious() error {
	return c.do(func() error { return c.handleSkip(false) })
}

// Stop cancels everything and returns to Idle, discarding queue and assets.
func (c *Controller) Stop() error {
	return c.do(func() error {
		c.supersede()
		c.queue = nil
		c.setState(StateIdle)
		return nil
	})
}

// SetRate changes the speaking rate for subsequent lines, clamped to the
// supported range, and speaks a short confirmation.
func (c *Controller) SetRate(wpm int) error {
	return c.do(func() error { return c.handleSetRate(config.ClampRate(wpm), "") })
}

// AdjustRate nudges the rate by delta words per minute.
func (c *Controller) AdjustRate(delta int) error {
	return c.do(func() error {
		wpm := config.ClampRate(c.settings.RateWPM + delta)
		word := "Faster"
		if delta < 0 {
			word = "Slower"
		}
		if wpm == config.MaxRateWPM {
			word = "Maximum speed"
		} else if wpm == config.MinRateWPM {
			word = "Minimum speed"
		}
		return c.handleSetRate(wpm, word)
	})
}

// SetVoice changes the voice used for subsequent lines and announces the
// change.
func (c *Controller) SetVoice(voice string) error {
	return c.do(func() error {
		c.settings.Voice = voice
		for _, b := range []any{c.opts.Synthesizer, c.opts.Speaker} {
			if vs, ok := b.(VoiceSetter); ok {
				vs.SetVoice(voice)
			}
		}
		c.confirm("Voice changed to " + voice)
		return nil
	})
}

// do runs fn on the controller goroutine and waits for its result.
func (c *Controller) do(fn func() error) error {
	select {
	case <-c.lifecycle.Done():
		return ErrClosed
	default:
	}
	cmd := command{reply: make(chan error, 1)}
	cmd.run = func() { cmd.reply <- fn() }
	select {
	case c.cmds <- cmd:
		return <-cmd.reply
	case <-c.lifecycle.Done():
		return ErrClosed
	}
}

// post runs fn on the controller goroutine without waiting. Used by async
// completions.
func (c *Controller) post(fn func()) {
	cmd := command{run: fn}
	select {
	case c.cmds <- cmd:
	case <-c.lifecycle.Done():
	}
}

func (c *Controller) run() {
	for {
		select {
		case cmd := <-c.cmds:
			cmd.run()
		case <-c.lifecycle.Done():
			return
		}
	}
}

// --- handlers: everything below runs on the controller goroutine ---

func (c *Controller) handleSpeak(text string, source queue.Source) error {
	c.supersede()

	c.useLocal = c.settings.Engine == config.EngineLocal || c.opts.Synthesizer == nil
	q := queue.Build(text, source)
	c.queue = q
	if q.Len() == 0 {
		c.logger.Info("nothing to speak", "source", source)
		c.setState(StateIdle)
		return nil
	}

	c.logger.Info("speak request", "source", source, "lines", q.Len(),
		"engine", c.engineName())
	line, _ := q.Advance()
	c.retried = false
	c.startLine(line)
	return nil
}

func (c *Controller) handlePause() error {
	if c.state != StateSpeaking {
		return fmt.Errorf("cannot pause while %s", c.state)
	}
	if c.useLocal {
		// The local engine renders inside its own process; there is no
		// suspend. State is left untouched.
		c.logger.Debug("pause rejected", "reason", "local engine")
		return synth.ErrPauseUnsupported
	}
	if err := c.playback.Pause(); err != nil {
		return err
	}
	c.setState(StatePaused)
	return nil
}

func (c *Controller) handleResume() error {
	if c.state != StatePaused {
		return fmt.Errorf("cannot resume while %s", c.state)
	}
	if err := c.playback.Resume(); err != nil {
		return err
	}
	c.setState(StateSpeaking)
	return nil
}

func (c *Controller) handleSkip(forward bool) error {
	if c.state == StateIdle {
		return errors.New("nothing is playing")
	}
	c.supersede()

	var line queue.Line
	var ok bool
	if forward {
		line, ok = c.queue.Advance()
	} else {
		line, ok = c.queue.Retreat()
	}
	if !ok {
		c.setState(StateIdle)
		return nil
	}
	c.retried = false
	c.startLine(line)
	return nil
}

func (c *Controller) handleSetRate(wpm int, confirmation string) error {
	c.settings.RateWPM = wpm
	for _, b := range []any{c.opts.Synthesizer, c.opts.Speaker} {
		if rs, ok := b.(RateSetter); ok {
			rs.SetRate(wpm)
		}
	}
	c.logger.Info("rate changed", "wpm", wpm)
	if confirmation == "" {
		confirmation = fmt.Sprintf("Speed set to %d words per minute", wpm)
	}
	c.confirm(confirmation)
	return nil
}

// confirm speaks a short acknowledgement through the local engine without
// touching the state machine.
func (c *Controller) confirm(phrase string) {
	if c.opts.Speaker == nil {
		return
	}
	go c.opts.Speaker.Speak(c.lifecycle, phrase)
}

// supersede invalidates all in-flight work for the current queue: bumps the
// generation, cancels generation and prefetch, halts playback and discards
// the current asset. Results from the old generation that arrive later are
// dropped on the floor.
func (c *Controller) supersede() {
	c.gen++
	if c.genCancel != nil {
		c.genCancel()
		c.genCancel = nil
	}
	if c.pipeline != nil && c.pfHandle != nil {
		c.pipeline.Cancel(c.pfHandle)
		c.pfHandle = nil
	}
	if c.playback != nil {
		c.playback.Stop()
		c.playback = nil
	}
	if c.asset != nil {
		c.asset.Release()
		c.asset = nil
	}
	if c.useLocal && c.opts.Speaker != nil {
		c.opts.Speaker.Stop()
	}
}

// startLine begins synthesis for line on the current generation.
func (c *Controller) startLine(line queue.Line) {
	c.setState(StateGenerating)
	if c.useLocal {
		c.startLocalLine(line)
		return
	}

	// Reuse the prefetched asset when it is for this exact line.
	if h := c.pfHandle; h != nil && h.Line.Index == line.Index {
		c.pfHandle = nil
		c.adoptPrefetch(line, h)
		return
	}
	if c.pfHandle != nil {
		c.pipeline.Cancel(c.pfHandle)
		c.pfHandle = nil
	}

	ctx, cancel := context.WithCancel(c.lifecycle)
	c.genCancel = cancel
	g := c.gen
	go func() {
		asset, err := c.opts.Synthesizer.Synthesize(ctx, line.Text)
		c.post(func() { c.finishGeneration(g, line, asset, err) })
	}()
}

// adoptPrefetch turns an in-flight (or finished) prefetch into the current
// generation's synthesis.
func (c *Controller) adoptPrefetch(line queue.Line, h *prefetch.Handle) {
	g := c.gen
	go func() {
		<-h.Done()
		asset, err := h.Take()
		c.post(func() { c.finishGeneration(g, line, asset, err) })
	}()
}

func (c *Controller) startLocalLine(line queue.Line) {
	ctx, cancel := context.WithCancel(c.lifecycle)
	c.genCancel = cancel
	g := c.gen
	// Local synthesis plays as it generates; the two are one step.
	c.setState(StateSpeaking)
	go func() {
		err := c.opts.Speaker.Speak(ctx, line.Text)
		c.post(func() { c.finishLine(g, line, err) })
	}()
}

// finishGeneration applies a synthesis result, unless its generation has
// been superseded — a cancelled task may complete before it observes the
// cancel, so the generation check is what guarantees a stale result can
// never resurrect an old queue.
func (c *Controller) finishGeneration(g uint64, line queue.Line, asset *synth.Asset, err error) {
	if g != c.gen {
		asset.Release()
		return
	}
	if err == nil && !asset.Valid() {
		err = fmt.Errorf("%w: asset vanished before playback", synth.ErrEmptyAsset)
	}
	if err != nil {
		asset.Release()
		if synth.IsCancelled(err) {
			return
		}
		c.failLine(line, err)
		return
	}

	pb, startErr := c.opts.Player.Start(asset)
	if startErr != nil {
		asset.Release()
		c.failLine(line, fmt.Errorf("%w: %v", synth.ErrDevice, startErr))
		return
	}
	c.playback = pb
	c.asset = asset
	c.genCancel = nil
	c.setState(StateSpeaking)

	// While this line plays, generate the next one in the background.
	if next, ok := c.queue.Peek(); ok && c.pipeline != nil {
		c.pfHandle = c.pipeline.Prefetch(c.lifecycle, next)
	}

	go func() {
		<-pb.Done()
		c.post(func() { c.finishLine(g, line, pb.Err()) })
	}()
}

// finishLine handles the end of a line's playback, normal or not.
func (c *Controller) finishLine(g uint64, line queue.Line, err error) {
	if g != c.gen {
		return
	}
	c.playback = nil
	if c.asset != nil {
		c.asset.Release() // expiry: an asset is deleted once played
		c.asset = nil
	}
	if err != nil {
		if synth.IsCancelled(err) {
			return
		}
		c.failLine(line, err)
		return
	}

	if delay := time.Duration(c.settings.LineDelayMs) * time.Millisecond; delay > 0 {
		go func() {
			select {
			case <-time.After(delay):
				c.post(func() {
					if g == c.gen {
						c.advanceLine()
					}
				})
			case <-c.lifecycle.Done():
			}
		}()
		return
	}
	c.advanceLine()
}

// failLine applies the failure policy: announce once per line, retry the
// line once, then skip it. Failures never propagate out of the controller.
func (c *Controller) failLine(line queue.Line, err error) {
	c.logger.Error("line failed", "line", line.Index, "retried", c.retried, "err", err)
	if !c.retried {
		c.retried = true
		if c.opts.Announcer != nil {
			go c.opts.Announcer.Announce(c.lifecycle, err)
		}
		c.startLine(line)
		return
	}
	c.logger.Warn("skipping line after failed retry", "line", line.Index)
	c.advanceLine()
}

func (c *Controller) advanceLine() {
	c.retried = false
	next, ok := c.queue.Advance()
	if !ok {
		c.logger.Info("queue exhausted")
		if c.pipeline != nil && c.pfHandle != nil {
			c.pipeline.Cancel(c.pfHandle)
			c.pfHandle = nil
		}
		c.setState(StateIdle)
		return
	}
	c.startLine(next)
}

func (c *Controller) setState(s State) {
	if c.state == s && s != StateGenerating {
		return
	}
	c.state = s
	ev := Event{
		State:      s,
		Voice:      c.settings.Voice,
		Backend:    c.engineName(),
		LineIndex:  -1,
		TotalLines: 0,
	}
	if c.queue != nil {
		ev.LineIndex = c.queue.Cursor()
		ev.TotalLines = c.queue.Len()
	}
	c.logger.Debug("state", "state", s, "line", ev.LineIndex, "total", ev.TotalLines)
	for _, fn := range c.listeners {
		fn(ev)
	}
}

func (c *Controller) engineName() string {
	if c.useLocal {
		if c.opts.Speaker != nil {
			return c.opts.Speaker.Name()
		}
		return config.EngineLocal
	}
	if c.opts.Synthesizer != nil {
		return c.opts.Synthesizer.Name()
	}
	return config.EngineNeural
}
