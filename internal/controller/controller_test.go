package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ityeti/herald/internal/config"
	"github.com/ityeti/herald/internal/queue"
	"github.com/ityeti/herald/internal/synth"
)

type fakePlayback struct {
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
	err     error
	paused  bool
	stopped bool
}

func (p *fakePlayback) finish(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakePlayback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *fakePlayback) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.finish(fmt.Errorf("%w: stopped", synth.ErrCancelled))
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

func (p *fakePlayback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePlayback) Position() time.Duration { return 0 }

func (p *fakePlayback) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// fakePlayer records the payload of every asset handed to it and exposes each
// playback for the test to finish on cue.
type fakePlayer struct {
	mu       sync.Mutex
	payloads []string
	ch       chan *fakePlayback
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{ch: make(chan *fakePlayback, 8)}
}

func (p *fakePlayer) Start(asset *synth.Asset) (Playback, error) {
	data, err := os.ReadFile(asset.Path)
	if err != nil {
		return nil, err
	}
	pb := &fakePlayback{done: make(chan struct{})}
	p.mu.Lock()
	p.payloads = append(p.payloads, string(data))
	p.mu.Unlock()
	p.ch <- pb
	return pb, nil
}

func (p *fakePlayer) next(t *testing.T) *fakePlayback {
	t.Helper()
	select {
	case pb := <-p.ch:
		return pb
	case <-time.After(2 * time.Second):
		t.Fatal("no playback started")
		return nil
	}
}

func (p *fakePlayer) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type recordingAnnouncer struct {
	mu      sync.Mutex
	reasons []error
}

func (a *recordingAnnouncer) Announce(ctx context.Context, reason error) {
	a.mu.Lock()
	a.reasons = append(a.reasons, reason)
	a.mu.Unlock()
}

func (a *recordingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reasons)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(ev Event) {
	r.mu.Lock()
	r.states = append(r.states, ev.State)
	r.mu.Unlock()
}

func (r *stateRecorder) sequence() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

// blockingSpeaker holds each utterance open until its context is cancelled.
type blockingSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	stopped bool
}

func (s *blockingSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	<-ctx.Done()
	return fmt.Errorf("%w: %v", synth.ErrCancelled, ctx.Err())
}

func (s *blockingSpeaker) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *blockingSpeaker) Name() string  { return "blocking-local" }
func (s *blockingSpeaker) Voice() string { return "test" }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func neuralSettings() config.Settings {
	s := config.Default()
	s.Engine = config.EngineNeural
	s.LineDelayMs = 0
	return s
}

func TestTwoLinesPlayInOrder(t *testing.T) {
	ms := &synth.MockSynthesizer{}
	player := newFakePlayer()
	ann := &recordingAnnouncer{}
	rec := &stateRecorder{}

	c := New(Options{Synthesizer: ms, Player: player, Announcer: ann, Settings: neuralSettings()})
	defer c.Close()
	c.OnStateChange(rec.record)

	if err := c.Speak("First line.\nSecond line.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}

	player.next(t).finish(nil)
	player.next(t).finish(nil)
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })

	want := []State{StateGenerating, StateSpeaking, StateGenerating, StateSpeaking, StateIdle}
	got := rec.sequence()
	if len(got) != len(want) {
		t.Fatalf("state sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state sequence = %v, want %v", got, want)
		}
	}
	if ann.count() != 0 {
		t.Fatalf("announcer invoked %d times on a clean run", ann.count())
	}
	if player.payloads[0] != "audio:First line." || player.payloads[1] != "audio:Second line." {
		t.Fatalf("played %v out of order", player.payloads)
	}
	// The second line arrived via the prefetch started during the first, not
	// a third synthesis call.
	if ms.CallCount() != 2 {
		t.Fatalf("synthesis calls = %d, want 2", ms.CallCount())
	}
}

func TestEmptyAssetRetriesOnceThenSkips(t *testing.T) {
	empty := func(ctx context.Context, text string) (*synth.Asset, error) {
		return synth.EmptyAsset()
	}
	ms := &synth.MockSynthesizer{Script: []func(context.Context, string) (*synth.Asset, error){empty, empty}}
	player := newFakePlayer()
	ann := &recordingAnnouncer{}

	c := New(Options{Synthesizer: ms, Player: player, Announcer: ann, Settings: neuralSettings()})
	defer c.Close()

	if err := c.Speak("Doomed line.", queue.SourceSelection); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "idle after retry", func() bool { return c.State() == StateIdle && ms.CallCount() == 2 })

	waitFor(t, "announcement", func() bool { return ann.count() == 1 })
	if !errors.Is(ann.reasons[0], synth.ErrEmptyAsset) {
		t.Fatalf("announced %v, want ErrEmptyAsset", ann.reasons[0])
	}
	if player.startCount() != 0 {
		t.Fatal("empty asset reached the player")
	}
}

func TestFailedLineDoesNotStallQueue(t *testing.T) {
	empty := func(ctx context.Context, text string) (*synth.Asset, error) {
		return synth.EmptyAsset()
	}
	// Line one fails twice (direct attempt then retry); line two was already
	// prefetched successfully and must still play.
	ms := &synth.MockSynthesizer{Script: []func(context.Context, string) (*synth.Asset, error){empty, empty}}
	player := newFakePlayer()
	ann := &recordingAnnouncer{}

	c := New(Options{Synthesizer: ms, Player: player, Announcer: ann, Settings: neuralSettings()})
	defer c.Close()

	if err := c.Speak("Doomed line.\nHealthy line.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}

	pb := player.next(t)
	if player.payloads[0] != "audio:Healthy line." {
		t.Fatalf("played %q, want the second line", player.payloads[0])
	}
	pb.finish(nil)
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })
	if ann.count() != 1 {
		t.Fatalf("announcer invoked %d times, want 1", ann.count())
	}
}

func TestSkipNextDiscardsPrefetch(t *testing.T) {
	release := make(chan struct{})
	blocked := func(ctx context.Context, text string) (*synth.Asset, error) {
		select {
		case <-release:
			return synth.TempAsset(text)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", synth.ErrCancelled, ctx.Err())
		}
	}
	ms := &synth.MockSynthesizer{Script: []func(context.Context, string) (*synth.Asset, error){nil, blocked}}
	player := newFakePlayer()
	ann := &recordingAnnouncer{}

	c := New(Options{Synthesizer: ms, Player: player, Announcer: ann, Settings: neuralSettings()})
	defer c.Close()

	if err := c.Speak("First line.\nSecond line.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}
	first := player.next(t)
	waitFor(t, "prefetch to start", func() bool { return ms.CallCount() == 2 })

	if err := c.SkipNext(); err != nil {
		t.Fatal(err)
	}
	close(release)

	second := player.next(t)
	if !first.isStopped() {
		t.Fatal("skip did not stop the current playback")
	}
	if player.payloads[1] != "audio:Second line." {
		t.Fatalf("played %q after skip", player.payloads[1])
	}
	// The cancelled prefetch was replaced by a fresh synthesis call.
	if ms.CallCount() != 3 {
		t.Fatalf("synthesis calls = %d, want 3", ms.CallCount())
	}
	second.finish(nil)
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })
	if ann.count() != 0 {
		t.Fatalf("skip produced %d announcements", ann.count())
	}
}

func TestSkipPreviousAtFirstLineGoesIdle(t *testing.T) {
	ms := &synth.MockSynthesizer{}
	player := newFakePlayer()

	c := New(Options{Synthesizer: ms, Player: player, Settings: neuralSettings()})
	defer c.Close()

	if err := c.Speak("Only line.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}
	player.next(t)
	if err := c.SkipPrevious(); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestSkipWhileIdleFails(t *testing.T) {
	c := New(Options{Synthesizer: &synth.MockSynthesizer{}, Player: newFakePlayer(), Settings: neuralSettings()})
	defer c.Close()
	if err := c.SkipNext(); err == nil {
		t.Fatal("skip while idle succeeded")
	}
}

func TestPauseResume(t *testing.T) {
	ms := &synth.MockSynthesizer{}
	player := newFakePlayer()

	c := New(Options{Synthesizer: ms, Player: player, Settings: neuralSettings()})
	defer c.Close()

	if err := c.Pause(); err == nil {
		t.Fatal("pause while idle succeeded")
	}

	if err := c.Speak("A line to pause.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}
	pb := player.next(t)
	waitFor(t, "speaking", func() bool { return c.State() == StateSpeaking })

	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StatePaused || !pb.paused {
		t.Fatal("pause did not suspend playback")
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateSpeaking || pb.paused {
		t.Fatal("resume did not continue playback")
	}
	pb.finish(nil)
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })
}

func TestLocalPauseRejected(t *testing.T) {
	sp := &blockingSpeaker{}
	settings := config.Default()
	settings.Engine = config.EngineLocal

	c := New(Options{Speaker: sp, Settings: settings})
	defer c.Close()

	if err := c.Speak("Spoken locally.", queue.SourceSelection); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "speaking", func() bool { return c.State() == StateSpeaking })

	err := c.Pause()
	if !errors.Is(err, synth.ErrPauseUnsupported) {
		t.Fatalf("pause = %v, want ErrPauseUnsupported", err)
	}
	if got := c.State(); got != StateSpeaking {
		t.Fatalf("state changed to %v after rejected pause", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v after stop", got)
	}
	waitFor(t, "speaker stopped", sp.stoppedOrCancelled)
}

func (s *blockingSpeaker) stoppedOrCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func TestStopDiscardsEverything(t *testing.T) {
	ms := &synth.MockSynthesizer{}
	player := newFakePlayer()
	ann := &recordingAnnouncer{}

	c := New(Options{Synthesizer: ms, Player: player, Announcer: ann, Settings: neuralSettings()})
	defer c.Close()

	if err := c.Speak("One.\nTwo.\nThree.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}
	pb := player.next(t)

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if !pb.isStopped() {
		t.Fatal("stop left playback running")
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v after stop", got)
	}

	// The stopped playback's completion must not resurrect the old queue.
	time.Sleep(50 * time.Millisecond)
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v after stale completion", got)
	}
	if ann.count() != 0 {
		t.Fatalf("stop produced %d announcements", ann.count())
	}
}

func TestSpeakSupersedesCurrentQueue(t *testing.T) {
	ms := &synth.MockSynthesizer{}
	player := newFakePlayer()

	c := New(Options{Synthesizer: ms, Player: player, Settings: neuralSettings()})
	defer c.Close()

	if err := c.Speak("Old text.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}
	old := player.next(t)

	if err := c.Speak("New text.", queue.SourceSelection); err != nil {
		t.Fatal(err)
	}
	replacement := player.next(t)
	if !old.isStopped() {
		t.Fatal("new request did not stop the old playback")
	}
	if player.payloads[1] != "audio:New text." {
		t.Fatalf("played %q, want the replacement", player.payloads[1])
	}
	replacement.finish(nil)
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })
}

func TestEmptyTextLandsIdle(t *testing.T) {
	ms := &synth.MockSynthesizer{}
	c := New(Options{Synthesizer: ms, Player: newFakePlayer(), Settings: neuralSettings()})
	defer c.Close()

	if err := c.Speak("   \n\t\n", queue.SourceOCR); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v for empty text", got)
	}
	if ms.CallCount() != 0 {
		t.Fatal("empty text reached the synthesizer")
	}
}

func TestLineDelayStillReachesIdle(t *testing.T) {
	ms := &synth.MockSynthesizer{}
	player := newFakePlayer()
	settings := neuralSettings()
	settings.LineDelayMs = 20

	c := New(Options{Synthesizer: ms, Player: player, Settings: settings})
	defer c.Close()

	if err := c.Speak("One.\nTwo.", queue.SourceClipboard); err != nil {
		t.Fatal(err)
	}
	player.next(t).finish(nil)
	player.next(t).finish(nil)
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })
}

func TestRateConfirmationSpoken(t *testing.T) {
	sp := &synth.MockSpeaker{}
	c := New(Options{Synthesizer: &synth.MockSynthesizer{}, Speaker: sp,
		Player: newFakePlayer(), Settings: neuralSettings()})
	defer c.Close()

	if err := c.SetRate(600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "confirmation", func() bool { return sp.SpokenCount() == 1 })
	sp.Spoken = nil

	if err := c.AdjustRate(config.MaxRateWPM); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "max confirmation", func() bool { return sp.SpokenCount() == 1 })
	if sp.Spoken[0] != "Maximum speed" {
		t.Fatalf("spoke %q at the rate ceiling", sp.Spoken[0])
	}
}

func TestClosedControllerRejectsCalls(t *testing.T) {
	c := New(Options{Synthesizer: &synth.MockSynthesizer{}, Player: newFakePlayer(), Settings: neuralSettings()})
	c.Close()
	if err := c.Speak("anything", queue.SourceClipboard); !errors.Is(err, ErrClosed) {
		t.Fatalf("speak after close = %v, want ErrClosed", err)
	}
}
