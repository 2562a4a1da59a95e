package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/go-mp3"

	"github.com/ityeti/herald/internal/synth"
)

// ErrBusy is returned when playback is requested while another playback holds
// the device.
var ErrBusy = errors.New("audio player is busy")

const monitorInterval = 25 * time.Millisecond

// decodeFunc turns an asset stream into PCM: reader, sample rate and total
// PCM byte length (-1 if unknown).
type decodeFunc func(r io.Reader) (io.Reader, int, int64, error)

func mp3Decode(r io.Reader) (io.Reader, int, int64, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, 0, err
	}
	return dec, dec.SampleRate(), dec.Length(), nil
}

// Player serializes access to the audio device. All start/pause/resume/stop
// calls come from the playback controller goroutine.
type Player struct {
	mu        sync.Mutex
	dev       Device
	newDevice func(sampleRate int) (Device, error)
	decode    decodeFunc
	current   *Playback
	logger    *log.Logger
}

// NewPlayer returns a player backed by the platform audio device. The device
// is created lazily on first playback, at the sample rate of the first asset.
func NewPlayer() *Player {
	return &Player{
		newDevice: newOtoDevice,
		decode:    mp3Decode,
		logger:    log.WithPrefix("audio"),
	}
}

// NewPlayerWithDevice returns a player on a caller-supplied device. Tests use
// this with a mock device.
func NewPlayerWithDevice(dev Device) *Player {
	return &Player{
		dev:    dev,
		decode: mp3Decode,
		logger: log.WithPrefix("audio"),
	}
}

// Start decodes the asset and begins playback, returning immediately with a
// handle for pause/resume/stop and completion. Returns ErrBusy while a
// previous playback is still active.
func (p *Player) Start(asset *synth.Asset) (*Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && !p.current.finished() {
		return nil, ErrBusy
	}

	f, err := os.Open(asset.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", synth.ErrDevice, err)
	}
	pcm, rate, length, err := p.decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: decode: %v", synth.ErrEmptyAsset, err)
	}

	if err := p.ensureDevice(rate); err != nil {
		f.Close()
		return nil, err
	}

	reader := newTrackingReader(pcm, length)
	pb := &Playback{
		dp:     p.dev.NewPlayer(reader),
		reader: reader,
		rate:   p.dev.SampleRate(),
		closer: f,
		done:   make(chan struct{}),
	}
	pb.dp.Play()
	go pb.monitor()

	p.current = pb
	p.logger.Debug("playback started", "path", asset.Path, "bytes", asset.Size)
	return pb, nil
}

// PlayTone renders a short alert tone straight to the device, bypassing
// synthesis entirely. Last-resort output for the failure announcer.
func (p *Player) PlayTone(freq float64, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && !p.current.finished() {
		return ErrBusy
	}
	if err := p.ensureDevice(fallbackSampleRate); err != nil {
		return err
	}

	reader := newTrackingReader(toneReader(freq, d, p.dev.SampleRate()), -1)
	pb := &Playback{
		dp:     p.dev.NewPlayer(reader),
		reader: reader,
		rate:   p.dev.SampleRate(),
		done:   make(chan struct{}),
	}
	pb.dp.Play()
	go pb.monitor()
	p.current = pb

	<-pb.done
	return pb.Err()
}

func (p *Player) ensureDevice(sampleRate int) error {
	if p.dev != nil {
		if p.dev.SampleRate() != sampleRate {
			return fmt.Errorf("%w: device at %d Hz, asset at %d Hz",
				synth.ErrDevice, p.dev.SampleRate(), sampleRate)
		}
		return nil
	}
	dev, err := p.newDevice(sampleRate)
	if err != nil {
		return fmt.Errorf("%w: %v", synth.ErrDevice, err)
	}
	p.dev = dev
	return nil
}

// Playback is one asset rendering on the device. Owned by the controller
// until it completes or is stopped.
type Playback struct {
	dp     DevicePlayer
	reader *trackingReader
	rate   int
	closer io.Closer

	mu      sync.Mutex
	paused  bool
	stopped bool
	err     error

	done     chan struct{}
	doneOnce sync.Once
}

// Done is closed when playback finishes, whether it drained, failed or was
// stopped.
func (pb *Playback) Done() <-chan struct{} { return pb.done }

// Err returns the device error that ended playback, if any. A stopped or
// fully drained playback reports nil.
func (pb *Playback) Err() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.err
}

// Pause suspends rendering. The device keeps its buffer, so Resume continues
// from the suspended offset without replaying.
func (pb *Playback) Pause() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.stopped {
		return nil
	}
	if !pb.paused {
		pb.dp.Pause()
		pb.paused = true
	}
	return nil
}

// Resume continues a paused playback.
func (pb *Playback) Resume() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.stopped {
		return nil
	}
	if pb.paused {
		pb.paused = false
		pb.dp.Play()
	}
	return nil
}

// Stop halts rendering and releases the device slot.
func (pb *Playback) Stop() {
	pb.mu.Lock()
	if pb.stopped {
		pb.mu.Unlock()
		return
	}
	pb.stopped = true
	pb.mu.Unlock()

	pb.dp.Close()
	pb.finish(nil)
}

// Position reports how much audio has been handed to the device.
func (pb *Playback) Position() time.Duration {
	consumed := pb.reader.position()
	frames := consumed / bytesPerFrame
	return time.Duration(frames) * time.Second / time.Duration(pb.rate)
}

// Paused reports whether playback is currently suspended.
func (pb *Playback) Paused() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.paused
}

func (pb *Playback) finished() bool {
	select {
	case <-pb.done:
		return true
	default:
		return false
	}
}

func (pb *Playback) finish(err error) {
	pb.doneOnce.Do(func() {
		pb.mu.Lock()
		pb.err = err
		pb.mu.Unlock()
		if pb.closer != nil {
			pb.closer.Close()
		}
		close(pb.done)
	})
}

// monitor watches for the playback to drain: the reader exhausted and the
// device no longer rendering.
func (pb *Playback) monitor() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for range ticker.C {
		pb.mu.Lock()
		stopped, paused := pb.stopped, pb.paused
		pb.mu.Unlock()
		if stopped {
			return
		}
		if paused {
			continue
		}
		if pb.reader.exhausted() && !pb.dp.IsPlaying() {
			pb.dp.Close()
			pb.finish(nil)
			return
		}
	}
}

// trackingReader counts PCM bytes handed to the device so position and
// completion can be observed without asking the device.
type trackingReader struct {
	r     io.Reader
	pos   int64
	total int64 // -1 when unknown; completion then relies on EOF
	eof   atomic.Bool
}

func newTrackingReader(r io.Reader, total int64) *trackingReader {
	return &trackingReader{r: r, total: total}
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		atomic.AddInt64(&t.pos, int64(n))
	}
	if err == io.EOF {
		t.eof.Store(true)
	}
	return n, err
}

func (t *trackingReader) position() int64 { return atomic.LoadInt64(&t.pos) }

func (t *trackingReader) exhausted() bool {
	if t.eof.Load() {
		return true
	}
	return t.total >= 0 && atomic.LoadInt64(&t.pos) >= t.total
}
