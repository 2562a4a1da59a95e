package audio

import (
	"io"
	"sync"
	"time"
)

// MockDevice is an in-memory Device for tests: players drain their reader on
// a background goroutine without touching real hardware. DrainDelay paces the
// drain so pause and stop can be observed mid-playback.
type MockDevice struct {
	rate       int
	DrainDelay time.Duration

	mu      sync.Mutex
	players []*MockDevicePlayer
}

// NewMockDevice returns a mock device at the given sample rate.
func NewMockDevice(rate int) *MockDevice {
	return &MockDevice{rate: rate}
}

func (d *MockDevice) SampleRate() int { return d.rate }

func (d *MockDevice) NewPlayer(r io.Reader) DevicePlayer {
	p := &MockDevicePlayer{r: r, delay: d.DrainDelay}
	d.mu.Lock()
	d.players = append(d.players, p)
	d.mu.Unlock()
	return p
}

// Players returns every player the device has handed out.
func (d *MockDevice) Players() []*MockDevicePlayer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockDevicePlayer(nil), d.players...)
}

// MockDevicePlayer consumes its reader in the background while "playing".
type MockDevicePlayer struct {
	r     io.Reader
	delay time.Duration

	mu       sync.Mutex
	playing  bool
	closed   bool
	drained  bool
	draining bool
}

func (p *MockDevicePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.drained {
		return
	}
	p.playing = true
	if !p.draining {
		p.draining = true
		go p.drain()
	}
}

func (p *MockDevicePlayer) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

func (p *MockDevicePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.drained
}

func (p *MockDevicePlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.playing = false
	p.mu.Unlock()
	return nil
}

// Drained reports whether the player consumed its whole reader.
func (p *MockDevicePlayer) Drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drained
}

func (p *MockDevicePlayer) drain() {
	buf := make([]byte, 4096)
	for {
		p.mu.Lock()
		closed, playing := p.closed, p.playing
		p.mu.Unlock()
		if closed {
			return
		}
		if !playing {
			time.Sleep(time.Millisecond)
			continue
		}
		_, err := p.r.Read(buf)
		if err == io.EOF {
			p.mu.Lock()
			p.drained = true
			p.playing = false
			p.mu.Unlock()
			return
		}
		if err != nil {
			p.Close()
			return
		}
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
	}
}
