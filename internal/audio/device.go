// Package audio owns the exclusive output device. One player process-wide,
// one playback at a time; concurrent play attempts are rejected, not queued.
package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// PCM format produced by the MP3 decode step: 16-bit signed little-endian
// stereo.
const (
	channelCount   = 2
	bytesPerFrame  = channelCount * 2
	deviceBufferMs = 100
)

// Device abstracts the platform audio context so playback logic can be
// exercised without a sound card.
type Device interface {
	NewPlayer(r io.Reader) DevicePlayer
	SampleRate() int
}

// DevicePlayer is the slice of the platform player the playback layer uses.
// *oto.Player satisfies it.
type DevicePlayer interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

type otoDevice struct {
	ctx  *oto.Context
	rate int
}

// newOtoDevice creates the platform audio context. oto allows only one
// context per process, so the player caches the device it gets back.
func newOtoDevice(sampleRate int) (Device, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   deviceBufferMs * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("audio context: %w", err)
	}
	<-ready
	log.Debug("audio context ready", "sample_rate", sampleRate, "channels", channelCount)
	return &otoDevice{ctx: ctx, rate: sampleRate}, nil
}

func (d *otoDevice) NewPlayer(r io.Reader) DevicePlayer { return d.ctx.NewPlayer(r) }
func (d *otoDevice) SampleRate() int                    { return d.rate }
