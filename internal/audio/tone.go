package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"
)

// fallbackSampleRate is used when the alert tone has to create the device
// itself, before any asset has fixed the rate.
const fallbackSampleRate = 44100

// AlertFrequency is the default pitch of the failure alert tone.
const AlertFrequency = 880.0

// toneReader renders a sine tone as 16-bit stereo PCM with a short linear
// fade at both ends to avoid clicks.
func toneReader(freq float64, d time.Duration, rate int) io.Reader {
	return bytes.NewReader(tonePCM(freq, d, rate))
}

func tonePCM(freq float64, d time.Duration, rate int) []byte {
	frames := int(d.Seconds() * float64(rate))
	fade := rate / 100 // 10ms
	if fade*2 > frames {
		fade = frames / 2
	}
	buf := make([]byte, frames*bytesPerFrame)
	for i := 0; i < frames; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
		gain := 0.4
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if frames-i < fade {
			gain *= float64(frames-i) / float64(fade)
		}
		s := int16(v * gain * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[i*bytesPerFrame:], uint16(s))
		binary.LittleEndian.PutUint16(buf[i*bytesPerFrame+2:], uint16(s))
	}
	return buf
}
